package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

const deliberatorAuthor = "deliberator"

const deliberatorSystemPrompt = `You moderate a clinical review board
debating a self-help exercise before it is finalized. Run a systematic
debate covering effectiveness, personalization, professional standards,
tone, safety compliance and structure. All arguments must be specific and
constructive.

End the transcript with a line starting with "CONSENSUS:" followed by the
board's agreed final-polish recommendations.`

// Deliberator runs the pre-finalization debate once both review axes have
// passed. It appends the transcript to the debate log and marks the
// deliberation complete so the router can halt for human approval.
type Deliberator struct {
	llm LLMClient
}

// NewDeliberator creates the debate stage.
func NewDeliberator(llm LLMClient) *Deliberator {
	return &Deliberator{llm: llm}
}

func (d *Deliberator) Label() blackboard.Label {
	return blackboard.LabelDeliberate
}

// Execute runs one debate round and marks deliberation complete.
func (d *Deliberator) Execute(ctx context.Context, state *blackboard.State) (*blackboard.State, error) {
	s := state.Clone()

	if s.CurrentVersion == 0 {
		return nil, &ExecutionError{Stage: d.Label(), Err: fmt.Errorf("no draft to deliberate on")}
	}

	s.AppendAnnotation(deliberatorAuthor,
		"Facilitating the review board debate on the draft before finalizing.",
		map[string]string{"action": "deliberate"})

	transcript, err := d.llm.Complete(ctx, deliberatorSystemPrompt, d.buildPrompt(s))
	if err != nil {
		return nil, &ExecutionError{Stage: d.Label(), Err: err}
	}

	entry := blackboard.DebateEntry{
		Transcript:  transcript,
		Consensus:   extractConsensus(transcript),
		CreatedAtMs: nowMs(),
	}
	s.AppendDebate(entry)
	s.DebateComplete = true

	s.AppendAnnotation(deliberatorAuthor,
		fmt.Sprintf("Debate complete (%d characters of transcript).", len(transcript)),
		map[string]string{"action": "deliberate_complete"})

	return s, nil
}

func (d *Deliberator) buildPrompt(s *blackboard.State) string {
	var b strings.Builder

	b.WriteString("DRAFT UNDER REVIEW:\n")
	b.WriteString(truncate(s.Draft, 2000))
	b.WriteString("\n\nREVIEW RESULTS:\n")
	for _, axis := range blackboard.ReviewAxes() {
		if r, ok := s.Reviews[axis]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", axis, r.Status)
		} else {
			fmt.Fprintf(&b, "- %s: not completed\n", axis)
		}
	}

	if notes := recentNoteContext(s, 10); notes != "" {
		b.WriteString("\nRECENT NOTES:\n")
		b.WriteString(notes)
	}

	b.WriteString("\n\nORIGINAL REQUEST: ")
	b.WriteString(s.Request)
	b.WriteString("\n\nRun the debate and end with the consensus line.")
	return b.String()
}

// extractConsensus returns the text after the last "CONSENSUS:" marker, or
// "" when the transcript carries none.
func extractConsensus(transcript string) string {
	idx := strings.LastIndex(strings.ToUpper(transcript), "CONSENSUS:")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(transcript[idx+len("CONSENSUS:"):])
}
