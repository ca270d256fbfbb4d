package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

const generatorAuthor = "generator"

const generatorSystemPrompt = `You design structured self-help exercises.
Produce COMPLETE, ready-to-use documents: no placeholders, no empty tables,
no "fill this in" language.

Requirements:
- Evidence-based techniques with specific durations, ratings and frequencies.
- Warm, supportive, conversational tone.
- Clear steps, progression criteria and a filled-in tracking template.
- Valid markdown with proper headings, lists and tables.
- Main content first, brief instructions after, tracking template last.`

// Generator creates the first draft or revises the current one based on
// failing review findings and deliberation insight. It is the only stage
// that writes draft versions.
type Generator struct {
	llm LLMClient
}

// NewGenerator creates the draft-writing stage.
func NewGenerator(llm LLMClient) *Generator {
	return &Generator{llm: llm}
}

func (g *Generator) Label() blackboard.Label {
	return blackboard.LabelGenerate
}

// Execute produces a new draft version. When failing reviews exist it edits
// the current draft against their findings; otherwise it creates version 1
// from the session request.
func (g *Generator) Execute(ctx context.Context, state *blackboard.State) (*blackboard.State, error) {
	s := state.Clone()

	instructions := revisionInstructions(s)
	revising := s.CurrentVersion > 0 && instructions != ""

	var action string
	if revising {
		s.AppendAnnotation(generatorAuthor,
			"Reviewing feedback and deliberation insight before editing the draft.",
			map[string]string{"action": "plan_revision"})
		action = "edit"
	} else {
		s.AppendAnnotation(generatorAuthor,
			"Creating the initial draft from the session request.",
			map[string]string{"action": "plan_create"})
		action = "create"
	}

	prompt := g.buildPrompt(s, instructions, revising)
	content, err := g.llm.Complete(ctx, generatorSystemPrompt, prompt)
	if err != nil {
		return nil, &ExecutionError{Stage: g.Label(), Err: err}
	}
	if strings.TrimSpace(content) == "" {
		return nil, &ExecutionError{Stage: g.Label(), Err: fmt.Errorf("model returned an empty draft")}
	}

	v := s.AppendVersion(generatorAuthor, content)
	s.AppendAnnotation(generatorAuthor,
		fmt.Sprintf("Completed draft version %d (%d characters).", v.Version, len(content)),
		map[string]string{"action": action, "version": fmt.Sprintf("%d", v.Version)})

	return s, nil
}

func (g *Generator) buildPrompt(s *blackboard.State, instructions string, revising bool) string {
	var b strings.Builder

	if revising {
		b.WriteString("Edit the following exercise to address the feedback.\n\n")
		b.WriteString("CURRENT DRAFT:\n")
		b.WriteString(s.Draft)
		b.WriteString("\n\nFEEDBACK TO FIX:\n")
		b.WriteString(instructions)
	} else {
		b.WriteString("Create an exercise for this request.\n\n")
		b.WriteString("REQUEST: ")
		b.WriteString(s.Request)
	}

	if len(s.Hints) > 0 {
		b.WriteString("\n\nUSER DETAILS:\n")
		for k, v := range s.Hints {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}

	if insight := latestDebateInsight(s); insight != "" {
		b.WriteString("\n\nDELIBERATION INSIGHT:\n")
		b.WriteString(insight)
	}

	if notes := recentNoteContext(s, 5); notes != "" {
		b.WriteString("\n\nCONTEXT:\n")
		b.WriteString(notes)
	}

	b.WriteString("\n\nOUTPUT: the complete exercise, nothing else.")
	return b.String()
}

// revisionInstructions flattens the failing reviews into an edit brief,
// safety findings first.
func revisionInstructions(s *blackboard.State) string {
	var b strings.Builder
	for _, r := range s.FailingReviews() {
		fmt.Fprintf(&b, "%s CONCERNS:\n", strings.ToUpper(r.Axis))
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- Recommendation: %s\n", rec)
		}
	}
	return b.String()
}

func latestDebateInsight(s *blackboard.State) string {
	if len(s.Debate) == 0 {
		return ""
	}
	latest := s.Debate[len(s.Debate)-1]
	if latest.Consensus != "" {
		return latest.Consensus
	}
	return truncate(latest.Transcript, 1000)
}

func recentNoteContext(s *blackboard.State, n int) string {
	notes := s.RecentAnnotations(n)
	lines := make([]string, 0, len(notes))
	for _, note := range notes {
		lines = append(lines, fmt.Sprintf("[%s] %s", note.Author, note.Message))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
