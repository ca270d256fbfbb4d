package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// ErrNotAwaitingApproval is returned when an approval arrives for a session
// that is not parked at the human gate.
var ErrNotAwaitingApproval = errors.New("session is not awaiting approval")

const gateAuthor = "gatekeeper"

// Halt is the terminal stage that parks a session for human review. It
// requires no model call: it records why the pipeline stopped and what the
// human should look at.
type Halt struct{}

// NewHalt creates the halt stage.
func NewHalt() *Halt {
	return &Halt{}
}

func (h *Halt) Label() blackboard.Label {
	return blackboard.LabelHalt
}

// Execute marks the session halted and awaiting approval, composing
// pending questions from any failing review findings.
func (h *Halt) Execute(ctx context.Context, state *blackboard.State) (*blackboard.State, error) {
	s := state.Clone()

	s.Halted = true
	s.AwaitingApproval = true
	s.PendingQuestions = pendingQuestions(s)

	reason := "pipeline complete"
	if failing := s.FailingReviews(); len(failing) > 0 {
		reason = fmt.Sprintf("%d unresolved review issue(s)", len(failing))
	} else if s.IterationCount >= s.MaxIterations {
		reason = fmt.Sprintf("iteration limit reached (%d)", s.MaxIterations)
	}

	s.AppendAnnotation(gateAuthor,
		fmt.Sprintf("Halted for human review: %s. Awaiting approval.", reason),
		map[string]string{"action": "halt", "reason": reason})

	return s, nil
}

// pendingQuestions turns unresolved review findings into questions for the
// reviewer, safety findings first.
func pendingQuestions(s *blackboard.State) []string {
	var questions []string
	for _, r := range s.FailingReviews() {
		for _, f := range r.Findings {
			questions = append(questions, fmt.Sprintf("[%s] %s", r.Axis, f))
		}
	}
	if len(questions) == 0 && !s.DebateComplete && s.CurrentVersion > 0 {
		questions = append(questions, "Deliberation did not complete. Approve the draft as-is?")
	}
	return questions
}

// ApproveState is the human gate's accept transform. It finalizes the
// session using the human's edited draft when one is supplied, otherwise
// the current draft. Returns ErrNotAwaitingApproval without touching the
// state if the session is not parked at the gate.
func ApproveState(s *blackboard.State, editedDraft, feedback string) (*blackboard.State, error) {
	if !s.AwaitingApproval || s.Approved {
		return nil, ErrNotAwaitingApproval
	}

	out := s.Clone()

	final := out.Draft
	if strings.TrimSpace(editedDraft) != "" {
		final = editedDraft
		out.HumanEditedDraft = editedDraft
		out.AppendVersion("human", editedDraft)
	}
	if feedback != "" {
		out.HumanFeedback = feedback
	}

	out.Approved = true
	out.AwaitingApproval = false
	out.Halted = false
	out.FinalOutput = final
	out.PendingQuestions = nil

	out.AppendAnnotation(gateAuthor,
		"Human approved the draft. Session finalized.",
		map[string]string{"action": "approve", "edited": fmt.Sprintf("%t", out.HumanEditedDraft != "")})

	return out, nil
}
