package blackboard

import (
	"fmt"

	"github.com/google/uuid"
)

// Label identifies a pipeline stage. The label set is fixed and
// domain-declared: the router only ever selects from these values, and the
// set is not extensible at runtime.
type Label string

const (
	// LabelGenerate revises the working draft and appends a version.
	LabelGenerate Label = "generate"

	// LabelReviewSafety runs the safety review axis.
	LabelReviewSafety Label = "review_safety"

	// LabelReviewClinical runs the clinical-quality review axis.
	LabelReviewClinical Label = "review_clinical"

	// LabelDeliberate synthesizes review findings into a debate transcript.
	LabelDeliberate Label = "deliberate"

	// LabelHalt stops the pipeline for human review (terminal).
	LabelHalt Label = "halt"

	// LabelApprove finalizes the draft after human approval (terminal).
	LabelApprove Label = "approve"
)

// Validate checks if the Label is a valid enum value.
func (l Label) Validate() error {
	switch l {
	case LabelGenerate, LabelReviewSafety, LabelReviewClinical,
		LabelDeliberate, LabelHalt, LabelApprove:
		return nil
	default:
		return fmt.Errorf("unknown stage label: %q", l)
	}
}

// IsTerminal reports whether the label ends the orchestration loop.
func (l Label) IsTerminal() bool {
	return l == LabelHalt || l == LabelApprove
}

// Review axes, in their fixed declared order. The safety axis is always
// reviewed first, and safety failures preempt all other failure classes
// when re-routing to the generator.
const (
	AxisSafety   = "safety"
	AxisClinical = "clinical"
)

// ReviewAxes returns the declared review axes in routing order.
func ReviewAxes() []string {
	return []string{AxisSafety, AxisClinical}
}

// ReviewLabel returns the stage label for a review axis.
func ReviewLabel(axis string) (Label, error) {
	switch axis {
	case AxisSafety:
		return LabelReviewSafety, nil
	case AxisClinical:
		return LabelReviewClinical, nil
	default:
		return "", fmt.Errorf("unknown review axis: %q", axis)
	}
}

// ReviewStatus is the outcome of one review axis.
type ReviewStatus string

const (
	// ReviewStatusPending indicates the review has not completed.
	ReviewStatusPending ReviewStatus = "pending"

	// ReviewStatusPassed indicates the draft passed this axis.
	ReviewStatusPassed ReviewStatus = "passed"

	// ReviewStatusFlagged indicates issues that require a revision.
	ReviewStatusFlagged ReviewStatus = "flagged"

	// ReviewStatusCritical indicates severe issues that require a revision.
	ReviewStatusCritical ReviewStatus = "critical"
)

// Validate checks if the ReviewStatus is a valid enum value.
func (rs ReviewStatus) Validate() error {
	switch rs {
	case ReviewStatusPending, ReviewStatusPassed, ReviewStatusFlagged, ReviewStatusCritical:
		return nil
	default:
		return fmt.Errorf("unknown review status: %q", rs)
	}
}

// Failing reports whether the status sends the draft back to the generator.
func (rs ReviewStatus) Failing() bool {
	return rs == ReviewStatusFlagged || rs == ReviewStatusCritical
}

// Review is the result of one named review axis. A reviewer stage replaces
// its axis's review wholesale; reviews are never partially merged.
type Review struct {
	Axis            string             `json:"axis"`
	Status          ReviewStatus       `json:"status"`
	Findings        []string           `json:"findings"`
	Recommendations []string           `json:"recommendations"`
	Scores          map[string]float64 `json:"scores,omitempty"` // e.g. empathy/tone/structure, 0-10
	ReviewedVersion int                `json:"reviewed_version"` // draft version this review applies to
	ReviewedAtMs    int64              `json:"reviewed_at_ms"`
}

// Validate checks if the Review has valid field values.
func (r *Review) Validate() error {
	if _, err := ReviewLabel(r.Axis); err != nil {
		return err
	}
	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid review status: %w", err)
	}
	if r.ReviewedVersion < 1 {
		return fmt.Errorf("invalid reviewed version: must be >= 1, got %d", r.ReviewedVersion)
	}
	return nil
}

// DraftVersion is one entry in the append-only draft version history.
type DraftVersion struct {
	Version     int    `json:"version"`
	Content     string `json:"content"`
	Author      string `json:"author"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// Annotation is one entry in the append-only annotation log. Stages and the
// router record their outcomes and rationale here instead of embedding
// categories in free text.
type Annotation struct {
	Author      string            `json:"author"`
	Message     string            `json:"message"`
	Context     map[string]string `json:"context,omitempty"`
	CreatedAtMs int64             `json:"created_at_ms"`
}

// DebateEntry is one entry in the append-only deliberation transcript.
type DebateEntry struct {
	Transcript  string `json:"transcript"`
	Consensus   string `json:"consensus,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// SessionStatus is the lifecycle state of a session as seen by observers.
// It lives in the session registry, not on State: stage failures mark the
// session errored without touching State's control flags.
type SessionStatus string

const (
	// SessionStatusRunning indicates the orchestration loop is active.
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusHalted indicates the session awaits human approval.
	SessionStatusHalted SessionStatus = "halted"

	// SessionStatusApproved indicates the session was finalized by a human.
	SessionStatusApproved SessionStatus = "approved"

	// SessionStatusErrored indicates a stage failed; the session remains
	// resumable from its last good checkpoint.
	SessionStatusErrored SessionStatus = "errored"
)

// Validate checks if the SessionStatus is a valid enum value.
func (ss SessionStatus) Validate() error {
	switch ss {
	case SessionStatusRunning, SessionStatusHalted, SessionStatusApproved, SessionStatusErrored:
		return nil
	default:
		return fmt.Errorf("unknown session status: %q", ss)
	}
}

// SessionInfo is the registry entry for a session: enough to list sessions
// without loading their full checkpoints.
type SessionInfo struct {
	SessionID   string        `json:"session_id"`
	Status      SessionStatus `json:"status"`
	Request     string        `json:"request"`
	StartedAtMs int64         `json:"started_at_ms"`
	UpdatedAtMs int64         `json:"updated_at_ms"`
}

// Validate checks if the SessionInfo has valid field values.
func (si *SessionInfo) Validate() error {
	if !isValidUUID(si.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if err := si.Status.Validate(); err != nil {
		return fmt.Errorf("invalid session status: %w", err)
	}
	return nil
}

// EventKind identifies a streaming bridge event.
type EventKind string

const (
	// EventContentDelta carries stage-attributed incremental text.
	EventContentDelta EventKind = "content_delta"

	// EventStateSnapshot carries the label and full State after a stage.
	EventStateSnapshot EventKind = "state_snapshot"

	// EventHalted signals the session awaits human approval.
	EventHalted EventKind = "halted"

	// EventCompleted carries the final output after approval.
	EventCompleted EventKind = "completed"

	// EventError signals a session failure (kind + message).
	EventError EventKind = "error"
)

// Validate checks if the EventKind is a valid enum value.
func (ek EventKind) Validate() error {
	switch ek {
	case EventContentDelta, EventStateSnapshot, EventHalted, EventCompleted, EventError:
		return nil
	default:
		return fmt.Errorf("unknown event kind: %q", ek)
	}
}

// Event is one entry in a session's ordered event stream. Seq is assigned
// by the orchestrator and is strictly increasing per session, matching the
// execution order of the loop.
type Event struct {
	Kind        EventKind `json:"kind"`
	SessionID   string    `json:"session_id"`
	Seq         int64     `json:"seq"`
	Stage       Label     `json:"stage,omitempty"`
	Content     string    `json:"content,omitempty"`
	State       *State    `json:"state,omitempty"`
	Questions   []string  `json:"questions,omitempty"`
	FinalOutput string    `json:"final_output,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAtMs int64     `json:"created_at_ms"`
}

// Validate checks if the Event has valid field values.
func (e *Event) Validate() error {
	if err := e.Kind.Validate(); err != nil {
		return err
	}
	if !isValidUUID(e.SessionID) {
		return fmt.Errorf("invalid event session ID: not a valid UUID")
	}
	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
