package blackboard

import (
	"fmt"
	"time"
)

// State is the blackboard: the full shared record for one session. Every
// field is named and typed; append-only logs (versions, annotations, debate,
// routing decisions) only ever grow.
//
// Control-flow fields are written by exactly one component each: the router
// owns NextAction, IterationCount, and RoutingLog; the halt and approve
// stages own the control flags; the generator owns the draft and its
// history; each reviewer owns its named entry in Reviews.
type State struct {
	SessionID string            `json:"session_id"`
	Request   string            `json:"request"`
	Hints     map[string]string `json:"hints,omitempty"`

	// Draft management (the shared document).
	Draft          string         `json:"draft"`
	Versions       []DraftVersion `json:"versions"`
	CurrentVersion int            `json:"current_version"`

	// Agent communications.
	Annotations []Annotation `json:"annotations"`

	// Reviews, one named result per axis.
	Reviews map[string]*Review `json:"reviews"`

	// Deliberation.
	Debate         []DebateEntry `json:"debate"`
	DebateComplete bool          `json:"debate_complete"`

	// Workflow control.
	IterationCount   int  `json:"iteration_count"`
	MaxIterations    int  `json:"max_iterations"`
	Halted           bool `json:"halted"`
	AwaitingApproval bool `json:"awaiting_approval"`
	Approved         bool `json:"approved"`

	// Routing. NextAction is written exactly once per cycle by the router
	// and cleared before the next router invocation; RoutingLog is the
	// append-only decision history used for loop detection.
	NextAction Label   `json:"next_action,omitempty"`
	RoutingLog []Label `json:"routing_log"`

	// Human gate.
	PendingQuestions []string `json:"pending_questions,omitempty"`
	FinalOutput      string   `json:"final_output,omitempty"`
	HumanEditedDraft string   `json:"human_edited_draft,omitempty"`
	HumanFeedback    string   `json:"human_feedback,omitempty"`

	StartedAtMs int64 `json:"started_at_ms"`
	UpdatedAtMs int64 `json:"updated_at_ms"`
}

// NewState initializes the blackboard for a new session.
func NewState(sessionID, request string, hints map[string]string, maxIterations int) *State {
	now := time.Now().UnixMilli()
	return &State{
		SessionID:     sessionID,
		Request:       request,
		Hints:         hints,
		Versions:      []DraftVersion{},
		Annotations:   []Annotation{},
		Reviews:       map[string]*Review{},
		Debate:        []DebateEntry{},
		RoutingLog:    []Label{},
		MaxIterations: maxIterations,
		StartedAtMs:   now,
		UpdatedAtMs:   now,
	}
}

// Clone returns a deep copy of the state. Stages and the router always work
// on a clone so an in-flight transform can never corrupt a checkpointed
// snapshot.
func (s *State) Clone() *State {
	c := *s

	if s.Hints != nil {
		c.Hints = make(map[string]string, len(s.Hints))
		for k, v := range s.Hints {
			c.Hints[k] = v
		}
	}

	if s.Versions != nil {
		c.Versions = make([]DraftVersion, len(s.Versions))
		copy(c.Versions, s.Versions)
	}
	if s.Debate != nil {
		c.Debate = make([]DebateEntry, len(s.Debate))
		copy(c.Debate, s.Debate)
	}
	if s.RoutingLog != nil {
		c.RoutingLog = make([]Label, len(s.RoutingLog))
		copy(c.RoutingLog, s.RoutingLog)
	}
	if s.PendingQuestions != nil {
		c.PendingQuestions = make([]string, len(s.PendingQuestions))
		copy(c.PendingQuestions, s.PendingQuestions)
	}

	c.Annotations = make([]Annotation, len(s.Annotations))
	for i, a := range s.Annotations {
		c.Annotations[i] = a
		if a.Context != nil {
			ctx := make(map[string]string, len(a.Context))
			for k, v := range a.Context {
				ctx[k] = v
			}
			c.Annotations[i].Context = ctx
		}
	}

	c.Reviews = make(map[string]*Review, len(s.Reviews))
	for axis, r := range s.Reviews {
		rc := *r
		rc.Findings = append([]string(nil), r.Findings...)
		rc.Recommendations = append([]string(nil), r.Recommendations...)
		if r.Scores != nil {
			rc.Scores = make(map[string]float64, len(r.Scores))
			for k, v := range r.Scores {
				rc.Scores[k] = v
			}
		}
		c.Reviews[axis] = &rc
	}

	return &c
}

// Validate checks the state's structural invariants.
func (s *State) Validate() error {
	if !isValidUUID(s.SessionID) {
		return fmt.Errorf("invalid session ID: not a valid UUID")
	}
	if s.Request == "" {
		return fmt.Errorf("request cannot be empty")
	}
	if len(s.Versions) != s.CurrentVersion {
		return fmt.Errorf("version history length %d does not match current version %d",
			len(s.Versions), s.CurrentVersion)
	}
	if s.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be >= 1, got %d", s.MaxIterations)
	}
	for axis, r := range s.Reviews {
		if r.Axis != axis {
			return fmt.Errorf("review keyed %q carries axis %q", axis, r.Axis)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid %s review: %w", axis, err)
		}
	}
	return nil
}

// AppendAnnotation adds one entry to the annotation log and bumps the
// updated timestamp.
func (s *State) AppendAnnotation(author, message string, context map[string]string) {
	now := time.Now().UnixMilli()
	s.Annotations = append(s.Annotations, Annotation{
		Author:      author,
		Message:     message,
		Context:     context,
		CreatedAtMs: now,
	})
	s.UpdatedAtMs = now
}

// AppendVersion installs new draft content as the next version. The version
// history always stays the same length as CurrentVersion.
func (s *State) AppendVersion(author, content string) DraftVersion {
	now := time.Now().UnixMilli()
	v := DraftVersion{
		Version:     s.CurrentVersion + 1,
		Content:     content,
		Author:      author,
		CreatedAtMs: now,
	}
	s.Draft = content
	s.CurrentVersion = v.Version
	s.Versions = append(s.Versions, v)
	s.UpdatedAtMs = now
	return v
}

// SetReview replaces the named review for its axis. Reviews are replaced
// wholesale, never merged.
func (s *State) SetReview(r *Review) {
	if s.Reviews == nil {
		s.Reviews = map[string]*Review{}
	}
	s.Reviews[r.Axis] = r
	s.UpdatedAtMs = time.Now().UnixMilli()
}

// AppendDebate adds one entry to the deliberation transcript.
func (s *State) AppendDebate(entry DebateEntry) {
	s.Debate = append(s.Debate, entry)
	s.UpdatedAtMs = time.Now().UnixMilli()
}

// RecordDecision appends the router's choice to the routing log and mirrors
// it into the routing field.
func (s *State) RecordDecision(label Label) {
	s.NextAction = label
	s.RoutingLog = append(s.RoutingLog, label)
	s.UpdatedAtMs = time.Now().UnixMilli()
}

// MissingReviewAxis returns the first declared axis whose review is absent
// or stale for the current draft version, or "" when every axis is current.
func (s *State) MissingReviewAxis() string {
	for _, axis := range ReviewAxes() {
		r, ok := s.Reviews[axis]
		if !ok || r.ReviewedVersion != s.CurrentVersion || r.Status == ReviewStatusPending {
			return axis
		}
	}
	return ""
}

// FailingReviews returns reviews of the current version with a failing
// status, in declared axis order (safety first).
func (s *State) FailingReviews() []*Review {
	var failing []*Review
	for _, axis := range ReviewAxes() {
		r, ok := s.Reviews[axis]
		if ok && r.ReviewedVersion == s.CurrentVersion && r.Status.Failing() {
			failing = append(failing, r)
		}
	}
	return failing
}

// AllReviewsPassed reports whether every declared axis passed the current
// draft version.
func (s *State) AllReviewsPassed() bool {
	if s.CurrentVersion == 0 {
		return false
	}
	for _, axis := range ReviewAxes() {
		r, ok := s.Reviews[axis]
		if !ok || r.ReviewedVersion != s.CurrentVersion || r.Status != ReviewStatusPassed {
			return false
		}
	}
	return true
}

// RecentAnnotations returns up to n most recent annotation entries.
func (s *State) RecentAnnotations(n int) []Annotation {
	if n >= len(s.Annotations) {
		return s.Annotations
	}
	return s.Annotations[len(s.Annotations)-n:]
}
