// Package router decides which stage runs next. An optional model-backed
// advisor is consulted first; its suggestion is only taken when it is a
// valid, sensible label, and a deterministic rule table always stands
// behind it, so routing never fails.
package router

import (
	"context"
	"fmt"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

const routerAuthor = "router"

// Config tunes the router's loop guards.
type Config struct {
	// MinIterations is the floor below which loop detection stays off.
	MinIterations int
	// RepeatThreshold is how many repeats of one label within the window
	// count as a loop.
	RepeatThreshold int
	// Window is how many recent decisions loop detection examines.
	Window int
}

// DefaultConfig returns the standard loop-guard tuning.
func DefaultConfig() Config {
	return Config{
		MinIterations:   5,
		RepeatThreshold: 3,
		Window:          10,
	}
}

// Decision is the router's verdict for one cycle.
type Decision struct {
	Label     blackboard.Label
	Rationale string
	// Advised is true when the label came from the advisor rather than
	// the deterministic rule table.
	Advised bool
}

// Router picks the next stage from the blackboard state.
type Router struct {
	advisor Advisor
	cfg     Config
}

// New creates a router. advisor may be nil to run purely deterministic.
func New(advisor Advisor, cfg Config) *Router {
	if cfg.MinIterations <= 0 {
		cfg = DefaultConfig()
	}
	return &Router{advisor: advisor, cfg: cfg}
}

// Route examines the state and decides the next stage. It returns a new
// state with the iteration counter bumped and the decision recorded; the
// input state is never mutated. Routing always succeeds: guard rails and
// the deterministic table cover every reachable state.
func (r *Router) Route(ctx context.Context, state *blackboard.State) (*blackboard.State, Decision) {
	s := state.Clone()
	s.NextAction = ""
	s.IterationCount++

	d := r.decide(ctx, s)

	s.RecordDecision(d.Label)
	s.AppendAnnotation(routerAuthor, d.Rationale, map[string]string{
		"decision":  string(d.Label),
		"iteration": fmt.Sprintf("%d", s.IterationCount),
	})
	return s, d
}

func (r *Router) decide(ctx context.Context, s *blackboard.State) Decision {
	// Terminal guards run before anything else, including the advisor.
	if s.Approved {
		return Decision{Label: blackboard.LabelApprove, Rationale: "Session already approved."}
	}
	if s.Halted {
		return Decision{Label: blackboard.LabelHalt, Rationale: "Session is halted awaiting human review."}
	}
	if s.IterationCount >= s.MaxIterations {
		return Decision{
			Label:     blackboard.LabelHalt,
			Rationale: fmt.Sprintf("Iteration limit reached (%d of %d).", s.IterationCount, s.MaxIterations),
		}
	}
	if label, ok := r.detectLoop(s); ok {
		return Decision{
			Label:     blackboard.LabelHalt,
			Rationale: fmt.Sprintf("Loop detected: %s repeated %d times in the last %d decisions.", label, r.cfg.RepeatThreshold, r.cfg.Window),
		}
	}

	if d, ok := r.consultAdvisor(ctx, s); ok {
		return d
	}
	return deterministic(s)
}

// consultAdvisor asks the model for a routing suggestion and vets it. Any
// failure or invalid suggestion is discarded silently; the deterministic
// table takes over.
func (r *Router) consultAdvisor(ctx context.Context, s *blackboard.State) (Decision, bool) {
	if r.advisor == nil {
		return Decision{}, false
	}

	label, rationale, err := r.advisor.Advise(ctx, s)
	if err != nil {
		return Decision{}, false
	}
	if label.Validate() != nil {
		return Decision{}, false
	}
	// The advisor may never approve: only the human gate does that.
	if label == blackboard.LabelApprove {
		return Decision{}, false
	}
	// Nothing to review or debate before a draft exists.
	if s.CurrentVersion == 0 && label != blackboard.LabelGenerate && label != blackboard.LabelHalt {
		return Decision{}, false
	}

	if rationale == "" {
		rationale = fmt.Sprintf("Advisor chose %s.", label)
	}
	return Decision{Label: label, Rationale: rationale, Advised: true}, true
}

// detectLoop reports whether any one label dominates the recent routing
// history.
func (r *Router) detectLoop(s *blackboard.State) (blackboard.Label, bool) {
	if s.IterationCount <= r.cfg.MinIterations {
		return "", false
	}

	log := s.RoutingLog
	if len(log) > r.cfg.Window {
		log = log[len(log)-r.cfg.Window:]
	}

	counts := make(map[blackboard.Label]int, len(log))
	for _, label := range log {
		counts[label]++
		if counts[label] >= r.cfg.RepeatThreshold {
			return label, true
		}
	}
	return "", false
}

// deterministic is the fallback rule table. Order matters: draft first,
// then safety, then clinical, then deliberation, then the human gate.
func deterministic(s *blackboard.State) Decision {
	if s.CurrentVersion == 0 {
		return Decision{Label: blackboard.LabelGenerate, Rationale: "No draft exists yet."}
	}

	for _, axis := range blackboard.ReviewAxes() {
		r, ok := s.Reviews[axis]
		if !ok || r.ReviewedVersion != s.CurrentVersion || r.Status == blackboard.ReviewStatusPending {
			label, _ := blackboard.ReviewLabel(axis)
			return Decision{
				Label:     label,
				Rationale: fmt.Sprintf("Version %d has no current %s review.", s.CurrentVersion, axis),
			}
		}
		if r.Status.Failing() {
			return Decision{
				Label:     blackboard.LabelGenerate,
				Rationale: fmt.Sprintf("The %s review %s version %d; revision needed.", axis, r.Status, r.ReviewedVersion),
			}
		}
	}

	if !s.DebateComplete {
		return Decision{Label: blackboard.LabelDeliberate, Rationale: "All reviews passed; deliberation has not run."}
	}

	return Decision{Label: blackboard.LabelHalt, Rationale: "Pipeline complete; awaiting human approval."}
}
