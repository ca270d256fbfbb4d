// Package stage implements the pipeline's stage functions: pure
// state-in/state-out transforms keyed by label. Each stage works on a clone
// of the checkpointed State, records what it did in the annotation log, and
// returns the transformed state for the orchestrator to persist.
package stage

import (
	"context"
	"fmt"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// Stage is one unit of pipeline work. Execute must not mutate its input
// beyond the clone the orchestrator hands it, and must return either a
// transformed state or an error, never a partially-applied mix.
type Stage interface {
	// Label is the routing label this stage answers to.
	Label() blackboard.Label

	// Execute applies the stage's transform to the state.
	Execute(ctx context.Context, state *blackboard.State) (*blackboard.State, error)
}

// ExecutionError wraps a stage failure with the label that failed, so the
// orchestrator can report which stage broke without losing the cause.
type ExecutionError struct {
	Stage blackboard.Label
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Registry maps labels to stages. The orchestrator refuses to start if a
// routable label has no stage bound.
type Registry map[blackboard.Label]Stage

// NewRegistry builds a registry from the given stages, rejecting
// duplicates.
func NewRegistry(stages ...Stage) (Registry, error) {
	r := make(Registry, len(stages))
	for _, s := range stages {
		if _, exists := r[s.Label()]; exists {
			return nil, fmt.Errorf("duplicate stage for label %s", s.Label())
		}
		r[s.Label()] = s
	}
	return r, nil
}

// Get returns the stage bound to the label.
func (r Registry) Get(label blackboard.Label) (Stage, error) {
	s, ok := r[label]
	if !ok {
		return nil, fmt.Errorf("no stage bound to label %s", label)
	}
	return s, nil
}
