package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// Runner drives a session from request to final output without human
// interaction.
type Runner interface {
	RunToCompletion(ctx context.Context, request string, hints map[string]string) (*blackboard.State, error)
}

// AutoRunner approves every halt automatically, turning the interactive
// pipeline into a one-shot run. Unresolved review findings are accepted
// as-is, so it suits unattended and batch use only.
type AutoRunner struct {
	engine *Engine

	// PollInterval controls how often the checkpoint is re-read while
	// waiting. Zero means the 50ms default.
	PollInterval time.Duration
}

// NewAutoRunner creates a runner on top of the engine.
func NewAutoRunner(engine *Engine) *AutoRunner {
	return &AutoRunner{engine: engine}
}

// RunToCompletion implements Runner. It watches the checkpoint rather than
// the event stream, so it never misses a halt that fires before a
// subscription could attach.
func (r *AutoRunner) RunToCompletion(ctx context.Context, request string, hints map[string]string) (*blackboard.State, error) {
	info, err := r.engine.CreateSession(ctx, request, hints)
	if err != nil {
		return nil, err
	}

	interval := r.PollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		state, err := r.engine.GetState(ctx, info.SessionID)
		if err != nil {
			return nil, err
		}
		if state.Approved {
			return state, nil
		}
		if state.AwaitingApproval {
			if _, err := r.engine.Approve(ctx, info.SessionID, "", ""); err != nil && !errors.Is(err, ErrConflict) {
				return nil, err
			}
			continue
		}

		if r.sessionErrored(ctx, info.SessionID) {
			return nil, fmt.Errorf("session %s errored; see the session's event stream for the cause", info.SessionID)
		}
	}
}

func (r *AutoRunner) sessionErrored(ctx context.Context, sessionID string) bool {
	infos, err := r.engine.ListSessions(ctx)
	if err != nil {
		return false
	}
	for _, info := range infos {
		if info.SessionID == sessionID {
			return info.Status == blackboard.SessionStatusErrored
		}
	}
	return false
}
