// Package checkpoint provides durable keyed storage of session State.
// One backend is chosen at startup via configuration; the orchestrator
// writes a checkpoint after every stage application so any session can be
// resumed from its last completed stage.
package checkpoint

import (
	"context"
	"errors"
	"sort"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// ErrNotFound is returned when no checkpoint exists for a session id.
var ErrNotFound = errors.New("checkpoint: session not found")

// Store is the checkpoint contract. Implementations must guarantee that
// Get returns a fully-formed snapshot (never a partial write) and that
// Put is most-recent-wins. Independent sessions require no cross-session
// coordination; Update enforces single-writer-per-session discipline.
type Store interface {
	// Put durably writes the full State, replacing any previous snapshot.
	Put(ctx context.Context, state *blackboard.State) error

	// Get returns the most recently written State for the session.
	// Returns ErrNotFound if the session has no checkpoint.
	Get(ctx context.Context, sessionID string) (*blackboard.State, error)

	// Update applies fn as a read-modify-write against the current
	// snapshot, holding the session's writer lock for the duration.
	// If fn returns an error the checkpoint is left untouched.
	Update(ctx context.Context, sessionID string, fn func(*blackboard.State) (*blackboard.State, error)) (*blackboard.State, error)

	// Register adds a session to the registry.
	Register(ctx context.Context, info *blackboard.SessionInfo) error

	// SetStatus updates a session's registry status.
	// Returns ErrNotFound for unknown sessions.
	SetStatus(ctx context.Context, sessionID string, status blackboard.SessionStatus) error

	// List returns all registered sessions, oldest first.
	List(ctx context.Context) ([]*blackboard.SessionInfo, error)

	// Delete removes a session's checkpoint and registry entry.
	Delete(ctx context.Context, sessionID string) error

	// Ping verifies backend connectivity. Useful for health checks.
	Ping(ctx context.Context) error

	// Close releases backend resources. Implements io.Closer.
	Close() error
}

// IsNotFound returns true if the error indicates a missing session.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// sortSessionInfos orders sessions oldest first, breaking timestamp ties
// by id for a stable listing.
func sortSessionInfos(infos []*blackboard.SessionInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAtMs != infos[j].StartedAtMs {
			return infos[i].StartedAtMs < infos[j].StartedAtMs
		}
		return infos[i].SessionID < infos[j].SessionID
	})
}
