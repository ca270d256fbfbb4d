package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// MemoryStore is a volatile, in-process checkpoint backend. It honors the
// same contract as RedisStore but loses everything on restart, so it must
// be explicitly opted into at configuration time.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*blackboard.State
	metas  map[string]*blackboard.SessionInfo

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*blackboard.State),
		metas:  make(map[string]*blackboard.SessionInfo),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) sessionLock(sessionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Put stores a deep copy so later caller mutations cannot corrupt the
// checkpoint.
func (s *MemoryStore) Put(ctx context.Context, state *blackboard.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.SessionID] = state.Clone()
	if meta, ok := s.metas[state.SessionID]; ok {
		meta.UpdatedAtMs = state.UpdatedAtMs
	}
	return nil
}

// Get returns a deep copy of the stored snapshot, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*blackboard.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// Update applies fn under the session's writer lock.
func (s *MemoryStore) Update(ctx context.Context, sessionID string, fn func(*blackboard.State) (*blackboard.State, error)) (*blackboard.State, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next, err := fn(state)
	if err != nil {
		return nil, err
	}

	if err := s.Put(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Register adds a session to the registry.
func (s *MemoryStore) Register(ctx context.Context, info *blackboard.SessionInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *info
	s.metas[info.SessionID] = &cp
	return nil
}

// SetStatus updates a registered session's status.
func (s *MemoryStore) SetStatus(ctx context.Context, sessionID string, status blackboard.SessionStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.metas[sessionID]
	if !ok {
		return ErrNotFound
	}
	meta.Status = status
	meta.UpdatedAtMs = time.Now().UnixMilli()
	return nil
}

// List returns every registered session, oldest first.
func (s *MemoryStore) List(ctx context.Context) ([]*blackboard.SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]*blackboard.SessionInfo, 0, len(s.metas))
	for _, meta := range s.metas {
		cp := *meta
		infos = append(infos, &cp)
	}
	sortSessionInfos(infos)
	return infos, nil
}

// Delete removes a session's checkpoint and registry entry.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metas[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.metas, sessionID)
	delete(s.states, sessionID)

	s.lockMu.Lock()
	delete(s.locks, sessionID)
	s.lockMu.Unlock()
	return nil
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error {
	return nil
}
