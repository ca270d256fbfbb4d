package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// RedisStore is the durable checkpoint backend. Each session's State is
// written as one JSON value under an instance-namespaced key so a read is
// always a complete snapshot; the session registry lives in a hash per
// session plus an index set.
type RedisStore struct {
	rdb          *redis.Client
	instanceName string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRedisStore connects to Redis at the given URL and verifies
// connectivity before returning.
func NewRedisStore(ctx context.Context, redisURL, instanceName string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		rdb:          rdb,
		instanceName: instanceName,
		locks:        make(map[string]*sync.Mutex),
	}, nil
}

// sessionLock returns the writer lock for one session, creating it on
// first use.
func (s *RedisStore) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}

// Put writes the full State as one JSON value, replacing any prior
// snapshot for the session.
func (s *RedisStore) Put(ctx context.Context, state *blackboard.State) error {
	data, err := blackboard.MarshalState(state)
	if err != nil {
		return err
	}

	key := blackboard.StateKey(s.instanceName, state.SessionID)
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint for session %s: %w", state.SessionID, err)
	}

	// Keep the registry's updated timestamp in step with the checkpoint.
	metaKey := blackboard.SessionMetaKey(s.instanceName, state.SessionID)
	if err := s.rdb.HSet(ctx, metaKey, "updated_at_ms", state.UpdatedAtMs).Err(); err != nil {
		return fmt.Errorf("failed to update session %s metadata: %w", state.SessionID, err)
	}
	return nil
}

// Get returns the most recent checkpoint for the session, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*blackboard.State, error) {
	key := blackboard.StateKey(s.instanceName, sessionID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint for session %s: %w", sessionID, err)
	}
	return blackboard.UnmarshalState(data)
}

// Update applies fn under the session's writer lock. The stored snapshot
// only changes if fn succeeds.
func (s *RedisStore) Update(ctx context.Context, sessionID string, fn func(*blackboard.State) (*blackboard.State, error)) (*blackboard.State, error) {
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

// Register adds a session to the registry index and writes its hash.
func (s *RedisStore) Register(ctx context.Context, info *blackboard.SessionInfo) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("invalid session info: %w", err)
	}

	metaKey := blackboard.SessionMetaKey(s.instanceName, info.SessionID)
	if err := s.rdb.HSet(ctx, metaKey, blackboard.SessionInfoToHash(info)).Err(); err != nil {
		return fmt.Errorf("failed to register session %s: %w", info.SessionID, err)
	}

	indexKey := blackboard.SessionIndexKey(s.instanceName)
	if err := s.rdb.SAdd(ctx, indexKey, info.SessionID).Err(); err != nil {
		return fmt.Errorf("failed to index session %s: %w", info.SessionID, err)
	}
	return nil
}

// SetStatus updates a registered session's status.
func (s *RedisStore) SetStatus(ctx context.Context, sessionID string, status blackboard.SessionStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}

	metaKey := blackboard.SessionMetaKey(s.instanceName, sessionID)
	exists, err := s.rdb.Exists(ctx, metaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check session %s: %w", sessionID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	err = s.rdb.HSet(ctx, metaKey,
		"status", string(status),
		"updated_at_ms", time.Now().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update status for session %s: %w", sessionID, err)
	}
	return nil
}

// List returns every registered session, oldest first.
func (s *RedisStore) List(ctx context.Context) ([]*blackboard.SessionInfo, error) {
	indexKey := blackboard.SessionIndexKey(s.instanceName)
	ids, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	infos := make([]*blackboard.SessionInfo, 0, len(ids))
	for _, id := range ids {
		hash, err := s.rdb.HGetAll(ctx, blackboard.SessionMetaKey(s.instanceName, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read session %s metadata: %w", id, err)
		}
		if len(hash) == 0 {
			// Index entry without a hash: session was partially deleted.
			continue
		}
		info, err := blackboard.HashToSessionInfo(hash)
		if err != nil {
			return nil, fmt.Errorf("corrupt metadata for session %s: %w", id, err)
		}
		infos = append(infos, info)
	}

	sortSessionInfos(infos)
	return infos, nil
}

// Delete removes a session's checkpoint, registry hash and index entry.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	indexKey := blackboard.SessionIndexKey(s.instanceName)
	removed, err := s.rdb.SRem(ctx, indexKey, sessionID).Result()
	if err != nil {
		return fmt.Errorf("failed to deindex session %s: %w", sessionID, err)
	}
	if removed == 0 {
		return ErrNotFound
	}

	err = s.rdb.Del(ctx,
		blackboard.StateKey(s.instanceName, sessionID),
		blackboard.SessionMetaKey(s.instanceName, sessionID),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}

	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
	return nil
}

// Ping verifies Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
