package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for Redis storage.
//
// The full State is stored as one JSON value so a checkpoint read always
// returns a fully-formed snapshot (never a partial write). Session registry
// entries are small and queried field-by-field, so they are stored as Redis
// hashes instead.

// MarshalState encodes a State for checkpoint storage.
func MarshalState(s *State) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return data, nil
}

// UnmarshalState decodes a checkpointed State.
func UnmarshalState(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &s, nil
}

// SessionInfoToHash converts a SessionInfo to Redis hash format.
func SessionInfoToHash(si *SessionInfo) map[string]interface{} {
	return map[string]interface{}{
		"session_id":    si.SessionID,
		"status":        string(si.Status),
		"request":       si.Request,
		"started_at_ms": si.StartedAtMs,
		"updated_at_ms": si.UpdatedAtMs,
	}
}

// HashToSessionInfo converts a Redis hash to a SessionInfo.
func HashToSessionInfo(hash map[string]string) (*SessionInfo, error) {
	startedAtMs, err := strconv.ParseInt(hash["started_at_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid started_at_ms field: %w", err)
	}
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &SessionInfo{
		SessionID:   hash["session_id"],
		Status:      SessionStatus(hash["status"]),
		Request:     hash["request"],
		StartedAtMs: startedAtMs,
		UpdatedAtMs: updatedAtMs,
	}, nil
}
