package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Foundry instances to safely coexist on a single Redis
// server.
//
// Key pattern: foundry:{instance_name}:{entity}...
// Channel pattern: foundry:{instance_name}:session:{id}:events

// StateKey returns the Redis key holding a session's checkpointed State.
// Pattern: foundry:{instance_name}:session:{session_id}:state
func StateKey(instanceName, sessionID string) string {
	return fmt.Sprintf("foundry:%s:session:%s:state", instanceName, sessionID)
}

// SessionMetaKey returns the Redis key for a session's registry hash.
// Pattern: foundry:{instance_name}:session:{session_id}:meta
func SessionMetaKey(instanceName, sessionID string) string {
	return fmt.Sprintf("foundry:%s:session:%s:meta", instanceName, sessionID)
}

// SessionIndexKey returns the Redis key for the set of known session ids.
// Pattern: foundry:{instance_name}:sessions
func SessionIndexKey(instanceName string) string {
	return fmt.Sprintf("foundry:%s:sessions", instanceName)
}

// SessionEventsChannel returns the Pub/Sub channel carrying a session's
// ordered event stream.
// Pattern: foundry:{instance_name}:session:{session_id}:events
func SessionEventsChannel(instanceName, sessionID string) string {
	return fmt.Sprintf("foundry:%s:session:%s:events", instanceName, sessionID)
}
