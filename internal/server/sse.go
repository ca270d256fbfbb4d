package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// SSE wire format: one "event: <kind>" line naming the event type, one
// "data: <json>" line carrying the payload, then a blank line. Keepalive
// comments (": ping") hold idle connections open through proxies.

// setSSEHeaders prepares the response for an event stream.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sseWriter frames session events for one client connection. Not safe for
// concurrent use; each stream handler owns exactly one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter wraps the response. Fails if the ResponseWriter cannot
// flush, which SSE requires.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent frames and flushes one event.
func (s *sseWriter) WriteEvent(event *blackboard.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteKeepalive sends an SSE comment to hold the connection open.
func (s *sseWriter) WriteKeepalive() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return fmt.Errorf("failed to write keepalive: %w", err)
	}
	s.flusher.Flush()
	return nil
}
