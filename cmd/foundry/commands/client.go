package commands

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// apiClient wraps the foundryd HTTP API for the CLI commands.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{},
	}
}

type createPayload struct {
	Request       string            `json:"request"`
	Hints         map[string]string `json:"hints,omitempty"`
	MaxIterations int               `json:"max_iterations,omitempty"`
}

type approvePayload struct {
	EditedDraft string `json:"edited_draft,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *apiClient) createSession(ctx context.Context, request string, hints map[string]string, maxIterations int) (*blackboard.SessionInfo, error) {
	var info blackboard.SessionInfo
	err := c.do(ctx, http.MethodPost, "/api/sessions",
		createPayload{Request: request, Hints: hints, MaxIterations: maxIterations}, &info)
	return &info, err
}

func (c *apiClient) listSessions(ctx context.Context) ([]*blackboard.SessionInfo, error) {
	var infos []*blackboard.SessionInfo
	err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &infos)
	return infos, err
}

func (c *apiClient) getState(ctx context.Context, sessionID string) (*blackboard.State, error) {
	var state blackboard.State
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/state", nil, &state)
	return &state, err
}

func (c *apiClient) approve(ctx context.Context, sessionID, editedDraft, feedback string) (*blackboard.State, error) {
	var state blackboard.State
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/approve",
		approvePayload{EditedDraft: editedDraft, Feedback: feedback}, &state)
	return &state, err
}

func (c *apiClient) deleteSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+sessionID, nil, nil)
}

// stream opens the session's SSE feed and invokes fn for every event until
// the context ends, the server closes the stream, or fn returns false.
func (c *apiClient) stream(ctx context.Context, sessionID string, fn func(*blackboard.Event) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions/"+sessionID+"/stream", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		data, err := readSSEData(reader)
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		var event blackboard.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("failed to parse stream event: %w", err)
		}
		if !fn(&event) {
			return nil
		}
	}
}

// readSSEData reads lines until one complete frame's data payload is
// assembled, skipping keepalive comments.
func readSSEData(r *bufio.Reader) (string, error) {
	var data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\n")

		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			return data, nil
		}
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError preserves the HTTP status so commands can react to specific
// codes (404, 409) with tailored messages.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.msg, e.code)
}

// httpStatus returns the status code carried by err, or 0.
func httpStatus(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

func decodeError(resp *http.Response) error {
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return &statusError{code: resp.StatusCode, msg: apiErr.Error}
	}
	return &statusError{code: resp.StatusCode, msg: "unexpected response"}
}
