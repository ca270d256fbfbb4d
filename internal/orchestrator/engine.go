// Package orchestrator runs the pipeline loop: route, execute, checkpoint,
// emit. Sessions run concurrently and independently; each one is a single
// goroutine driving the route/execute cycle against the checkpoint store,
// with events fanned out through the bridge.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftfoundry/foundry/internal/checkpoint"
	"github.com/draftfoundry/foundry/internal/router"
	"github.com/draftfoundry/foundry/internal/stage"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// ErrConflict is returned when an approval arrives for a session that is
// not awaiting one. The rejected call mutates nothing.
var ErrConflict = errors.New("session is not awaiting approval")

// ErrSessionActive is returned when Resume targets a session that already
// has a live loop.
var ErrSessionActive = errors.New("session loop is already running")

// session is the engine's in-memory handle on one live loop.
type session struct {
	cancel    context.CancelFunc
	approveCh chan struct{}
	seq       int64
}

// Engine coordinates sessions end to end: creation, the pipeline loop, the
// human gate and teardown.
type Engine struct {
	store         checkpoint.Store
	bridge        Bridge
	router        *router.Router
	stages        stage.Registry
	maxIterations int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

// NewEngine creates an engine. Session loops run under the engine's own
// context so they outlive the HTTP requests that start them; Shutdown stops
// them all.
func NewEngine(store checkpoint.Store, bridge Bridge, r *router.Router, stages stage.Registry, maxIterations int) (*Engine, error) {
	// Every routable, non-terminal label needs a stage. Halt is a stage
	// too: it records why the pipeline parked.
	required := []blackboard.Label{
		blackboard.LabelGenerate, blackboard.LabelReviewSafety,
		blackboard.LabelReviewClinical, blackboard.LabelDeliberate,
		blackboard.LabelHalt,
	}
	for _, label := range required {
		if _, err := stages.Get(label); err != nil {
			return nil, fmt.Errorf("incomplete stage registry: %w", err)
		}
	}
	if maxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be >= 1, got %d", maxIterations)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:         store,
		bridge:        bridge,
		router:        r,
		stages:        stages,
		maxIterations: maxIterations,
		ctx:           ctx,
		cancel:        cancel,
		sessions:      make(map[string]*session),
	}, nil
}

// CreateSession validates the request, checkpoints the initial state,
// registers the session and starts its loop.
func (e *Engine) CreateSession(ctx context.Context, request string, hints map[string]string) (*blackboard.SessionInfo, error) {
	return e.CreateSessionWithLimit(ctx, request, hints, e.maxIterations)
}

// CreateSessionWithLimit creates a session with its own iteration bound
// instead of the engine default.
func (e *Engine) CreateSessionWithLimit(ctx context.Context, request string, hints map[string]string, maxIterations int) (*blackboard.SessionInfo, error) {
	state := blackboard.NewState(uuid.New().String(), request, hints, maxIterations)
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session request: %w", err)
	}

	info := &blackboard.SessionInfo{
		SessionID:   state.SessionID,
		Status:      blackboard.SessionStatusRunning,
		Request:     request,
		StartedAtMs: state.StartedAtMs,
		UpdatedAtMs: state.UpdatedAtMs,
	}

	if err := e.store.Put(ctx, state); err != nil {
		return nil, err
	}
	if err := e.store.Register(ctx, info); err != nil {
		return nil, err
	}

	e.startLoop(state.SessionID)
	e.logEvent("session_created", map[string]interface{}{"session_id": state.SessionID})
	return info, nil
}

// Resume restarts the loop for a checkpointed session, picking up from the
// last completed stage. Used after a daemon restart.
func (e *Engine) Resume(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	_, live := e.sessions[sessionID]
	e.mu.Unlock()
	if live {
		return ErrSessionActive
	}

	state, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.Approved {
		return fmt.Errorf("session %s is already approved", sessionID)
	}

	e.startLoop(sessionID)
	e.logEvent("session_resumed", map[string]interface{}{"session_id": sessionID})
	return nil
}

// startLoop registers the in-memory handle and launches the goroutine.
func (e *Engine) startLoop(sessionID string) {
	loopCtx, cancel := context.WithCancel(e.ctx)

	e.mu.Lock()
	sess := e.ensureSessionLocked(sessionID)
	sess.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runLoop(loopCtx, sessionID)
	}()
}

// ensureSessionLocked returns the session handle, creating a loop-less one
// if needed. Caller holds e.mu.
func (e *Engine) ensureSessionLocked(sessionID string) *session {
	sess, ok := e.sessions[sessionID]
	if !ok {
		sess = &session{approveCh: make(chan struct{}, 1)}
		e.sessions[sessionID] = sess
	}
	return sess
}

// runLoop drives one session: route, execute, checkpoint, emit, repeat
// until a terminal label or a failure.
func (e *Engine) runLoop(ctx context.Context, sessionID string) {
	defer e.dropSession(sessionID)

	state, err := e.store.Get(ctx, sessionID)
	if err != nil {
		e.failSession(ctx, sessionID, "checkpoint_read", err)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		// Baseline for content deltas: annotations the stream has seen.
		seen := len(state.Annotations)

		next, decision := e.router.Route(ctx, state)
		e.logEvent("routed", map[string]interface{}{
			"session_id": sessionID,
			"decision":   string(decision.Label),
			"iteration":  next.IterationCount,
			"advised":    decision.Advised,
		})

		if decision.Label == blackboard.LabelApprove {
			// Approval happened through the gate; the loop just ends.
			return
		}

		if decision.Label == blackboard.LabelHalt && state.AwaitingApproval {
			// Already parked before a restart; skip the halt stage and
			// wait at the gate again.
			if !e.parkForApproval(ctx, sessionID, state) {
				return
			}
			state, err = e.store.Get(ctx, sessionID)
			if err != nil {
				e.failSession(ctx, sessionID, "checkpoint_read", err)
				return
			}
			continue
		}

		st, err := e.stages.Get(decision.Label)
		if err != nil {
			e.failSession(ctx, sessionID, "routing", err)
			return
		}

		applied, err := st.Execute(ctx, next)
		if err != nil {
			// No checkpoint write: the last good snapshot stands.
			e.failSession(ctx, sessionID, "stage_execution", err)
			return
		}

		if err := e.store.Put(ctx, applied); err != nil {
			e.failSession(ctx, sessionID, "checkpoint_write", err)
			return
		}

		e.emitDeltas(ctx, applied, decision.Label, seen)
		e.publish(ctx, &blackboard.Event{
			Kind:      blackboard.EventStateSnapshot,
			SessionID: sessionID,
			Stage:     decision.Label,
			State:     applied,
		})

		if decision.Label == blackboard.LabelHalt {
			if !e.parkForApproval(ctx, sessionID, applied) {
				return
			}
			// Approved while parked; reload and let the router confirm.
			state, err = e.store.Get(ctx, sessionID)
			if err != nil {
				e.failSession(ctx, sessionID, "checkpoint_read", err)
				return
			}
			continue
		}

		state = applied
	}
}

// parkForApproval emits the halted event and blocks until the human gate
// fires or the engine shuts down. Returns true if the session was approved.
func (e *Engine) parkForApproval(ctx context.Context, sessionID string, state *blackboard.State) bool {
	if err := e.store.SetStatus(ctx, sessionID, blackboard.SessionStatusHalted); err != nil {
		e.logEvent("status_update_failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}

	e.publish(ctx, &blackboard.Event{
		Kind:      blackboard.EventHalted,
		SessionID: sessionID,
		Stage:     blackboard.LabelHalt,
		Questions: state.PendingQuestions,
		Message:   "awaiting human approval",
	})

	e.mu.Lock()
	approveCh := e.ensureSessionLocked(sessionID).approveCh
	e.mu.Unlock()

	select {
	case <-approveCh:
		return true
	case <-ctx.Done():
		return false
	}
}

// Approve finalizes a halted session. The transform runs under the store's
// writer lock; a session that is not awaiting approval returns ErrConflict
// with zero mutation. Works directly against the checkpoint, so it also
// approves sessions parked before a daemon restart.
func (e *Engine) Approve(ctx context.Context, sessionID, editedDraft, feedback string) (*blackboard.State, error) {
	updated, err := e.store.Update(ctx, sessionID, func(s *blackboard.State) (*blackboard.State, error) {
		return stage.ApproveState(s, editedDraft, feedback)
	})
	if err != nil {
		if errors.Is(err, stage.ErrNotAwaitingApproval) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if err := e.store.SetStatus(ctx, sessionID, blackboard.SessionStatusApproved); err != nil {
		e.logEvent("status_update_failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}

	e.publish(ctx, &blackboard.Event{
		Kind:        blackboard.EventCompleted,
		SessionID:   sessionID,
		Stage:       blackboard.LabelApprove,
		FinalOutput: updated.FinalOutput,
		State:       updated,
	})

	// Wake the parked loop if one is live. Buffered so a post-restart
	// approval with no loop does not block.
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if ok {
		select {
		case sess.approveCh <- struct{}{}:
		default:
		}
	}

	e.logEvent("session_approved", map[string]interface{}{"session_id": sessionID})
	return updated, nil
}

// GetState returns the session's current checkpoint.
func (e *Engine) GetState(ctx context.Context, sessionID string) (*blackboard.State, error) {
	return e.store.Get(ctx, sessionID)
}

// ListSessions returns the registry, oldest first.
func (e *Engine) ListSessions(ctx context.Context) ([]*blackboard.SessionInfo, error) {
	return e.store.List(ctx)
}

// Subscribe opens a live event stream for one session.
func (e *Engine) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	return e.bridge.Subscribe(ctx, sessionID)
}

// DeleteSession stops the loop if one is live and removes the session's
// checkpoint and registry entry.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()
	if ok && sess.cancel != nil {
		sess.cancel()
	}

	return e.store.Delete(ctx, sessionID)
}

// ResumeAll restarts loops for every session the registry lists as
// running. Called once at daemon startup.
func (e *Engine) ResumeAll(ctx context.Context) error {
	infos, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.Status != blackboard.SessionStatusRunning {
			continue
		}
		if err := e.Resume(ctx, info.SessionID); err != nil && !errors.Is(err, ErrSessionActive) {
			e.logEvent("resume_failed", map[string]interface{}{
				"session_id": info.SessionID, "error": err.Error(),
			})
		}
	}
	return nil
}

// Shutdown stops every session loop and waits for them to exit. Parked
// sessions stay halted in the checkpoint and resume on the next start.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

// failSession records a stage or storage failure: error event, registry
// status, structured log. The last good checkpoint is left standing.
func (e *Engine) failSession(ctx context.Context, sessionID, kind string, cause error) {
	// Use the engine context if the loop's is already cancelled, so the
	// failure still reaches the stream and the registry.
	if ctx.Err() != nil {
		return
	}

	e.publish(ctx, &blackboard.Event{
		Kind:      blackboard.EventError,
		SessionID: sessionID,
		ErrorKind: kind,
		Message:   cause.Error(),
	})

	if err := e.store.SetStatus(ctx, sessionID, blackboard.SessionStatusErrored); err != nil {
		e.logEvent("status_update_failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}

	e.logEvent("session_errored", map[string]interface{}{
		"session_id": sessionID,
		"error_kind": kind,
		"error":      cause.Error(),
	})
}

// emitDeltas publishes one content_delta per annotation added since the
// stream's baseline.
func (e *Engine) emitDeltas(ctx context.Context, state *blackboard.State, label blackboard.Label, seen int) {
	for _, note := range state.Annotations[seen:] {
		e.publish(ctx, &blackboard.Event{
			Kind:      blackboard.EventContentDelta,
			SessionID: state.SessionID,
			Stage:     label,
			Content:   fmt.Sprintf("[%s] %s", note.Author, note.Message),
		})
	}
}

// publish stamps sequence and timestamp and sends the event through the
// bridge. Publish failures are logged and otherwise ignored: the stream is
// best-effort, the checkpoint is the source of truth.
func (e *Engine) publish(ctx context.Context, event *blackboard.Event) {
	e.mu.Lock()
	sess := e.ensureSessionLocked(event.SessionID)
	sess.seq++
	event.Seq = sess.seq
	e.mu.Unlock()

	event.CreatedAtMs = time.Now().UnixMilli()

	if err := e.bridge.Publish(ctx, event); err != nil {
		e.logEvent("publish_failed", map[string]interface{}{
			"session_id": event.SessionID,
			"kind":       string(event.Kind),
			"error":      err.Error(),
		})
	}
}

// dropSession removes the in-memory handle when a loop exits, keeping the
// sequence counter entry so late events stay ordered.
func (e *Engine) dropSession(sessionID string) {
	e.mu.Lock()
	if sess, ok := e.sessions[sessionID]; ok {
		sess.cancel = nil
	}
	e.mu.Unlock()
}

// logEvent emits a structured JSON log line.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "orchestrator"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
