package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftfoundry/foundry/internal/checkpoint"
	"github.com/draftfoundry/foundry/internal/router"
	"github.com/draftfoundry/foundry/internal/stage"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// scriptedLLM returns queued responses in order across every stage that
// shares it, mirroring one deterministic pipeline run.
type scriptedLLM struct {
	mu    sync.Mutex
	queue []scriptedReply
	calls int

	// gate, when non-nil, blocks the first call until closed. Lets tests
	// attach subscribers before the pipeline races ahead.
	gate <-chan struct{}
}

type scriptedReply struct {
	response string
	err      error
}

func (s *scriptedLLM) Complete(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	gate := s.gate
	s.gate = nil
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.queue) {
		return "", assert.AnError
	}
	reply := s.queue[s.calls]
	s.calls++
	return reply.response, reply.err
}

const (
	safetyPassed    = `{"status": "passed", "findings": [], "recommendations": []}`
	clinicalPassed  = `{"status": "passed", "findings": [], "recommendations": [], "scores": {"empathy": 9, "tone": 8, "structure": 9}}`
	clinicalFlagged = `{"status": "flagged", "findings": ["tone too clinical"], "recommendations": ["warm it up"], "scores": {"empathy": 5, "tone": 4, "structure": 7}}`
	debateWithVerdict = "Critic: looks solid.\nGuardian: agreed.\nCONSENSUS: approve as written."
)

func newTestEngine(t *testing.T, llm stage.LLMClient, maxIterations int) (*Engine, checkpoint.Store) {
	t.Helper()

	store := checkpoint.NewMemoryStore()
	bridge := NewMemoryBridge()

	safety, err := stage.NewReviewer(llm, blackboard.AxisSafety)
	require.NoError(t, err)
	clinical, err := stage.NewReviewer(llm, blackboard.AxisClinical)
	require.NoError(t, err)

	registry, err := stage.NewRegistry(
		stage.NewGenerator(llm),
		safety,
		clinical,
		stage.NewDeliberator(llm),
		stage.NewHalt(),
	)
	require.NoError(t, err)

	engine, err := NewEngine(store, bridge, router.New(nil, router.DefaultConfig()), registry, maxIterations)
	require.NoError(t, err)
	t.Cleanup(engine.Shutdown)

	return engine, store
}

func waitForGate(t *testing.T, engine *Engine, sessionID string) *blackboard.State {
	t.Helper()
	var state *blackboard.State
	require.Eventually(t, func() bool {
		s, err := engine.GetState(context.Background(), sessionID)
		if err != nil {
			return false
		}
		state = s
		return s.AwaitingApproval
	}, 5*time.Second, 10*time.Millisecond, "session never reached the human gate")
	return state
}

func sessionStatus(t *testing.T, engine *Engine, sessionID string) blackboard.SessionStatus {
	t.Helper()
	infos, err := engine.ListSessions(context.Background())
	require.NoError(t, err)
	for _, info := range infos {
		if info.SessionID == sessionID {
			return info.Status
		}
	}
	t.Fatalf("session %s not in registry", sessionID)
	return ""
}

// The canonical run: draft, safety pass, clinical flag, revision, both
// reviews pass, deliberation, halt, human approval with an edit.
func TestPipelineEndToEnd(t *testing.T) {
	llm := &scriptedLLM{queue: []scriptedReply{
		{response: "draft v1"},
		{response: safetyPassed},
		{response: clinicalFlagged},
		{response: "draft v2"},
		{response: safetyPassed},
		{response: clinicalPassed},
		{response: debateWithVerdict},
	}}
	engine, _ := newTestEngine(t, llm, 10)
	ctx := context.Background()

	info, err := engine.CreateSession(ctx, "create a worry-postponement exercise", map[string]string{"audience": "adult"})
	require.NoError(t, err)

	state := waitForGate(t, engine, info.SessionID)

	assert.Equal(t, []blackboard.Label{
		blackboard.LabelGenerate,
		blackboard.LabelReviewSafety,
		blackboard.LabelReviewClinical,
		blackboard.LabelGenerate,
		blackboard.LabelReviewSafety,
		blackboard.LabelReviewClinical,
		blackboard.LabelDeliberate,
		blackboard.LabelHalt,
	}, state.RoutingLog)
	assert.Equal(t, 8, state.IterationCount)
	assert.Equal(t, 2, state.CurrentVersion)
	assert.Equal(t, "draft v2", state.Draft)
	assert.True(t, state.DebateComplete)
	assert.Equal(t, "approve as written.", state.Debate[0].Consensus)
	assert.True(t, state.Halted)
	assert.Empty(t, state.PendingQuestions, "all reviews passed, nothing to ask")
	assert.Equal(t, blackboard.SessionStatusHalted, sessionStatus(t, engine, info.SessionID))

	got, err := engine.Approve(ctx, info.SessionID, "Y", "shortened it")
	require.NoError(t, err)
	assert.Equal(t, "Y", got.FinalOutput)
	assert.True(t, got.Approved)
	assert.False(t, got.AwaitingApproval)
	assert.Equal(t, 3, got.CurrentVersion, "human edit appended as a version")
	assert.Equal(t, "human", got.Versions[2].Author)

	require.Eventually(t, func() bool {
		return sessionStatus(t, engine, info.SessionID) == blackboard.SessionStatusApproved
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIterationLimitForcesHalt(t *testing.T) {
	llm := &scriptedLLM{queue: []scriptedReply{
		{response: "draft v1"},
	}}
	engine, _ := newTestEngine(t, llm, 2)
	ctx := context.Background()

	info, err := engine.CreateSession(ctx, "request", nil)
	require.NoError(t, err)

	state := waitForGate(t, engine, info.SessionID)

	assert.Equal(t, 2, state.IterationCount, "counter never exceeds the limit")
	assert.Equal(t, []blackboard.Label{blackboard.LabelGenerate, blackboard.LabelHalt}, state.RoutingLog)
	assert.True(t, state.Halted)
	assert.False(t, state.Approved)
}

func TestApproveConflicts(t *testing.T) {
	llm := &scriptedLLM{queue: []scriptedReply{
		{response: "draft v1"},
	}}
	engine, _ := newTestEngine(t, llm, 2)
	ctx := context.Background()

	info, err := engine.CreateSession(ctx, "request", nil)
	require.NoError(t, err)
	waitForGate(t, engine, info.SessionID)

	_, err = engine.Approve(ctx, info.SessionID, "", "")
	require.NoError(t, err)

	t.Run("double approve conflicts", func(t *testing.T) {
		_, err := engine.Approve(ctx, info.SessionID, "", "")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("rejected approve mutates nothing", func(t *testing.T) {
		before, err := engine.GetState(ctx, info.SessionID)
		require.NoError(t, err)
		_, _ = engine.Approve(ctx, info.SessionID, "sneaky edit", "")
		after, err := engine.GetState(ctx, info.SessionID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestStageFailureKeepsLastCheckpoint(t *testing.T) {
	llm := &scriptedLLM{queue: []scriptedReply{
		{err: assert.AnError},
	}}
	engine, _ := newTestEngine(t, llm, 10)
	ctx := context.Background()

	info, err := engine.CreateSession(ctx, "request", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sessionStatus(t, engine, info.SessionID) == blackboard.SessionStatusErrored
	}, 5*time.Second, 10*time.Millisecond)

	// The failed stage wrote nothing: the checkpoint is still the
	// pre-router initial state.
	state, err := engine.GetState(ctx, info.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, state.CurrentVersion)
	assert.Equal(t, 0, state.IterationCount)
	assert.Empty(t, state.RoutingLog)
}

func TestCreateSessionRejectsEmptyRequest(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedLLM{}, 10)
	_, err := engine.CreateSession(context.Background(), "", nil)
	assert.Error(t, err)
}

// A halted session survives an engine restart: the new engine resumes it,
// the router re-derives the same halt decision, and approval still works.
func TestHaltedSessionSurvivesRestart(t *testing.T) {
	llm := &scriptedLLM{queue: []scriptedReply{
		{response: "draft v1"},
	}}

	store := checkpoint.NewMemoryStore()
	bridge := NewMemoryBridge()

	newEngineOn := func(t *testing.T) *Engine {
		safety, err := stage.NewReviewer(llm, blackboard.AxisSafety)
		require.NoError(t, err)
		clinical, err := stage.NewReviewer(llm, blackboard.AxisClinical)
		require.NoError(t, err)
		registry, err := stage.NewRegistry(
			stage.NewGenerator(llm), safety, clinical,
			stage.NewDeliberator(llm), stage.NewHalt(),
		)
		require.NoError(t, err)
		engine, err := NewEngine(store, bridge, router.New(nil, router.DefaultConfig()), registry, 2)
		require.NoError(t, err)
		return engine
	}

	ctx := context.Background()

	first := newEngineOn(t)
	info, err := first.CreateSession(ctx, "request", nil)
	require.NoError(t, err)
	waitForGate(t, first, info.SessionID)
	first.Shutdown()

	second := newEngineOn(t)
	t.Cleanup(second.Shutdown)
	require.NoError(t, second.Resume(ctx, info.SessionID))

	state := waitForGate(t, second, info.SessionID)
	assert.True(t, state.Halted)

	got, err := second.Approve(ctx, info.SessionID, "", "")
	require.NoError(t, err)
	assert.True(t, got.Approved)
	assert.Equal(t, "draft v1", got.FinalOutput)
}

func TestResumeRejectsApprovedSession(t *testing.T) {
	llm := &scriptedLLM{queue: []scriptedReply{
		{response: "draft v1"},
	}}
	engine, _ := newTestEngine(t, llm, 2)
	ctx := context.Background()

	info, err := engine.CreateSession(ctx, "request", nil)
	require.NoError(t, err)
	waitForGate(t, engine, info.SessionID)

	_, err = engine.Approve(ctx, info.SessionID, "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e := engine
		e.mu.Lock()
		sess, ok := e.sessions[info.SessionID]
		live := ok && sess.cancel != nil
		e.mu.Unlock()
		return !live
	}, 2*time.Second, 10*time.Millisecond, "loop should exit after approval")

	err = engine.Resume(ctx, info.SessionID)
	assert.Error(t, err)
}

func TestDeleteSessionStopsLoopAndClearsStore(t *testing.T) {
	llm := &scriptedLLM{queue: []scriptedReply{
		{response: "draft v1"},
	}}
	engine, store := newTestEngine(t, llm, 2)
	ctx := context.Background()

	info, err := engine.CreateSession(ctx, "request", nil)
	require.NoError(t, err)
	waitForGate(t, engine, info.SessionID)

	require.NoError(t, engine.DeleteSession(ctx, info.SessionID))

	_, err = store.Get(ctx, info.SessionID)
	assert.True(t, checkpoint.IsNotFound(err))

	err = engine.DeleteSession(ctx, info.SessionID)
	assert.True(t, checkpoint.IsNotFound(err))
}

// Late subscribers catch up from the checkpoint, then ride the live
// stream: the halted event reaches a subscriber attached mid-run.
func TestEventStreamDeliversHaltAndCompletion(t *testing.T) {
	gate := make(chan struct{})
	llm := &scriptedLLM{
		gate: gate,
		queue: []scriptedReply{
			{response: "draft v1"},
			{response: safetyPassed},
			{response: clinicalPassed},
			{response: debateWithVerdict},
		},
	}
	engine, _ := newTestEngine(t, llm, 10)
	ctx := context.Background()

	info, err := engine.CreateSession(ctx, "request", nil)
	require.NoError(t, err)

	// The first model call is gated, so the pipeline cannot outrun the
	// subscription.
	sub, err := engine.Subscribe(ctx, info.SessionID)
	require.NoError(t, err)
	defer sub.Close()
	close(gate)

	// Drive the session the way a streaming client would: approve when
	// the halted event arrives, stop at completion.
	var sawHalted, sawDelta, sawCompleted bool
	var lastSeq int64
	deadline := time.After(5 * time.Second)
	for !sawCompleted {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				t.Fatal("subscription closed before completion")
			}
			assert.Greater(t, event.Seq, lastSeq, "sequence is strictly increasing")
			lastSeq = event.Seq
			switch event.Kind {
			case blackboard.EventContentDelta:
				sawDelta = true
			case blackboard.EventHalted:
				sawHalted = true
				_, err := engine.Approve(ctx, info.SessionID, "", "")
				require.NoError(t, err)
			case blackboard.EventCompleted:
				sawCompleted = true
				assert.Equal(t, "draft v1", event.FinalOutput)
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream events")
		}
	}
	assert.True(t, sawHalted)
	assert.True(t, sawDelta)
}
