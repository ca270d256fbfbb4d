package blackboard

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	return NewState(uuid.New().String(), "create an exposure hierarchy for agoraphobia", nil, 10)
}

func TestNewState(t *testing.T) {
	s := newTestState(t)

	assert.NoError(t, s.Validate())
	assert.Equal(t, 0, s.CurrentVersion)
	assert.Empty(t, s.Versions)
	assert.Empty(t, s.Annotations)
	assert.Empty(t, s.RoutingLog)
	assert.False(t, s.Halted)
	assert.False(t, s.Approved)
	assert.False(t, s.AwaitingApproval)
	assert.Equal(t, 10, s.MaxIterations)
	assert.Greater(t, s.StartedAtMs, int64(0))
}

func TestAppendVersion(t *testing.T) {
	s := newTestState(t)

	v1 := s.AppendVersion("generator", "draft one")
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, "draft one", s.Draft)
	assert.Equal(t, 1, s.CurrentVersion)

	v2 := s.AppendVersion("generator", "draft two")
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "draft two", s.Draft)

	// Version history length always equals the current version number.
	assert.Len(t, s.Versions, s.CurrentVersion)
	assert.NoError(t, s.Validate())
}

func TestSetReviewReplacesWholesale(t *testing.T) {
	s := newTestState(t)
	s.AppendVersion("generator", "draft")

	s.SetReview(&Review{
		Axis:            AxisSafety,
		Status:          ReviewStatusFlagged,
		Findings:        []string{"missing disclaimer"},
		Recommendations: []string{"add disclaimer"},
		ReviewedVersion: 1,
	})
	s.SetReview(&Review{
		Axis:            AxisSafety,
		Status:          ReviewStatusPassed,
		ReviewedVersion: 1,
	})

	r := s.Reviews[AxisSafety]
	require.NotNil(t, r)
	assert.Equal(t, ReviewStatusPassed, r.Status)
	// Replacement, not merge: findings from the earlier review are gone.
	assert.Empty(t, r.Findings)
	assert.Empty(t, r.Recommendations)
}

func TestMissingReviewAxis(t *testing.T) {
	s := newTestState(t)

	t.Run("safety first when nothing reviewed", func(t *testing.T) {
		s.AppendVersion("generator", "v1")
		assert.Equal(t, AxisSafety, s.MissingReviewAxis())
	})

	t.Run("clinical after safety", func(t *testing.T) {
		s.SetReview(&Review{Axis: AxisSafety, Status: ReviewStatusPassed, ReviewedVersion: 1})
		assert.Equal(t, AxisClinical, s.MissingReviewAxis())
	})

	t.Run("none when all current", func(t *testing.T) {
		s.SetReview(&Review{Axis: AxisClinical, Status: ReviewStatusPassed, ReviewedVersion: 1})
		assert.Equal(t, "", s.MissingReviewAxis())
	})

	t.Run("stale reviews count as missing after a new version", func(t *testing.T) {
		s.AppendVersion("generator", "v2")
		assert.Equal(t, AxisSafety, s.MissingReviewAxis())
	})
}

func TestFailingReviewsSafetyFirst(t *testing.T) {
	s := newTestState(t)
	s.AppendVersion("generator", "v1")
	s.SetReview(&Review{Axis: AxisClinical, Status: ReviewStatusFlagged, ReviewedVersion: 1})
	s.SetReview(&Review{Axis: AxisSafety, Status: ReviewStatusCritical, ReviewedVersion: 1})

	failing := s.FailingReviews()
	require.Len(t, failing, 2)
	assert.Equal(t, AxisSafety, failing[0].Axis)
	assert.Equal(t, AxisClinical, failing[1].Axis)
}

func TestAllReviewsPassed(t *testing.T) {
	s := newTestState(t)
	assert.False(t, s.AllReviewsPassed(), "no draft yet")

	s.AppendVersion("generator", "v1")
	assert.False(t, s.AllReviewsPassed())

	s.SetReview(&Review{Axis: AxisSafety, Status: ReviewStatusPassed, ReviewedVersion: 1})
	s.SetReview(&Review{Axis: AxisClinical, Status: ReviewStatusPassed, ReviewedVersion: 1})
	assert.True(t, s.AllReviewsPassed())

	// A new version invalidates earlier passes.
	s.AppendVersion("generator", "v2")
	assert.False(t, s.AllReviewsPassed())
}

func TestRecordDecision(t *testing.T) {
	s := newTestState(t)

	s.RecordDecision(LabelGenerate)
	assert.Equal(t, LabelGenerate, s.NextAction)
	assert.Equal(t, []Label{LabelGenerate}, s.RoutingLog)

	s.RecordDecision(LabelReviewSafety)
	assert.Equal(t, LabelReviewSafety, s.NextAction)
	assert.Equal(t, []Label{LabelGenerate, LabelReviewSafety}, s.RoutingLog)
}

func TestCloneIsDeep(t *testing.T) {
	s := newTestState(t)
	s.Hints = map[string]string{"tone": "warm"}
	s.AppendVersion("generator", "v1")
	s.AppendAnnotation("generator", "created draft", map[string]string{"action": "create"})
	s.SetReview(&Review{
		Axis:            AxisSafety,
		Status:          ReviewStatusFlagged,
		Findings:        []string{"finding"},
		Scores:          map[string]float64{"risk": 3},
		ReviewedVersion: 1,
	})
	s.RecordDecision(LabelGenerate)

	c := s.Clone()

	// Mutating the clone must not leak into the original.
	c.AppendVersion("generator", "v2")
	c.Annotations[0].Context["action"] = "edit"
	c.Reviews[AxisSafety].Findings[0] = "changed"
	c.Reviews[AxisSafety].Scores["risk"] = 9
	c.Hints["tone"] = "clinical"
	c.RecordDecision(LabelHalt)

	assert.Equal(t, 1, s.CurrentVersion)
	assert.Equal(t, "create", s.Annotations[0].Context["action"])
	assert.Equal(t, "finding", s.Reviews[AxisSafety].Findings[0])
	assert.Equal(t, float64(3), s.Reviews[AxisSafety].Scores["risk"])
	assert.Equal(t, "warm", s.Hints["tone"])
	assert.Equal(t, []Label{LabelGenerate}, s.RoutingLog)
}

func TestStateValidate(t *testing.T) {
	t.Run("rejects version history mismatch", func(t *testing.T) {
		s := newTestState(t)
		s.CurrentVersion = 2
		err := s.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "version history length")
	})

	t.Run("rejects review under wrong axis key", func(t *testing.T) {
		s := newTestState(t)
		s.AppendVersion("generator", "v1")
		s.Reviews[AxisSafety] = &Review{Axis: AxisClinical, Status: ReviewStatusPassed, ReviewedVersion: 1}
		assert.Error(t, s.Validate())
	})

	t.Run("rejects empty request", func(t *testing.T) {
		s := NewState(uuid.New().String(), "", nil, 10)
		assert.Error(t, s.Validate())
	})
}

func TestRecentAnnotations(t *testing.T) {
	s := newTestState(t)
	for i := 0; i < 7; i++ {
		s.AppendAnnotation("router", "decision", nil)
	}

	assert.Len(t, s.RecentAnnotations(5), 5)
	assert.Len(t, s.RecentAnnotations(10), 7)
}
