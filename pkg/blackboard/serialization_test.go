package blackboard

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	s := NewState(uuid.New().String(), "create a worry-postponement exercise", map[string]string{"audience": "adult"}, 8)
	s.AppendVersion("generator", "## Exercise\nPostpone worries to a 20 minute window.")
	s.AppendAnnotation("generator", "created draft version 1", map[string]string{"action": "create"})
	s.SetReview(&Review{
		Axis:            AxisSafety,
		Status:          ReviewStatusPassed,
		Findings:        []string{},
		Recommendations: []string{},
		ReviewedVersion: 1,
		ReviewedAtMs:    time.Now().UnixMilli(),
	})
	s.AppendDebate(DebateEntry{Transcript: "transcript", Consensus: "ship it", CreatedAtMs: time.Now().UnixMilli()})
	s.RecordDecision(LabelReviewClinical)
	s.PendingQuestions = []string{"preferred session length?"}

	data, err := MarshalState(s)
	require.NoError(t, err)

	got, err := UnmarshalState(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestSessionInfoHashRoundTrip(t *testing.T) {
	si := &SessionInfo{
		SessionID:   uuid.New().String(),
		Status:      SessionStatusHalted,
		Request:     "create a sleep hygiene plan",
		StartedAtMs: time.Now().UnixMilli(),
		UpdatedAtMs: time.Now().UnixMilli(),
	}

	hash := SessionInfoToHash(si)

	// Redis returns hashes as string->string; simulate that.
	strHash := make(map[string]string, len(hash))
	for k, v := range hash {
		switch val := v.(type) {
		case string:
			strHash[k] = val
		case int64:
			strHash[k] = strconv.FormatInt(val, 10)
		}
	}

	got, err := HashToSessionInfo(strHash)
	require.NoError(t, err)
	assert.Equal(t, si, got)
}

func TestHashToSessionInfoRejectsBadTimestamp(t *testing.T) {
	_, err := HashToSessionInfo(map[string]string{
		"session_id":    uuid.New().String(),
		"status":        "running",
		"started_at_ms": "not-a-number",
	})
	assert.Error(t, err)
}
