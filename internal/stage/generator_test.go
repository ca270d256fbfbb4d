package stage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

func TestGeneratorCreatesFirstDraft(t *testing.T) {
	llm := &fakeLLM{responses: []string{"## Worry Window\nPostpone worries to a 20 minute slot."}}
	g := NewGenerator(llm)

	s := newSessionState(t)
	got, err := g.Execute(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 1, got.CurrentVersion)
	assert.Contains(t, got.Draft, "Worry Window")
	assert.Contains(t, llm.lastUser, s.Request)
	assert.NotContains(t, llm.lastUser, "FEEDBACK TO FIX")

	// Input state untouched.
	assert.Equal(t, 0, s.CurrentVersion)
}

func TestGeneratorRevisesAgainstFailingReviews(t *testing.T) {
	llm := &fakeLLM{responses: []string{"revised draft"}}
	g := NewGenerator(llm)

	s := newSessionState(t)
	s.AppendVersion("generator", "original draft")
	s.SetReview(&blackboard.Review{
		Axis:            blackboard.AxisSafety,
		Status:          blackboard.ReviewStatusFlagged,
		Findings:        []string{"missing disclaimer"},
		Recommendations: []string{"add a disclaimer section"},
		ReviewedVersion: 1,
	})

	got, err := g.Execute(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 2, got.CurrentVersion)
	assert.Equal(t, "revised draft", got.Draft)
	assert.Contains(t, llm.lastUser, "original draft")
	assert.Contains(t, llm.lastUser, "missing disclaimer")
	assert.Contains(t, llm.lastUser, "add a disclaimer section")
}

func TestGeneratorOrdersSafetyFindingsFirst(t *testing.T) {
	llm := &fakeLLM{responses: []string{"revised"}}
	g := NewGenerator(llm)

	s := newSessionState(t)
	s.AppendVersion("generator", "draft")
	s.SetReview(&blackboard.Review{
		Axis: blackboard.AxisClinical, Status: blackboard.ReviewStatusFlagged,
		Findings: []string{"tone too academic"}, ReviewedVersion: 1,
	})
	s.SetReview(&blackboard.Review{
		Axis: blackboard.AxisSafety, Status: blackboard.ReviewStatusCritical,
		Findings: []string{"dangerous instruction"}, ReviewedVersion: 1,
	})

	_, err := g.Execute(context.Background(), s)
	require.NoError(t, err)

	safetyIdx := strings.Index(llm.lastUser, "dangerous instruction")
	clinicalIdx := strings.Index(llm.lastUser, "tone too academic")
	require.GreaterOrEqual(t, safetyIdx, 0)
	require.GreaterOrEqual(t, clinicalIdx, 0)
	assert.Less(t, safetyIdx, clinicalIdx, "safety findings come before clinical findings")
}

func TestGeneratorIncludesDebateConsensus(t *testing.T) {
	llm := &fakeLLM{responses: []string{"polished draft"}}
	g := NewGenerator(llm)

	s := newSessionState(t)
	s.AppendVersion("generator", "draft")
	s.SetReview(&blackboard.Review{
		Axis: blackboard.AxisSafety, Status: blackboard.ReviewStatusFlagged,
		Findings: []string{"fix this"}, ReviewedVersion: 1,
	})
	s.AppendDebate(blackboard.DebateEntry{Transcript: "long transcript", Consensus: "tighten the tracking table"})

	_, err := g.Execute(context.Background(), s)
	require.NoError(t, err)
	assert.Contains(t, llm.lastUser, "tighten the tracking table")
}

func TestGeneratorErrors(t *testing.T) {
	t.Run("wraps model failure", func(t *testing.T) {
		llm := &fakeLLM{err: fmt.Errorf("rate limited")}
		_, err := NewGenerator(llm).Execute(context.Background(), newSessionState(t))
		require.Error(t, err)

		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, blackboard.LabelGenerate, execErr.Stage)
	})

	t.Run("rejects empty draft", func(t *testing.T) {
		llm := &fakeLLM{responses: []string{"   \n"}}
		_, err := NewGenerator(llm).Execute(context.Background(), newSessionState(t))
		assert.Error(t, err)
	})
}
