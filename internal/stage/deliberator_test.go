package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

func TestDeliberatorRunsDebate(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"Critic: tone is good.\nGuardian: safety covered.\nCONSENSUS: ship with a shorter intro.",
	}}
	d := NewDeliberator(llm)

	s := newDraftedState(t)
	s.SetReview(&blackboard.Review{Axis: blackboard.AxisSafety, Status: blackboard.ReviewStatusPassed, ReviewedVersion: 1})
	s.SetReview(&blackboard.Review{Axis: blackboard.AxisClinical, Status: blackboard.ReviewStatusPassed, ReviewedVersion: 1})

	got, err := d.Execute(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, got.DebateComplete)
	require.Len(t, got.Debate, 1)
	assert.Equal(t, "ship with a shorter intro.", got.Debate[0].Consensus)
	assert.Contains(t, llm.lastUser, s.Request)
	assert.Contains(t, llm.lastUser, "safety: passed")

	// Input state untouched.
	assert.False(t, s.DebateComplete)
}

func TestDeliberatorWithoutConsensusMarker(t *testing.T) {
	llm := &fakeLLM{responses: []string{"the board debated at length but wrote no verdict line"}}
	d := NewDeliberator(llm)

	got, err := d.Execute(context.Background(), newDraftedState(t))
	require.NoError(t, err)
	assert.True(t, got.DebateComplete)
	assert.Equal(t, "", got.Debate[0].Consensus)
}

func TestDeliberatorRequiresDraft(t *testing.T) {
	d := NewDeliberator(&fakeLLM{})
	_, err := d.Execute(context.Background(), newSessionState(t))
	assert.Error(t, err)
}

func TestExtractConsensus(t *testing.T) {
	assert.Equal(t, "final call", extractConsensus("debate...\nConsensus: final call"))
	assert.Equal(t, "", extractConsensus("no marker"))
	// Last marker wins when the transcript quotes an earlier one.
	assert.Equal(t, "B", extractConsensus("CONSENSUS: A\nmore debate\nCONSENSUS: B"))
}
