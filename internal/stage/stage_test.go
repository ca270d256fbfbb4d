package stage

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// fakeLLM returns scripted responses in order. Records the last prompt pair
// so tests can assert on what the stage asked for.
type fakeLLM struct {
	responses  []string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeLLM) Complete(ctx context.Context, system, user string) (string, error) {
	f.lastSystem = system
	f.lastUser = user
	if f.err != nil {
		return "", f.err
	}
	if f.calls >= len(f.responses) {
		return "", fmt.Errorf("fake LLM exhausted after %d calls", f.calls)
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func newSessionState(t *testing.T) *blackboard.State {
	t.Helper()
	return blackboard.NewState(uuid.New().String(), "create a worry-postponement exercise", nil, 10)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	llm := &fakeLLM{}
	_, err := NewRegistry(NewGenerator(llm), NewGenerator(llm))
	assert.Error(t, err)
}

func TestRegistryGet(t *testing.T) {
	llm := &fakeLLM{}
	reg, err := NewRegistry(NewGenerator(llm), NewHalt())
	require.NoError(t, err)

	s, err := reg.Get(blackboard.LabelGenerate)
	require.NoError(t, err)
	assert.Equal(t, blackboard.LabelGenerate, s.Label())

	_, err = reg.Get(blackboard.LabelDeliberate)
	assert.Error(t, err)
}
