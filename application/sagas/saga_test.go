package sagas_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reconcileedit/application/sagas"
)

type counter struct {
	calls []string
}

func TestSaga_Execute_RunsStepsInOrder(t *testing.T) {
	saga := sagas.NewSaga[counter]("Ordered", zap.NewNop()).
		AddStep("a", func(ctx context.Context, c *counter) error { c.calls = append(c.calls, "a"); return nil }).
		AddStep("b", func(ctx context.Context, c *counter) error { c.calls = append(c.calls, "b"); return nil })

	state := &counter{}
	require.NoError(t, saga.Execute(context.Background(), state))

	assert.Equal(t, []string{"a", "b"}, state.calls)
	assert.Equal(t, sagas.SagaStateCompleted, saga.GetState())
	assert.Equal(t, 2, saga.CompletedSteps())
}

func TestSaga_Execute_StopsAtFirstFailure(t *testing.T) {
	boom := stderrors.New("boom")
	saga := sagas.NewSaga[counter]("FailFast", zap.NewNop()).
		AddStep("a", func(ctx context.Context, c *counter) error { c.calls = append(c.calls, "a"); return nil }).
		AddStep("b", func(ctx context.Context, c *counter) error { return boom }).
		AddStep("c", func(ctx context.Context, c *counter) error { c.calls = append(c.calls, "c"); return nil })

	state := &counter{}
	err := saga.Execute(context.Background(), state)

	require.ErrorIs(t, err, boom)
	var stepErr *sagas.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "b", stepErr.Step)
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, []string{"a"}, state.calls)
	assert.Equal(t, sagas.SagaStateFailed, saga.GetState())
	assert.Equal(t, 1, saga.CompletedSteps())
}
