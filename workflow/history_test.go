package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/workflow/checkpoint"
)

func TestHistoryRecorder_RecordsRun(t *testing.T) {
	recorder := NewHistoryRecorder()
	ctx := WithEventEmitter(context.Background(), recorder.Emitter())
	engine := NewEngine(WithCheckpointStore(checkpoint.NewMemoryStore()))

	run, err := engine.Run(ctx, buildSequential(t), "abc")
	require.NoError(t, err)

	hist, ok := recorder.Get(run.ID())
	require.True(t, ok)
	assert.Equal(t, RunCompleted, hist.Status)
	assert.Equal(t, 3, hist.Supersteps)
	assert.Len(t, hist.Checkpoints, 3)
	require.Len(t, hist.Executors, 3)
	for i, id := range []string{"A", "B", "C"} {
		assert.Equal(t, id, hist.Executors[i].ExecutorID)
		assert.Equal(t, i+1, hist.Executors[i].Superstep)
		assert.Equal(t, string(RunCompleted), hist.Executors[i].Status)
		assert.Equal(t, "string", hist.Executors[i].Input)
	}
	assert.False(t, hist.EndTime.IsZero())
}

func TestHistoryRecorder_RecordsFailure(t *testing.T) {
	recorder := NewHistoryRecorder()
	ctx := WithEventEmitter(context.Background(), recorder.Emitter())

	wf, err := NewBuilder("A").
		AddExecutor(NewFuncExecutor("A", func(context.Context, string, WorkflowContext) error {
			return errors.New("bad input")
		})).
		Build(stringType)
	require.NoError(t, err)

	run, err := NewEngine().Run(ctx, wf, "x")
	require.Error(t, err)

	hist, ok := recorder.Get(run.ID())
	require.True(t, ok)
	assert.Equal(t, RunFailed, hist.Status)
	assert.Contains(t, hist.Error, "bad input")
	require.Len(t, hist.Executors, 1)
	assert.Equal(t, string(RunFailed), hist.Executors[0].Status)
	assert.Equal(t, "bad input", hist.Executors[0].Error)

	assert.Len(t, recorder.ListByStatus(RunFailed), 1)
	assert.Empty(t, recorder.ListByStatus(RunCompleted))
	assert.Len(t, recorder.ListByTimeRange(time.Now().Add(-time.Minute), time.Now()), 1)
}
