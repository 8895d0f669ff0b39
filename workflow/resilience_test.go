package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func flaky(failures int32, calls *atomic.Int32) ExecutorFactory {
	return Instance(NewFuncExecutor("flaky", func(_ context.Context, in string, wc WorkflowContext) error {
		n := calls.Add(1)
		// 失败的尝试也会发送消息，重试前必须被撤销
		wc.SendMessage("attempt")
		if n <= failures {
			return errors.New("flaky failure")
		}
		wc.YieldOutput(in)
		return nil
	}))
}

func TestResilience_RetriesAndRollsBack(t *testing.T) {
	var calls atomic.Int32
	cfg := ResilienceConfig{MaxRetries: 3, RetryDelay: time.Millisecond, FailureThreshold: 5}
	rf := WithResilience(flaky(2, &calls), cfg, zaptest.NewLogger(t))

	var received atomic.Int32
	wf, err := NewBuilder("flaky").
		AddEdge("flaky", "next").
		BindExecutor("flaky", rf.Factory()).
		AddExecutor(NewFuncExecutor("next", func(context.Context, string, WorkflowContext) error {
			received.Add(1)
			return nil
		})).
		Build(stringType)
	require.NoError(t, err)

	run, err := NewEngine().Run(context.Background(), wf, "ok")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []any{"ok"}, run.Outputs())
	assert.Equal(t, int32(1), received.Load(), "sends from failed attempts are discarded")
	assert.Equal(t, CircuitClosed, rf.State())
}

func TestResilience_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	cfg := ResilienceConfig{MaxRetries: 0, FailureThreshold: 2, RecoveryTimeout: time.Hour, HalfOpenMaxProbes: 1}
	rf := WithResilience(flaky(100, &calls), cfg, nil)

	wf, err := NewBuilder("flaky").BindExecutor("flaky", rf.Factory()).Build(stringType)
	require.NoError(t, err)
	engine := NewEngine()

	for i := 0; i < 2; i++ {
		_, err := engine.Run(context.Background(), wf, "x")
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, rf.State())

	_, err = engine.Run(context.Background(), wf, "x")
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "flaky", open.ExecutorID)
	assert.Equal(t, int32(2), calls.Load(), "open circuit short-circuits the executor")
}

func TestResilience_HalfOpenRecovers(t *testing.T) {
	var calls atomic.Int32
	cfg := ResilienceConfig{MaxRetries: 0, FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxProbes: 1}
	rf := WithResilience(flaky(1, &calls), cfg, nil)

	wf, err := NewBuilder("flaky").BindExecutor("flaky", rf.Factory()).Build(stringType)
	require.NoError(t, err)
	engine := NewEngine()

	_, err = engine.Run(context.Background(), wf, "x")
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, rf.State())

	time.Sleep(20 * time.Millisecond)
	run, err := engine.Run(context.Background(), wf, "x")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, run.Outputs())
	assert.Equal(t, CircuitClosed, rf.State())
}

func TestResilience_PreservesCheckpointable(t *testing.T) {
	rf := WithResilience(func() (Executor, error) { return &counterExecutor{}, nil }, DefaultResilienceConfig(), nil)
	exec, err := rf.Factory()()
	require.NoError(t, err)
	_, ok := exec.(Checkpointable)
	assert.True(t, ok)

	plain := WithResilience(Instance(echo("plain")), DefaultResilienceConfig(), nil)
	exec, err = plain.Factory()()
	require.NoError(t, err)
	_, ok = exec.(Checkpointable)
	assert.False(t, ok)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
