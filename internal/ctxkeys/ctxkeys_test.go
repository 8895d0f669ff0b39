package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	tests := []struct {
		name string
		with func(context.Context, string) context.Context
		get  func(context.Context) (string, bool)
	}{
		{"trace id", WithTraceID, TraceID},
		{"run id", WithRunID, RunID},
		{"executor id", WithExecutorID, ExecutorID},
		{"llm model", WithLLMModel, LLMModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := tt.get(context.Background())
			assert.False(t, ok)

			v, ok := tt.get(tt.with(context.Background(), "abc"))
			assert.True(t, ok)
			assert.Equal(t, "abc", v)

			// 空字符串视为未设置
			_, ok = tt.get(tt.with(context.Background(), ""))
			assert.False(t, ok)
		})
	}
}

func TestContextKeys_Independent(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithExecutorID(ctx, "exec-1")

	run, _ := RunID(ctx)
	exec, _ := ExecutorID(ctx)
	assert.Equal(t, "run-1", run)
	assert.Equal(t, "exec-1", exec)

	_, ok := TraceID(ctx)
	assert.False(t, ok)
}

func TestLogFields(t *testing.T) {
	assert.Empty(t, LogFields(context.Background()))

	ctx := WithTraceID(WithRunID(context.Background(), "run-1"), "trace-9")
	ctx = WithLLMModel(ctx, "gpt-test")
	fields := LogFields(ctx)
	if assert.Len(t, fields, 2) {
		assert.Equal(t, "run_id", fields[0].Key)
		assert.Equal(t, "run-1", fields[0].String)
		assert.Equal(t, "trace_id", fields[1].Key)
		assert.Equal(t, "trace-9", fields[1].String)
	}
}
