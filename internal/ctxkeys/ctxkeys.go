// Package ctxkeys 定义运行期在 context 中传递的标识：run、执行器、trace 与模型覆盖。
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

type key int

const (
	traceIDKey key = iota
	runIDKey
	executorIDKey
	llmModelKey
)

// logKeys 决定 LogFields 输出的字段名与顺序
var logKeys = []struct {
	k    key
	name string
}{
	{runIDKey, "run_id"},
	{executorIDKey, "executor_id"},
	{traceIDKey, "trace_id"},
}

func with(ctx context.Context, k key, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// get 空字符串视为未设置
func get(ctx context.Context, k key) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

// WithTraceID 绑定当前执行器 span 的 trace id
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, traceIDKey, traceID)
}

func TraceID(ctx context.Context) (string, bool) { return get(ctx, traceIDKey) }

// WithRunID 绑定工作流运行 id
func WithRunID(ctx context.Context, runID string) context.Context {
	return with(ctx, runIDKey, runID)
}

func RunID(ctx context.Context) (string, bool) { return get(ctx, runIDKey) }

// WithExecutorID 绑定正在处理消息的执行器 id
func WithExecutorID(ctx context.Context, id string) context.Context {
	return with(ctx, executorIDKey, id)
}

func ExecutorID(ctx context.Context) (string, bool) { return get(ctx, executorIDKey) }

// WithLLMModel 覆盖 Agent 配置中的模型名
func WithLLMModel(ctx context.Context, model string) context.Context {
	return with(ctx, llmModelKey, model)
}

func LLMModel(ctx context.Context) (string, bool) { return get(ctx, llmModelKey) }

// LogFields 把已设置的 run / executor / trace 标识转成 zap 字段
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, lk := range logKeys {
		if v, ok := get(ctx, lk.k); ok {
			fields = append(fields, zap.String(lk.name, v))
		}
	}
	return fields
}
