package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BaSui01/agentgraph/workflow"

// Observer 把引擎度量钩子记录为 OTel 指标，经 OTLP 导出。
// 实现 workflow.Observer。
type Observer struct {
	runs        metric.Int64Counter
	active      metric.Int64UpDownCounter
	runDuration metric.Float64Histogram
	supersteps  metric.Float64Histogram
	executors   metric.Float64Histogram
	execErrors  metric.Int64Counter
	checkpoints metric.Float64Histogram
}

// NewObserver 在 mp 上创建工作流指标
func NewObserver(mp metric.MeterProvider) (*Observer, error) {
	m := mp.Meter(meterName)
	o := &Observer{}
	var err error

	if o.runs, err = m.Int64Counter("agentgraph.workflow.runs",
		metric.WithDescription("Finished workflow runs by status")); err != nil {
		return nil, err
	}
	if o.active, err = m.Int64UpDownCounter("agentgraph.workflow.runs.active",
		metric.WithDescription("Workflow runs in progress")); err != nil {
		return nil, err
	}
	if o.runDuration, err = m.Float64Histogram("agentgraph.workflow.run.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if o.supersteps, err = m.Float64Histogram("agentgraph.workflow.superstep.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if o.executors, err = m.Float64Histogram("agentgraph.workflow.executor.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if o.execErrors, err = m.Int64Counter("agentgraph.workflow.executor.errors"); err != nil {
		return nil, err
	}
	if o.checkpoints, err = m.Float64Histogram("agentgraph.workflow.checkpoint.duration",
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Observer) RunStarted(workflow string) {
	o.active.Add(context.Background(), 1, metric.WithAttributes(attribute.String("workflow", workflow)))
}

func (o *Observer) RunFinished(workflow, status string, duration time.Duration) {
	ctx := context.Background()
	wf := attribute.String("workflow", workflow)
	o.active.Add(ctx, -1, metric.WithAttributes(wf))
	attrs := metric.WithAttributes(wf, attribute.String("status", status))
	o.runs.Add(ctx, 1, attrs)
	o.runDuration.Record(ctx, duration.Seconds(), attrs)
}

func (o *Observer) SuperstepCompleted(workflow string, duration time.Duration) {
	o.supersteps.Record(context.Background(), duration.Seconds(),
		metric.WithAttributes(attribute.String("workflow", workflow)))
}

func (o *Observer) ExecutorInvoked(workflow, executorID string, duration time.Duration, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("executor", executorID),
	)
	o.executors.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		o.execErrors.Add(ctx, 1, attrs)
	}
}

func (o *Observer) CheckpointCommitted(workflow string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	o.checkpoints.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String("workflow", workflow),
		attribute.String("result", result),
	))
}
