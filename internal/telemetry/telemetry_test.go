package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/workflow"
)

// saveAndRestoreGlobalProviders 保存全局 provider 并在测试结束时恢复
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

// =============================================================================
// 🧪 Init 测试
// =============================================================================

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.False(t, p.Enabled())
	assert.Equal(t, otel.GetTracerProvider(), p.TracerProvider())
	assert.Equal(t, otel.GetMeterProvider(), p.MeterProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentgraph-test",
		SampleRate:   0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		// 没有 collector，只等待 1s
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.True(t, p.Enabled())
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
	assert.Same(t, p.tp, p.TracerProvider())
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.TracerProvider())
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的版本为 (devel)
	assert.Equal(t, "dev", buildVersion())
}

// =============================================================================
// 📈 Observer 测试
// =============================================================================

var _ workflow.Observer = (*Observer)(nil)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestObserver_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	obs, err := NewObserver(mp)
	require.NoError(t, err)

	obs.RunStarted("orders")
	obs.SuperstepCompleted("orders", 10*time.Millisecond)
	obs.ExecutorInvoked("orders", "validate", time.Millisecond, nil)
	obs.ExecutorInvoked("orders", "charge", time.Millisecond, errors.New("declined"))
	obs.CheckpointCommitted("orders", time.Millisecond, nil)
	obs.RunFinished("orders", "failed", 20*time.Millisecond)

	data := collect(t, reader)

	runs, ok := data["agentgraph.workflow.runs"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(1), runs.DataPoints[0].Value)
	status, _ := runs.DataPoints[0].Attributes.Value(attribute.Key("status"))
	assert.Equal(t, "failed", status.AsString())

	active, ok := data["agentgraph.workflow.runs.active"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	assert.Equal(t, int64(0), active.DataPoints[0].Value)

	execs, ok := data["agentgraph.workflow.executor.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, execs.DataPoints, 2)

	execErrs, ok := data["agentgraph.workflow.executor.errors"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, execErrs.DataPoints, 1)
	executor, _ := execErrs.DataPoints[0].Attributes.Value(attribute.Key("executor"))
	assert.Equal(t, "charge", executor.AsString())

	cps, ok := data["agentgraph.workflow.checkpoint.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, cps.DataPoints, 1)
	assert.Equal(t, uint64(1), cps.DataPoints[0].Count)
}
