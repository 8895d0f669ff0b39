package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 工作流指标收集器
// =============================================================================

// Collector 把引擎度量钩子记录为 Prometheus 指标，实现 workflow.Observer。
type Collector struct {
	// 运行指标
	runsTotal   *prometheus.CounterVec
	runsActive  *prometheus.GaugeVec
	runDuration *prometheus.HistogramVec

	// 超步指标
	superstepsTotal   *prometheus.CounterVec
	superstepDuration *prometheus.HistogramVec

	// 执行器指标
	executorInvocations *prometheus.CounterVec
	executorDuration    *prometheus.HistogramVec

	// 检查点指标
	checkpointCommits  *prometheus.CounterVec
	checkpointDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 在 reg 上注册指标；reg 为 nil 时使用 prometheus.DefaultRegisterer。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 运行指标
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of finished workflow runs",
		},
		[]string{"workflow", "status"},
	)

	c.runsActive = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_runs_active",
			Help:      "Number of workflow runs in progress",
		},
		[]string{"workflow"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds, until completion or suspension",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"workflow", "status"},
	)

	// 超步指标
	c.superstepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_supersteps_total",
			Help:      "Total number of completed supersteps",
		},
		[]string{"workflow"},
	)

	c.superstepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_superstep_duration_seconds",
			Help:      "Superstep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	// 执行器指标
	c.executorInvocations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_invocations_total",
			Help:      "Total number of executor handler invocations",
		},
		[]string{"workflow", "executor", "result"},
	)

	c.executorDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_duration_seconds",
			Help:      "Executor handler duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"workflow", "executor"},
	)

	// 检查点指标
	c.checkpointCommits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_commits_total",
			Help:      "Total number of checkpoint commits",
		},
		[]string{"workflow", "result"},
	)

	c.checkpointDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_commit_duration_seconds",
			Help:      "Checkpoint commit duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 workflow.Observer
// =============================================================================

// RunStarted 记录运行开始
func (c *Collector) RunStarted(workflow string) {
	c.runsActive.WithLabelValues(workflow).Inc()
}

// RunFinished 记录运行结束或挂起
func (c *Collector) RunFinished(workflow, status string, duration time.Duration) {
	c.runsActive.WithLabelValues(workflow).Dec()
	c.runsTotal.WithLabelValues(workflow, status).Inc()
	c.runDuration.WithLabelValues(workflow, status).Observe(duration.Seconds())
}

func (c *Collector) SuperstepCompleted(workflow string, duration time.Duration) {
	c.superstepsTotal.WithLabelValues(workflow).Inc()
	c.superstepDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

func (c *Collector) ExecutorInvoked(workflow, executorID string, duration time.Duration, err error) {
	c.executorInvocations.WithLabelValues(workflow, executorID, result(err)).Inc()
	c.executorDuration.WithLabelValues(workflow, executorID).Observe(duration.Seconds())
}

func (c *Collector) CheckpointCommitted(workflow string, duration time.Duration, err error) {
	c.checkpointCommits.WithLabelValues(workflow, result(err)).Inc()
	c.checkpointDuration.WithLabelValues(workflow).Observe(duration.Seconds())
	if err != nil {
		c.logger.Debug("checkpoint commit failed", zap.String("workflow", workflow), zap.Error(err))
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
