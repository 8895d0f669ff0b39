package orchestration

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// Option 配置编排
type Option func(*options)

type options struct {
	name       string
	logger     *zap.Logger
	registry   *wire.Registry
	stream     bool
	resilience *workflow.ResilienceConfig
	runOptions []agent.RunOption
}

func newOptions(defaultName string, opts []Option) *options {
	o := &options{name: defaultName, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithName 设置工作流名称
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry 共享 wire 类型注册表（跨进程恢复时需要注册自定义类型）
func WithRegistry(registry *wire.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithStreaming 以流式方式运行参与者，增量片段作为 EventExecutor 事件发出
func WithStreaming() Option {
	return func(o *options) { o.stream = true }
}

// WithRetry 用重试与熔断包装每个参与者执行器
func WithRetry(cfg workflow.ResilienceConfig) Option {
	return func(o *options) { o.resilience = &cfg }
}

// WithAgentRunOptions 为每次参与者运行追加选项
func WithAgentRunOptions(opts ...agent.RunOption) Option {
	return func(o *options) { o.runOptions = append(o.runOptions, opts...) }
}

func (o *options) builder(start string) *workflow.Builder {
	b := workflow.NewBuilder(start).WithName(o.name).WithLogger(o.logger)
	if o.registry != nil {
		b.WithRegistry(o.registry)
	}
	return b
}

// participant 为参与者创建执行器工厂，按需包装重试
func (o *options) participant(m Member, reply bool, extra ...agent.RunOption) workflow.ExecutorFactory {
	runOpts := append(append([]agent.RunOption(nil), o.runOptions...), extra...)
	factory := func() (workflow.Executor, error) {
		return NewAgentExecutor(m.Name, m.Agent,
			withReply(reply),
			withStream(o.stream),
			withRunOptions(runOpts...),
		), nil
	}
	if o.resilience == nil {
		return factory
	}
	return workflow.WithResilience(factory, *o.resilience, o.logger).Factory()
}
