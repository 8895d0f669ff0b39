package workflow

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常状态，允许调用
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断状态，直接拒绝
	CircuitOpen
	// CircuitHalfOpen 半开状态，允许探测
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ResilienceConfig 执行器重试与熔断配置
type ResilienceConfig struct {
	// MaxRetries 单条消息失败后的重试次数
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// RetryDelay 首次重试延迟，之后指数增长
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
	// MaxRetryDelay 重试延迟上限
	MaxRetryDelay time.Duration `json:"max_retry_delay" yaml:"max_retry_delay"`
	// FailureThreshold 连续失败（重试耗尽）多少条消息后熔断，0 表示不熔断
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// RecoveryTimeout 熔断后多久进入半开
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	// HalfOpenMaxProbes 半开状态允许的探测次数
	HalfOpenMaxProbes int `json:"half_open_max_probes" yaml:"half_open_max_probes"`
}

// DefaultResilienceConfig 默认配置
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:        2,
		RetryDelay:        200 * time.Millisecond,
		MaxRetryDelay:     5 * time.Second,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitOpenError 熔断器打开时返回
type CircuitOpenError struct {
	ExecutorID string
	Failures   int
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for executor %s: %d consecutive failures, retry after %v",
		e.ExecutorID, e.Failures, e.RetryAfter)
}

// circuitBreaker 在同一个工作流的所有 run 之间共享
type circuitBreaker struct {
	executorID  string
	config      ResilienceConfig
	state       CircuitState
	failures    int
	lastFailure time.Time
	probes      int
	logger      *zap.Logger
	mu          sync.Mutex
}

func (cb *circuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if elapsed := time.Since(cb.lastFailure); elapsed < cb.config.RecoveryTimeout {
			return &CircuitOpenError{ExecutorID: cb.executorID, Failures: cb.failures, RetryAfter: cb.config.RecoveryTimeout - elapsed}
		}
		cb.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
		cb.probes = 1
		return nil
	case CircuitHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			return &CircuitOpenError{ExecutorID: cb.executorID, Failures: cb.failures}
		}
		cb.probes++
	}
	return nil
}

func (cb *circuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state != CircuitClosed {
			cb.transitionTo(CircuitClosed, "probe succeeded")
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailure = time.Now()
	switch cb.state {
	case CircuitClosed:
		if cb.config.FailureThreshold > 0 && cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", cb.failures))
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen, "failure in half-open state")
	}
}

func (cb *circuitBreaker) current() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transitionTo 必须在锁内调用
func (cb *circuitBreaker) transitionTo(state CircuitState, reason string) {
	old := cb.state
	cb.state = state
	cb.logger.Info("circuit breaker state change",
		zap.String("old_state", old.String()),
		zap.String("new_state", state.String()),
		zap.String("reason", reason),
		zap.Int("failures", cb.failures))
}

// ResilientFactory 包装执行器工厂：每条消息失败时按指数退避重试，
// 连续失败达到阈值后熔断。重试前会撤销失败尝试产生的副作用。
type ResilientFactory struct {
	factory ExecutorFactory
	config  ResilienceConfig
	logger  *zap.Logger

	mu      sync.Mutex
	breaker *circuitBreaker
}

// WithResilience 创建 ResilientFactory
func WithResilience(factory ExecutorFactory, config ResilienceConfig, logger *zap.Logger) *ResilientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResilientFactory{factory: factory, config: config, logger: logger}
}

// Factory 返回可传给 Builder.BindExecutor 的工厂
func (f *ResilientFactory) Factory() ExecutorFactory {
	return func() (Executor, error) {
		inner, err := f.factory()
		if err != nil {
			return nil, err
		}
		wrapped := &resilientExecutor{inner: inner, config: f.config, breaker: f.breakerFor(inner.ID()), logger: f.logger}
		if cp, ok := inner.(Checkpointable); ok {
			return &checkpointableResilient{resilientExecutor: wrapped, state: cp}, nil
		}
		return wrapped, nil
	}
}

// State 返回熔断器状态
func (f *ResilientFactory) State() CircuitState {
	f.mu.Lock()
	b := f.breaker
	f.mu.Unlock()
	if b == nil {
		return CircuitClosed
	}
	return b.current()
}

func (f *ResilientFactory) breakerFor(id string) *circuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.breaker == nil {
		f.breaker = &circuitBreaker{
			executorID: id,
			config:     f.config,
			logger:     f.logger.With(zap.String("executor", id)),
		}
	}
	return f.breaker
}

type resilientExecutor struct {
	inner   Executor
	config  ResilienceConfig
	breaker *circuitBreaker
	logger  *zap.Logger
}

func (e *resilientExecutor) ID() string                 { return e.inner.ID() }
func (e *resilientExecutor) InputTypes() []reflect.Type { return e.inner.InputTypes() }

func (e *resilientExecutor) Handle(ctx context.Context, msg any, wc WorkflowContext) error {
	if err := e.breaker.allow(); err != nil {
		return err
	}

	var rollback func()
	if sc, ok := wc.(*stepContext); ok {
		rollback = sc.mark()
	}

	delay := e.config.RetryDelay
	var err error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if rollback != nil {
				rollback()
			}
			e.logger.Warn("retrying executor",
				zap.String("executor", e.inner.ID()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
				e.breaker.record(ctx.Err())
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if e.config.MaxRetryDelay > 0 && delay > e.config.MaxRetryDelay {
				delay = e.config.MaxRetryDelay
			}
		}
		if err = e.inner.Handle(ctx, msg, wc); err == nil {
			break
		}
	}
	e.breaker.record(err)
	return err
}

// checkpointableResilient 在内部执行器可检查点时透传状态
type checkpointableResilient struct {
	*resilientExecutor
	state Checkpointable
}

func (e *checkpointableResilient) SaveState(ctx context.Context) (any, error) {
	return e.state.SaveState(ctx)
}

func (e *checkpointableResilient) RestoreState(ctx context.Context, state *wire.PortableValue) error {
	return e.state.RestoreState(ctx, state)
}
