package workflow

import (
	"fmt"
	"sync"

	"github.com/BaSui01/agentgraph/workflow/checkpoint"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// RunStatus 运行状态
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunSuspended  RunStatus = "suspended"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// validRunTransitions 定义合法的状态转换；Completed 与 Failed 为终态
var validRunTransitions = map[RunStatus][]RunStatus{
	RunNotStarted: {RunRunning},
	RunRunning:    {RunSuspended, RunCompleted, RunFailed},
	RunSuspended:  {RunRunning},
	RunCompleted:  {},
	RunFailed:     {},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to RunStatus) bool {
	for _, s := range validRunTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal 报告状态是否为终态
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ResumptionToken 表示某一步尚未完成，需要外部输入才能继续。
type ResumptionToken struct {
	ID         string `json:"id"`
	RunID      string `json:"run_id"`
	ExecutorID string `json:"executor_id"`
	Request    any    `json:"request,omitempty"`
}

// ResumeResponse 是恢复时投递给发起请求的执行器的消息。
type ResumeResponse struct {
	TokenID string `json:"token_id"`
	Request any    `json:"request,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ResponseAs 以 T 读取恢复数据；数据可能是具体值，也可能是检查点中未解析的 PortableValue。
func ResponseAs[T any](r ResumeResponse) (T, error) {
	return valueAs[T](r.Data)
}

// RequestAs 以 T 读取原始请求
func RequestAs[T any](r ResumeResponse) (T, error) {
	return valueAs[T](r.Request)
}

func valueAs[T any](v any) (T, error) {
	var zero T
	switch tv := v.(type) {
	case nil:
		return zero, nil
	case T:
		return tv, nil
	case *wire.PortableValue:
		return wire.As[T](tv)
	}
	return zero, fmt.Errorf("value of type %T is not %T", v, zero)
}

// Run 是一次运行的句柄
type Run struct {
	mu        sync.RWMutex
	id        string
	workflow  string
	status    RunStatus
	outputs   []any
	tokens    []ResumptionToken
	last      *checkpoint.Info
	lineage   []checkpoint.Info
	superstep int
	err       error
}

func newRun(id, workflow string) *Run {
	return &Run{id: id, workflow: workflow, status: RunNotStarted}
}

// ID 返回 run ID
func (r *Run) ID() string { return r.id }

// Workflow 返回工作流名称
func (r *Run) Workflow() string { return r.workflow }

// Status 返回当前状态
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Outputs 返回本次调用产生的工作流输出
func (r *Run) Outputs() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]any(nil), r.outputs...)
}

// Result 返回最后一个输出
func (r *Run) Result() (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.outputs) == 0 {
		return nil, false
	}
	return r.outputs[len(r.outputs)-1], true
}

// PendingTokens 返回尚未满足的恢复 token
func (r *Run) PendingTokens() []ResumptionToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ResumptionToken(nil), r.tokens...)
}

// LastCheckpoint 返回最近提交的检查点
func (r *Run) LastCheckpoint() (checkpoint.Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return checkpoint.Info{}, false
	}
	return *r.last, true
}

// Lineage 返回从根到最近检查点的谱系
func (r *Run) Lineage() []checkpoint.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]checkpoint.Info(nil), r.lineage...)
}

// Superstep 返回已完成的超步数
func (r *Run) Superstep() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.superstep
}

// Err 返回导致失败的错误
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Run) transition(to RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.status, to) {
		return ErrInvalidTransition{From: r.status, To: to}
	}
	r.status = to
	return nil
}

func (r *Run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if CanTransition(r.status, RunFailed) {
		r.status = RunFailed
	}
	r.err = err
}

func (r *Run) addOutput(v any) {
	r.mu.Lock()
	r.outputs = append(r.outputs, v)
	r.mu.Unlock()
}

func (r *Run) beginInvocation() {
	r.mu.Lock()
	r.outputs = nil
	r.err = nil
	r.mu.Unlock()
}

func (r *Run) setProgress(superstep int, tokens []ResumptionToken, last *checkpoint.Info, lineage []checkpoint.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.superstep = superstep
	r.tokens = append([]ResumptionToken(nil), tokens...)
	if last != nil {
		c := *last
		r.last = &c
	}
	r.lineage = append([]checkpoint.Info(nil), lineage...)
}
