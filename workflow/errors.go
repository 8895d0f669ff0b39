package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow/checkpoint"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

var (
	// ErrMaxSupersteps 运行超过最大超步数（通常是图中存在不收敛的环）
	ErrMaxSupersteps = errors.New("workflow exceeded max supersteps")
	// ErrUnknownToken 恢复时提供的 token 不在待处理列表中
	ErrUnknownToken = errors.New("unknown resumption token")
	// ErrRunInProgress 同一个 run 已有调用在执行
	ErrRunInProgress = errors.New("run already in progress")
	// ErrNoCheckpointStore 恢复需要检查点存储
	ErrNoCheckpointStore = errors.New("engine has no checkpoint store")
	// ErrInputNotAccepted 起始执行器不接受输入类型
	ErrInputNotAccepted = errors.New("start executor does not accept input")
)

// GraphIncompleteError 构建时仍有被引用但未绑定的执行器。
type GraphIncompleteError struct {
	Unbound []string
}

func (e *GraphIncompleteError) Error() string {
	return fmt.Sprintf("workflow graph incomplete: unbound executors [%s]", strings.Join(e.Unbound, ", "))
}

// ExecutorFaultError 包装执行器内部的错误或 panic，附带执行器 ID 与检查点谱系。
type ExecutorFaultError struct {
	ExecutorID string
	RunID      string
	Superstep  int
	Lineage    []checkpoint.Info
	Cause      error
}

func (e *ExecutorFaultError) Error() string {
	last := "none"
	if n := len(e.Lineage); n > 0 {
		last = e.Lineage[n-1].CheckpointID
	}
	return fmt.Sprintf("executor %s failed (run %s, superstep %d, last checkpoint %s): %v",
		e.ExecutorID, e.RunID, e.Superstep, last, e.Cause)
}

func (e *ExecutorFaultError) Unwrap() error {
	return e.Cause
}

// UnroutedMessageError 消息没有被任何边接收且策略为 UnroutedFail。
type UnroutedMessageError struct {
	Source      string
	MessageType string
}

func (e *UnroutedMessageError) Error() string {
	return fmt.Sprintf("message %s from %s was not accepted by any edge", e.MessageType, e.Source)
}

// ErrInvalidTransition 非法的运行状态转换
type ErrInvalidTransition struct {
	From RunStatus
	To   RunStatus
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid run transition: %s -> %s", e.From, e.To)
}

// 工作流错误码
const (
	ErrCodeGraphIncomplete    types.ErrorCode = "GRAPH_INCOMPLETE"
	ErrCodeTypeMismatch       types.ErrorCode = "TYPE_MISMATCH"
	ErrCodeCheckpointNotFound types.ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrCodeExecutorFault      types.ErrorCode = "EXECUTOR_FAULT"
	ErrCodeUnroutedMessage    types.ErrorCode = "UNROUTED_MESSAGE"
)

// ToTypedError 将工作流错误映射为带错误码的 types.Error，未识别的错误返回 nil。
func ToTypedError(err error) *types.Error {
	if err == nil {
		return nil
	}
	var (
		incomplete *GraphIncompleteError
		mismatch   *wire.TypeMismatchError
		notFound   *checkpoint.NotFoundError
		fault      *ExecutorFaultError
		unrouted   *UnroutedMessageError
	)
	switch {
	case errors.As(err, &incomplete):
		return types.NewError(ErrCodeGraphIncomplete, incomplete.Error()).WithCause(err)
	case errors.As(err, &fault):
		return types.NewError(ErrCodeExecutorFault, fault.Error()).WithCause(err)
	case errors.As(err, &mismatch):
		return types.NewError(ErrCodeTypeMismatch, mismatch.Error()).WithCause(err)
	case errors.As(err, &notFound):
		return types.NewError(ErrCodeCheckpointNotFound, notFound.Error()).WithCause(err)
	case errors.As(err, &unrouted):
		return types.NewError(ErrCodeUnroutedMessage, unrouted.Error()).WithCause(err)
	}
	return nil
}
