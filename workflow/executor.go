package workflow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

// Executor 是图中的节点：按声明的类型接收消息，通过 WorkflowContext 发送结果。
// 同一个执行器实例的 Handle 永远不会被并发调用。
type Executor interface {
	// ID 返回在 run 内稳定的执行器标识
	ID() string
	// InputTypes 返回接受的消息类型；为空表示接受任意消息
	InputTypes() []reflect.Type
	// Handle 处理一条消息
	Handle(ctx context.Context, msg any, wc WorkflowContext) error
}

// Checkpointable 由拥有私有状态的执行器实现。
// SaveState 的返回值经 wire 编码写入检查点；恢复时以 PortableValue 交回。
type Checkpointable interface {
	SaveState(ctx context.Context) (any, error)
	RestoreState(ctx context.Context, state *wire.PortableValue) error
}

// ExecutorFactory 为每个 run 创建一个新的执行器实例。
type ExecutorFactory func() (Executor, error)

// Instance 将已有实例包装为 ExecutorFactory。
// 所有 run 共享同一个实例，只适合无状态执行器。
func Instance(e Executor) ExecutorFactory {
	return func() (Executor, error) { return e, nil }
}

// HandlerFunc 是类型化的消息处理函数
type HandlerFunc[T any] func(ctx context.Context, msg T, wc WorkflowContext) error

// FuncExecutor 用函数实现 Executor，接受类型为 T 的消息。
type FuncExecutor[T any] struct {
	id string
	fn HandlerFunc[T]
}

// NewFuncExecutor 创建函数执行器
func NewFuncExecutor[T any](id string, fn HandlerFunc[T]) *FuncExecutor[T] {
	return &FuncExecutor[T]{id: id, fn: fn}
}

func (e *FuncExecutor[T]) ID() string { return e.id }

func (e *FuncExecutor[T]) InputTypes() []reflect.Type {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		return nil
	}
	return []reflect.Type{t}
}

func (e *FuncExecutor[T]) Handle(ctx context.Context, msg any, wc WorkflowContext) error {
	typed, ok := msg.(T)
	if !ok && msg != nil {
		return fmt.Errorf("executor %s: unexpected message type %T", e.id, msg)
	}
	return e.fn(ctx, typed, wc)
}

// NewTransformExecutor 创建把输入映射为输出并发送给下游的执行器。
func NewTransformExecutor[In, Out any](id string, fn func(ctx context.Context, in In) (Out, error)) *FuncExecutor[In] {
	return NewFuncExecutor(id, func(ctx context.Context, in In, wc WorkflowContext) error {
		out, err := fn(ctx, in)
		if err != nil {
			return err
		}
		wc.SendMessage(out)
		return nil
	})
}

// acceptsType 判断类型列表是否接受类型 t
func acceptsType(accepted []reflect.Type, t reflect.Type) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, a := range accepted {
		if t == nil {
			if a.Kind() == reflect.Interface {
				return true
			}
			continue
		}
		if a == t || (a.Kind() == reflect.Interface && t.Implements(a)) {
			return true
		}
	}
	return false
}
