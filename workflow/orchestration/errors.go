package orchestration

import (
	"errors"
	"fmt"
)

var (
	// ErrNoParticipants 编排没有参与者
	ErrNoParticipants = errors.New("orchestration has no participants")
	// ErrDuplicateParticipant 参与者名称重复
	ErrDuplicateParticipant = errors.New("duplicate participant")
	// ErrReservedName 参与者名称与编排内部执行器冲突
	ErrReservedName = errors.New("participant name is reserved")
	// ErrNoPendingResponse 执行器收到恢复消息但没有挂起的后台响应
	ErrNoPendingResponse = errors.New("no pending agent response")
)

// RoutingError 表示 hand-off 目标未注册或不在当前参与者的路由表中。
type RoutingError struct {
	From   string
	Target string
}

func (e *RoutingError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("hand-off routing: unknown target %q", e.Target)
	}
	return fmt.Sprintf("hand-off routing: %s cannot hand off to %q", e.From, e.Target)
}
