package workflow

import (
	"context"
	"time"
)

// EventType 工作流事件类型
type EventType string

const (
	EventRunStarted         EventType = "run_started"
	EventExecutorInvoked    EventType = "executor_invoked"
	EventExecutorCompleted  EventType = "executor_completed"
	EventExecutorFailed     EventType = "executor_failed"
	EventExecutor           EventType = "executor_event"
	EventOutput             EventType = "output"
	EventRequestInfo        EventType = "request_info"
	EventSuperstepCompleted EventType = "superstep_completed"
	EventCheckpoint         EventType = "checkpoint"
	EventStatus             EventType = "status"
)

// Event 是运行过程中发出的事件。EventExecutor 携带执行器自定义的中间数据
// （例如 Agent 的流式片段），不参与图路由。
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	ExecutorID string    `json:"executor_id,omitempty"`
	Superstep  int       `json:"superstep"`
	Data       any       `json:"data,omitempty"`
	Error      error     `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventEmitter 接收工作流事件；调用是串行的。
type EventEmitter func(Event)

type eventEmitterKey struct{}

// WithEventEmitter 将事件接收器放入 context，Engine.Run / Resume 会从中读取。
func WithEventEmitter(ctx context.Context, emitter EventEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, eventEmitterKey{}, emitter)
}

func eventEmitterFromContext(ctx context.Context) (EventEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(eventEmitterKey{}).(EventEmitter)
	return emit, ok && emit != nil
}
