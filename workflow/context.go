package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WorkflowContext 是执行器在处理一条消息时与引擎交互的唯一入口。
// 发送的消息、输出与状态写入在当前超步结束时统一生效。
type WorkflowContext interface {
	RunID() string
	ExecutorID() string
	Superstep() int

	// SendMessage 沿出边发送消息；指定 targets 时只投递给其中的目标
	SendMessage(msg any, targets ...string)
	// YieldOutput 产出工作流输出
	YieldOutput(output any)
	// AddEvent 发出中间事件（进度、流式片段），不参与路由
	AddEvent(data any)
	// RequestInfo 请求外部输入并挂起当前分支，返回的 token 会出现在 run 的待处理列表中
	RequestInfo(request any) ResumptionToken

	// ReadState 读取共享作用域状态，能读到本执行器在当前超步中的写入
	ReadState(scope, key string) (any, bool)
	WriteState(scope, key string, value any)
	ClearScope(scope string)

	Logger() *zap.Logger
}

// ReadStateAs 以 T 读取共享状态；从检查点恢复的未解析值会按需解析。
func ReadStateAs[T any](wc WorkflowContext, scope, key string) (T, bool, error) {
	var zero T
	v, ok := wc.ReadState(scope, key)
	if !ok {
		return zero, false, nil
	}
	typed, err := valueAs[T](v)
	if err != nil {
		return zero, true, err
	}
	return typed, true, nil
}

type stateOp struct {
	scope string
	key   string
	value any
	clear bool
}

type sentMessage struct {
	msg     any
	targets []string
}

// outbox 收集一个执行器在一个超步内的全部副作用。
// 只会被该执行器所属的 actor 访问。
type outbox struct {
	sends    []sentMessage
	outputs  []any
	writes   []stateOp
	requests []ResumptionToken
	err      error
}

// sharedState 是 (scope, key) -> value 的共享状态，只在超步边界被修改。
type sharedState struct {
	mu     sync.RWMutex
	scopes map[string]map[string]any
}

func newSharedState() *sharedState {
	return &sharedState{scopes: make(map[string]map[string]any)}
}

func (s *sharedState) get(scope, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scopes[scope][key]
	return v, ok
}

func (s *sharedState) apply(op stateOp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op.clear {
		delete(s.scopes, op.scope)
		return
	}
	m, ok := s.scopes[op.scope]
	if !ok {
		m = make(map[string]any)
		s.scopes[op.scope] = m
	}
	m[op.key] = op.value
}

// each 按 scope、key 字典序遍历
func (s *sharedState) each(fn func(scope, key string, value any) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scopes := make([]string, 0, len(s.scopes))
	for sc := range s.scopes {
		scopes = append(scopes, sc)
	}
	sort.Strings(scopes)
	for _, sc := range scopes {
		keys := make([]string, 0, len(s.scopes[sc]))
		for k := range s.scopes[sc] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := fn(sc, k, s.scopes[sc][k]); err != nil {
				return err
			}
		}
	}
	return nil
}

type stepContext struct {
	x   *execution
	ctx context.Context
	id  string
	box *outbox
}

func (c *stepContext) RunID() string      { return c.x.run.ID() }
func (c *stepContext) ExecutorID() string { return c.id }
func (c *stepContext) Superstep() int     { return c.x.superstep + 1 }

func (c *stepContext) SendMessage(msg any, targets ...string) {
	c.box.sends = append(c.box.sends, sentMessage{msg: msg, targets: append([]string(nil), targets...)})
}

func (c *stepContext) YieldOutput(output any) {
	c.box.outputs = append(c.box.outputs, output)
}

func (c *stepContext) AddEvent(data any) {
	c.x.emit(Event{Type: EventExecutor, ExecutorID: c.id, Data: data})
}

func (c *stepContext) RequestInfo(request any) ResumptionToken {
	tok := ResumptionToken{
		ID:         uuid.NewString(),
		RunID:      c.x.run.ID(),
		ExecutorID: c.id,
		Request:    request,
	}
	c.box.requests = append(c.box.requests, tok)
	return tok
}

func (c *stepContext) ReadState(scope, key string) (any, bool) {
	for i := len(c.box.writes) - 1; i >= 0; i-- {
		w := c.box.writes[i]
		if w.scope != scope {
			continue
		}
		if w.clear {
			return nil, false
		}
		if w.key == key {
			return w.value, true
		}
	}
	return c.x.shared.get(scope, key)
}

func (c *stepContext) WriteState(scope, key string, value any) {
	c.box.writes = append(c.box.writes, stateOp{scope: scope, key: key, value: value})
}

func (c *stepContext) ClearScope(scope string) {
	c.box.writes = append(c.box.writes, stateOp{scope: scope, clear: true})
}

// mark 记录当前 outbox 位置，返回的函数撤销之后的全部副作用
func (c *stepContext) mark() func() {
	sends, outputs := len(c.box.sends), len(c.box.outputs)
	writes, requests := len(c.box.writes), len(c.box.requests)
	return func() {
		c.box.sends = c.box.sends[:sends]
		c.box.outputs = c.box.outputs[:outputs]
		c.box.writes = c.box.writes[:writes]
		c.box.requests = c.box.requests[:requests]
	}
}

func (c *stepContext) Logger() *zap.Logger {
	return c.x.logger.With(zap.String("executor", c.id))
}
