package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed 运行时已关闭
var ErrClosed = errors.New("runtime: closed")

// Envelope 是投递到 actor 邮箱中的消息
type Envelope struct {
	Topic   string
	Source  string
	Payload any
}

// Handler 处理单条消息；同一 actor 的 Handler 调用严格串行。
type Handler func(ctx context.Context, env Envelope) error

// Event 是 actor 发出的中间事件
type Event struct {
	Source  string
	Payload any
}

// EventSink 接收中间事件；调用被串行化。
type EventSink func(Event)

// ActorError 记录 actor 处理消息时返回的错误
type ActorError struct {
	ActorID string
	Topic   string
	Err     error
}

func (e *ActorError) Error() string {
	return fmt.Sprintf("actor %s (topic %s): %v", e.ActorID, e.Topic, e.Err)
}

func (e *ActorError) Unwrap() error {
	return e.Err
}

// Option 配置 Runtime
type Option func(*Runtime)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEventSink 设置中间事件接收器
func WithEventSink(sink EventSink) Option {
	return func(r *Runtime) {
		r.sink = sink
	}
}

// Runtime 管理一组 actor 及其 topic 订阅关系。
type Runtime struct {
	mu     sync.RWMutex
	actors map[string]*actor
	topics map[string][]string
	closed bool

	// 未处理完的消息数，归零即静止
	idleMu   sync.Mutex
	idle     *sync.Cond
	inflight int

	errMu sync.Mutex
	errs  []error

	sinkMu sync.Mutex
	sink   EventSink

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	logger *zap.Logger
}

// New 创建运行时；ctx 取消时所有 actor 停止。
func New(ctx context.Context, opts ...Option) *Runtime {
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	r := &Runtime{
		actors: make(map[string]*actor),
		topics: make(map[string][]string),
		ctx:    gctx,
		cancel: cancel,
		group:  group,
		logger: zap.NewNop(),
	}
	r.idle = sync.NewCond(&r.idleMu)
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "actor_runtime"))
	return r
}

// Spawn 创建 actor 并启动其消息循环。
func (r *Runtime) Spawn(id string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("runtime: nil handler for actor %s", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, exists := r.actors[id]; exists {
		return fmt.Errorf("runtime: actor %s already exists", id)
	}

	a := &actor{
		id:      id,
		handler: handler,
		signal:  make(chan struct{}, 1),
		rt:      r,
	}
	r.actors[id] = a
	r.group.Go(func() error {
		a.loop(r.ctx)
		return nil
	})
	return nil
}

// Subscribe 将 actor 订阅到 topic；重复订阅是幂等的。
func (r *Runtime) Subscribe(topic, actorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.actors[actorID]; !ok {
		return fmt.Errorf("runtime: unknown actor %s", actorID)
	}
	for _, id := range r.topics[topic] {
		if id == actorID {
			return nil
		}
	}
	r.topics[topic] = append(r.topics[topic], actorID)
	return nil
}

// Subscribers 返回 topic 的订阅者（按订阅顺序）
func (r *Runtime) Subscribers(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.topics[topic]...)
}

// Publish 将消息投递给 topic 的全部订阅者，返回投递数量。
func (r *Runtime) Publish(topic, source string, payload any) (int, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return 0, ErrClosed
	}
	subs := r.topics[topic]
	targets := make([]*actor, 0, len(subs))
	for _, id := range subs {
		targets = append(targets, r.actors[id])
	}
	r.mu.RUnlock()

	env := Envelope{Topic: topic, Source: source, Payload: payload}
	for _, a := range targets {
		r.begin()
		a.enqueue(env)
	}
	return len(targets), nil
}

// Emit 发送中间事件
func (r *Runtime) Emit(source string, payload any) {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	if r.sink != nil {
		r.sink(Event{Source: source, Payload: payload})
	}
}

// Drain 阻塞直到所有邮箱清空且没有正在处理的消息，
// 返回期间收集到的 actor 错误（合并后清空）。
func (r *Runtime) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.idleMu.Lock()
		for r.inflight > 0 {
			r.idle.Wait()
		}
		r.idleMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.errMu.Lock()
	defer r.errMu.Unlock()
	err := errors.Join(r.errs...)
	r.errs = nil
	return err
}

// Close 停止全部 actor 并等待其退出。未处理的消息被丢弃。
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	err := r.group.Wait()

	// 唤醒可能仍在等待的 Drain
	r.idleMu.Lock()
	r.inflight = 0
	r.idle.Broadcast()
	r.idleMu.Unlock()
	return err
}

func (r *Runtime) begin() {
	r.idleMu.Lock()
	r.inflight++
	r.idleMu.Unlock()
}

func (r *Runtime) end() {
	r.idleMu.Lock()
	if r.inflight > 0 {
		r.inflight--
	}
	if r.inflight == 0 {
		r.idle.Broadcast()
	}
	r.idleMu.Unlock()
}

func (r *Runtime) recordError(err error) {
	r.errMu.Lock()
	r.errs = append(r.errs, err)
	r.errMu.Unlock()
}

// actor 拥有一个无界 FIFO 邮箱和一个处理循环
type actor struct {
	id      string
	handler Handler
	rt      *Runtime

	mu     sync.Mutex
	queue  []Envelope
	signal chan struct{}
}

func (a *actor) enqueue(env Envelope) {
	a.mu.Lock()
	a.queue = append(a.queue, env)
	a.mu.Unlock()

	select {
	case a.signal <- struct{}{}:
	default:
	}
}

func (a *actor) next() (Envelope, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return Envelope{}, false
	}
	env := a.queue[0]
	a.queue[0] = Envelope{}
	a.queue = a.queue[1:]
	return env, true
}

func (a *actor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.discard()
			return
		case <-a.signal:
		}
		for {
			env, ok := a.next()
			if !ok {
				break
			}
			a.process(ctx, env)
		}
	}
}

func (a *actor) process(ctx context.Context, env Envelope) {
	defer a.rt.end()
	defer func() {
		if rec := recover(); rec != nil {
			a.rt.logger.Error("actor panicked",
				zap.String("actor", a.id),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			a.rt.recordError(&ActorError{ActorID: a.id, Topic: env.Topic, Err: fmt.Errorf("panic: %v", rec)})
		}
	}()

	if err := a.handler(ctx, env); err != nil {
		a.rt.recordError(&ActorError{ActorID: a.id, Topic: env.Topic, Err: err})
	}
}

// discard 在关闭时丢弃剩余消息并归还计数
func (a *actor) discard() {
	a.mu.Lock()
	n := len(a.queue)
	a.queue = nil
	a.mu.Unlock()
	for i := 0; i < n; i++ {
		a.rt.end()
	}
}
