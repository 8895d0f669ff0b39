package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/workflow/checkpoint"
	"github.com/BaSui01/agentgraph/workflow/runtime"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

const (
	tracerName           = "github.com/BaSui01/agentgraph/workflow"
	defaultMaxSupersteps = 100
)

// UnroutedPolicy 决定没有任何边接收的消息如何处理
type UnroutedPolicy string

const (
	UnroutedDrop UnroutedPolicy = "drop"
	UnroutedFail UnroutedPolicy = "fail"
)

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithCheckpointStore 设置检查点存储；未设置时不写检查点，也无法 Resume。
func WithCheckpointStore(store checkpoint.Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithEngineLogger 设置日志
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver 设置度量钩子
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithTracerProvider 使用指定的 TracerProvider，缺省为全局 provider
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithMaxSupersteps 限制单次调用的超步数
func WithMaxSupersteps(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxSupersteps = n
		}
	}
}

// WithUnroutedPolicy 设置未路由消息策略，缺省 UnroutedDrop
func WithUnroutedPolicy(p UnroutedPolicy) EngineOption {
	return func(e *Engine) {
		if p == UnroutedDrop || p == UnroutedFail {
			e.unrouted = p
		}
	}
}

// Engine 在 Actor 运行时之上驱动工作流：按超步投递消息、评估边、执行汇聚、
// 在每个超步后提交检查点，并在出现未完成的步骤时挂起。
type Engine struct {
	store         checkpoint.Store
	logger        *zap.Logger
	observer      Observer
	tracer        trace.Tracer
	maxSupersteps int
	unrouted      UnroutedPolicy

	mu   sync.Mutex
	runs map[string]*Run
}

// NewEngine 创建执行引擎
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:        zap.NewNop(),
		observer:      noopObserver{},
		tracer:        otel.Tracer(tracerName),
		maxSupersteps: defaultMaxSupersteps,
		unrouted:      UnroutedDrop,
		runs:          make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// Store 返回检查点存储
func (e *Engine) Store() checkpoint.Store { return e.store }

// Status 返回引擎已知 run 的状态
func (e *Engine) Status(runID string) (RunStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[runID]
	if !ok {
		return RunNotStarted, false
	}
	return run.Status(), true
}

// Forget 丢弃引擎持有的 run 句柄（检查点不受影响）
func (e *Engine) Forget(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if run, ok := e.runs[runID]; ok && run.Status() != RunRunning {
		delete(e.runs, runID)
	}
}

// RunOption 配置一次运行
type RunOption func(*runOptions)

type runOptions struct {
	runID string
}

// WithRunID 指定 run ID，缺省生成 UUID
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// ResumeOption 配置一次恢复
type ResumeOption func(*resumeOptions)

type tokenResponse struct {
	tokenID string
	data    any
}

type resumeOptions struct {
	from      *checkpoint.Info
	responses []tokenResponse
	input     any
	hasInput  bool
}

// FromCheckpoint 从指定检查点恢复，缺省为最近一次提交
func FromCheckpoint(info checkpoint.Info) ResumeOption {
	return func(o *resumeOptions) { o.from = &info }
}

// WithResponse 为待处理的 token 提供外部输入
func WithResponse(tokenID string, data any) ResumeOption {
	return func(o *resumeOptions) {
		o.responses = append(o.responses, tokenResponse{tokenID: tokenID, data: data})
	}
}

// WithInput 在恢复时向起始执行器追加一条新输入
func WithInput(input any) ResumeOption {
	return func(o *resumeOptions) {
		o.input = input
		o.hasInput = true
	}
}

// Run 以 input 启动一次新的运行。
// 返回的 Run 总是非 nil（参数错误除外）；运行失败时 error 为 *ExecutorFaultError 等。
// 运行挂起（出现 ResumptionToken）不是错误。
func (e *Engine) Run(ctx context.Context, wf *Workflow, input any, opts ...RunOption) (*Run, error) {
	if wf == nil {
		return nil, errors.New("workflow is nil")
	}
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}

	run, err := e.acquire(o.runID, wf.Name(), true)
	if err != nil {
		return nil, err
	}
	x, err := e.newExecution(ctx, wf, run)
	if err != nil {
		return run, abort(run, err)
	}

	msg, ok := x.coerce(wf.start, input)
	if !ok {
		x.close()
		return run, abort(run, fmt.Errorf("%w: %s got %T", ErrInputNotAccepted, wf.start, input))
	}
	x.remember(msg)
	x.pending = append(x.pending, delivery{target: wf.start, topic: inputTopic(wf.start), message: msg})
	return e.execute(ctx, x)
}

// Resume 从检查点恢复 run：重建执行器状态、共享状态、队列与汇聚缓冲，
// 投递 token 响应和可选的新输入后继续执行。
func (e *Engine) Resume(ctx context.Context, wf *Workflow, runID string, opts ...ResumeOption) (*Run, error) {
	if wf == nil {
		return nil, errors.New("workflow is nil")
	}
	if e.store == nil {
		return nil, ErrNoCheckpointStore
	}
	if status, ok := e.Status(runID); ok && status == RunRunning {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, runID)
	}
	o := resumeOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	var from checkpoint.Info
	if o.from != nil {
		from = *o.from
	} else {
		latest, err := checkpoint.Latest(ctx, e.store, runID)
		if err != nil {
			return nil, err
		}
		from = latest
	}

	snap, err := e.loadSnapshot(ctx, wf, runID, from)
	if err != nil {
		return nil, err
	}

	run, err := e.acquire(runID, wf.Name(), false)
	if err != nil {
		return nil, err
	}
	x, err := e.newExecution(ctx, wf, run)
	if err != nil {
		return run, err
	}
	if err := x.restore(ctx, snap); err != nil {
		x.close()
		return run, fmt.Errorf("restore checkpoint %s: %w", from, err)
	}
	x.parent = &from
	x.lineage = append(x.lineage, from)

	for _, resp := range o.responses {
		tok, ok := x.takeToken(resp.tokenID)
		if !ok {
			x.close()
			return run, fmt.Errorf("%w: %s", ErrUnknownToken, resp.tokenID)
		}
		x.pending = append(x.pending, delivery{
			target: tok.ExecutorID,
			topic:  responseTopic(tok.ExecutorID),
			message: ResumeResponse{
				TokenID: tok.ID,
				Request: tok.Request,
				Data:    resp.data,
			},
		})
	}
	if o.hasInput {
		msg, ok := x.coerce(wf.start, o.input)
		if !ok {
			x.close()
			return run, fmt.Errorf("%w: %s got %T", ErrInputNotAccepted, wf.start, o.input)
		}
		x.remember(msg)
		x.pending = append(x.pending, delivery{target: wf.start, topic: inputTopic(wf.start), message: msg})
	}

	e.logger.Info("resuming run",
		zap.String("run_id", runID),
		zap.String("checkpoint_id", from.CheckpointID),
		zap.Int("pending", len(x.pending)),
		zap.Int("tokens", len(x.tokens)),
	)
	return e.execute(ctx, x)
}

func (e *Engine) acquire(runID, workflow string, fresh bool) (*Run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.runs[runID]; ok {
		switch existing.Status() {
		case RunRunning:
			return nil, fmt.Errorf("%w: %s", ErrRunInProgress, runID)
		case RunSuspended:
			if !fresh {
				return existing, nil
			}
		}
		if fresh {
			return nil, fmt.Errorf("run %s already exists", runID)
		}
	}
	run := newRun(runID, workflow)
	e.runs[runID] = run
	return run, nil
}

// abort 让尚未开始执行的 run 经 Running 进入 Failed
func abort(run *Run, err error) error {
	_ = run.transition(RunRunning)
	run.fail(err)
	return err
}

func (e *Engine) execute(ctx context.Context, x *execution) (*Run, error) {
	run := x.run
	defer x.close()

	if err := run.transition(RunRunning); err != nil {
		return run, err
	}
	run.beginInvocation()

	started := time.Now()
	e.observer.RunStarted(x.wf.name)
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", x.wf.name),
		attribute.String("workflow.run_id", run.ID()),
	))
	defer span.End()

	x.emit(Event{Type: EventRunStarted})
	x.logger.Debug("run started", zap.Int("pending", len(x.pending)))

	err := x.loop(ctx)
	x.syncRun()

	status := RunCompleted
	switch {
	case err != nil:
		status = RunFailed
		run.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		x.logger.Error("run failed", zap.Error(err), zap.Int("superstep", x.superstep))
	case len(x.tokens) > 0:
		status = RunSuspended
		err = run.transition(RunSuspended)
		x.logger.Info("run suspended", zap.Int("tokens", len(x.tokens)))
	default:
		err = run.transition(RunCompleted)
		x.logger.Info("run completed", zap.Int("supersteps", x.superstep))
	}
	span.SetAttributes(attribute.String("workflow.status", string(status)))

	x.emit(Event{Type: EventStatus, Data: status, Error: run.Err()})
	e.observer.RunFinished(x.wf.name, string(status), time.Since(started))
	return run, err
}

// delivery 是下一个超步要投递的一条消息
type delivery struct {
	source  string
	target  string
	topic   string
	message any
	batch   bool
}

// execution 是一次 Run / Resume 调用的可变状态，只由引擎 goroutine 在超步边界修改。
type execution struct {
	engine     *Engine
	wf         *Workflow
	run        *Run
	marshaller *wire.Marshaller
	executors  map[string]Executor
	rt         *runtime.Runtime
	logger     *zap.Logger

	pending   []delivery
	fanIn     map[string]map[string][]any
	shared    *sharedState
	tokens    []ResumptionToken
	superstep int
	parent    *checkpoint.Info
	lineage   []checkpoint.Info

	boxes map[string]*outbox
}

func (e *Engine) newExecution(ctx context.Context, wf *Workflow, run *Run) (*execution, error) {
	executors, err := wf.instantiate()
	if err != nil {
		return nil, err
	}

	x := &execution{
		engine:     e,
		wf:         wf,
		run:        run,
		marshaller: wire.NewMarshaller(wf.registry),
		executors:  executors,
		fanIn:      make(map[string]map[string][]any),
		shared:     newSharedState(),
		logger: e.logger.With(
			zap.String("workflow", wf.name),
			zap.String("run_id", run.ID()),
		),
	}

	emitter, _ := eventEmitterFromContext(ctx)
	x.rt = runtime.New(ctx,
		runtime.WithLogger(e.logger),
		runtime.WithEventSink(func(ev runtime.Event) {
			if wev, ok := ev.Payload.(Event); ok && emitter != nil {
				emitter(wev)
			}
		}),
	)

	for _, id := range wf.executorIDs {
		if err := x.rt.Spawn(id, x.handlerFor(id)); err != nil {
			x.close()
			return nil, err
		}
		if err := x.rt.Subscribe(responseTopic(id), id); err != nil {
			x.close()
			return nil, err
		}
	}
	if err := x.rt.Subscribe(inputTopic(wf.start), wf.start); err != nil {
		x.close()
		return nil, err
	}
	for source, routes := range wf.routes {
		for _, r := range routes {
			var err error
			switch r.kind {
			case EdgeDirect:
				err = x.rt.Subscribe(edgeTopic(source, r.target), r.target)
			case EdgeFanOut:
				for _, t := range r.targets {
					if err = x.rt.Subscribe(edgeTopic(source, t), t); err != nil {
						break
					}
				}
			case EdgeFanIn:
				err = x.rt.Subscribe(fanInTopic(r.group.id), r.group.target)
			}
			if err != nil {
				x.close()
				return nil, err
			}
		}
	}
	return x, nil
}

func (x *execution) close() {
	if x.rt != nil {
		_ = x.rt.Close()
	}
}

func (x *execution) emit(ev Event) {
	ev.RunID = x.run.ID()
	if ev.Superstep == 0 {
		ev.Superstep = x.superstep
	}
	ev.Timestamp = time.Now()
	x.rt.Emit(ev.ExecutorID, ev)
}

func (x *execution) syncRun() {
	x.run.setProgress(x.superstep, x.tokens, x.parent, x.lineage)
}

func (x *execution) takeToken(id string) (ResumptionToken, bool) {
	for i, tok := range x.tokens {
		if tok.ID == id {
			x.tokens = append(x.tokens[:i:i], x.tokens[i+1:]...)
			return tok, true
		}
	}
	return ResumptionToken{}, false
}

func (x *execution) handlerFor(id string) runtime.Handler {
	return func(ctx context.Context, env runtime.Envelope) error {
		box := x.boxes[id]
		if box == nil || box.err != nil {
			return nil
		}
		exec := x.executors[id]
		step := x.superstep + 1

		ctx, span := x.engine.tracer.Start(ctx, "workflow.executor", trace.WithAttributes(
			attribute.String("workflow.executor_id", id),
			attribute.Int("workflow.superstep", step),
		))
		defer span.End()
		ctx = ctxkeys.WithExecutorID(ctxkeys.WithRunID(ctx, x.run.ID()), id)
		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = ctxkeys.WithTraceID(ctx, sc.TraceID().String())
		}

		x.emit(Event{Type: EventExecutorInvoked, ExecutorID: id, Superstep: step, Data: wire.TypeName(reflect.TypeOf(env.Payload))})
		started := time.Now()
		err := x.invoke(ctx, exec, env.Payload, &stepContext{x: x, ctx: ctx, id: id, box: box})
		x.engine.observer.ExecutorInvoked(x.wf.name, id, time.Since(started), err)

		if err != nil {
			box.err = err
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			x.emit(Event{Type: EventExecutorFailed, ExecutorID: id, Superstep: step, Error: err})
			return err
		}
		x.emit(Event{Type: EventExecutorCompleted, ExecutorID: id, Superstep: step})
		return nil
	}
}

// invoke 调用执行器并把 panic 转为错误
func (x *execution) invoke(ctx context.Context, exec Executor, msg any, wc WorkflowContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			x.logger.Error("executor panicked",
				zap.String("executor", exec.ID()),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return exec.Handle(ctx, msg, wc)
}

func (x *execution) loop(ctx context.Context) error {
	steps := 0
	for len(x.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if steps >= x.engine.maxSupersteps {
			return fmt.Errorf("%w (%d)", ErrMaxSupersteps, x.engine.maxSupersteps)
		}
		if err := x.step(ctx); err != nil {
			return err
		}
		steps++
	}
	return nil
}

func (x *execution) step(ctx context.Context) error {
	started := time.Now()
	number := x.superstep + 1
	ctx, span := x.engine.tracer.Start(ctx, "workflow.superstep", trace.WithAttributes(
		attribute.Int("workflow.superstep", number),
	))
	defer span.End()

	deliveries := x.pending
	x.pending = nil

	x.boxes = make(map[string]*outbox, len(x.executors))
	for id := range x.executors {
		x.boxes[id] = &outbox{}
	}
	order := make([]string, 0, len(deliveries))
	seen := make(map[string]bool, len(deliveries))
	for _, d := range deliveries {
		if !seen[d.target] {
			seen[d.target] = true
			order = append(order, d.target)
		}
	}

	for _, d := range deliveries {
		if _, err := x.rt.Publish(d.topic, d.source, d.message); err != nil {
			return err
		}
	}
	drainErr := x.rt.Drain(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, id := range order {
		if box := x.boxes[id]; box.err != nil {
			return x.fault(id, number, box.err)
		}
	}
	if drainErr != nil {
		var actorErr *runtime.ActorError
		if errors.As(drainErr, &actorErr) {
			return x.fault(actorErr.ActorID, number, actorErr.Err)
		}
		return drainErr
	}

	x.superstep = number
	if err := x.commitStep(order); err != nil {
		return err
	}
	if err := x.checkpoint(ctx); err != nil {
		return err
	}
	x.syncRun()

	x.engine.observer.SuperstepCompleted(x.wf.name, time.Since(started))
	x.emit(Event{Type: EventSuperstepCompleted, Data: len(deliveries)})
	x.logger.Debug("superstep completed",
		zap.Int("superstep", number),
		zap.Int("deliveries", len(deliveries)),
		zap.Int("next", len(x.pending)),
	)
	return nil
}

func (x *execution) fault(id string, step int, cause error) error {
	return &ExecutorFaultError{
		ExecutorID: id,
		RunID:      x.run.ID(),
		Superstep:  step,
		Lineage:    append([]checkpoint.Info(nil), x.lineage...),
		Cause:      cause,
	}
}

// commitStep 在超步边界应用全部副作用：共享状态写入、输出、请求、消息路由
func (x *execution) commitStep(order []string) error {
	for _, id := range order {
		for _, w := range x.boxes[id].writes {
			x.shared.apply(w)
		}
	}

	for _, id := range order {
		box := x.boxes[id]
		for _, out := range box.outputs {
			x.output(id, out)
		}
		for _, tok := range box.requests {
			x.tokens = append(x.tokens, tok)
			x.emit(Event{Type: EventRequestInfo, ExecutorID: id, Data: tok})
		}
		for _, sent := range box.sends {
			isOutput := x.wf.outputs[id]
			if isOutput {
				x.output(id, sent.msg)
			}
			if x.route(id, sent) || isOutput {
				continue
			}
			msgType := wire.TypeName(reflect.TypeOf(sent.msg))
			if x.engine.unrouted == UnroutedFail {
				return &UnroutedMessageError{Source: id, MessageType: msgType}
			}
			x.logger.Warn("message dropped: no edge accepted it",
				zap.String("source", id),
				zap.String("type", msgType),
			)
		}
	}
	x.boxes = nil
	return nil
}

func (x *execution) output(id string, v any) {
	x.run.addOutput(v)
	x.emit(Event{Type: EventOutput, ExecutorID: id, Data: v})
}

// route 沿 source 的出边转发消息，返回是否至少有一条边接收
func (x *execution) route(source string, sent sentMessage) bool {
	allowed := func(target string) bool {
		if len(sent.targets) == 0 {
			return true
		}
		for _, t := range sent.targets {
			if t == target {
				return true
			}
		}
		return false
	}

	x.remember(sent.msg)
	routed := false
	for _, r := range x.wf.routes[source] {
		switch r.kind {
		case EdgeDirect:
			if !allowed(r.target) || (r.predicate != nil && !r.predicate(sent.msg)) {
				continue
			}
			if msg, ok := x.coerce(r.target, sent.msg); ok {
				x.pending = append(x.pending, delivery{source: source, target: r.target, topic: edgeTopic(source, r.target), message: msg})
				routed = true
			}
		case EdgeFanOut:
			selected := r.targets
			if r.selector != nil {
				selected = r.selector(sent.msg, r.targets)
			}
			for _, t := range selected {
				if !contains(r.targets, t) || !allowed(t) {
					continue
				}
				if msg, ok := x.coerce(t, sent.msg); ok {
					x.pending = append(x.pending, delivery{source: source, target: t, topic: edgeTopic(source, t), message: msg})
					routed = true
				}
			}
		case EdgeFanIn:
			if !allowed(r.group.target) {
				continue
			}
			x.bufferFanIn(r.group, source, sent.msg)
			routed = true
		}
	}
	return routed
}

// bufferFanIn 缓存来自 source 的消息；每个源都至少有一条时按声明顺序组成一批触发，并清出缓冲
func (x *execution) bufferFanIn(g *fanInGroup, source string, msg any) {
	buf, ok := x.fanIn[g.id]
	if !ok {
		buf = make(map[string][]any, len(g.sources))
		x.fanIn[g.id] = buf
	}
	buf[source] = append(buf[source], msg)

	for {
		for _, s := range g.sources {
			if len(buf[s]) == 0 {
				return
			}
		}
		batch := make([]any, 0, len(g.sources))
		for _, s := range g.sources {
			batch = append(batch, x.settle(buf[s][0]))
			buf[s] = buf[s][1:]
			if len(buf[s]) == 0 {
				delete(buf, s)
			}
		}
		if len(buf) == 0 {
			delete(x.fanIn, g.id)
		}
		x.pending = append(x.pending, delivery{source: g.id, target: g.target, topic: fanInTopic(g.id), message: batch, batch: true})
		if len(buf) == 0 {
			return
		}
	}
}

// remember 把进入队列或汇聚缓冲的消息的动态类型登记到注册表，
// 检查点里记录的类型标识因此能在恢复时还原为具体值
func (x *execution) remember(msg any) {
	switch msg.(type) {
	case nil, *wire.PortableValue, wire.Value:
		return
	}
	registry := x.marshaller.Registry()
	t := reflect.TypeOf(msg)
	if _, ok := registry.TypeID(t); ok {
		return
	}
	if err := registry.RegisterType("", t); err != nil {
		x.logger.Debug("message type not registered", zap.String("type", wire.TypeName(t)), zap.Error(err))
	}
}

// settle 把汇聚批次中仍未解析、但类型已登记的值还原为具体值，
// 同一批次里不会出现具体值与 *wire.PortableValue 混杂
func (x *execution) settle(msg any) any {
	p, ok := msg.(*wire.PortableValue)
	if !ok || p.IsResolved() {
		return msg
	}
	t, ok := x.marshaller.Registry().Lookup(p.TypeID())
	if !ok {
		return msg
	}
	v, err := p.Resolve(t)
	if err != nil {
		x.logger.Warn("fan-in item kept unresolved", zap.String("type", p.TypeID()), zap.Error(err))
		return msg
	}
	return v
}

// coerce 检查目标是否接受消息；检查点中未解析的值按目标声明的类型解析
func (x *execution) coerce(target string, msg any) (any, bool) {
	accepted := x.wf.inputTypes[target]
	if p, ok := msg.(*wire.PortableValue); ok && len(accepted) > 0 {
		for _, t := range accepted {
			if t.Kind() == reflect.Interface {
				if t.NumMethod() == 0 {
					return p, true
				}
				continue
			}
			if x.marshaller.Registry().IDFor(t) != p.TypeID() {
				continue
			}
			if v, err := p.Resolve(t); err == nil {
				return v, true
			}
		}
		return nil, false
	}
	if acceptsType(accepted, reflect.TypeOf(msg)) {
		return msg, true
	}
	return nil, false
}

func (x *execution) checkpoint(ctx context.Context) error {
	store := x.engine.store
	if store == nil {
		return nil
	}
	snap, err := x.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot superstep %d: %w", x.superstep, err)
	}
	val, err := x.marshaller.MarshalAs(snap, snapshotTypeID)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	started := time.Now()
	info, err := store.Commit(ctx, x.run.ID(), val, x.parent)
	x.engine.observer.CheckpointCommitted(x.wf.name, time.Since(started), err)
	if err != nil {
		return fmt.Errorf("commit checkpoint after superstep %d: %w", x.superstep, err)
	}

	x.parent = &info
	x.lineage = append(x.lineage, info)
	x.emit(Event{Type: EventCheckpoint, Data: info})
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
