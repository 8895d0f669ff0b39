package workflow

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

// Builder 以 fluent API 增量构建工作流图。
// 边可以引用尚未绑定的执行器，Build 时统一校验。
type Builder struct {
	name        string
	description string
	start       string

	order     []string
	factories map[string]ExecutorFactory
	routes    map[string][]*route
	edgeSet   map[edgeKey]bool
	fanIns    map[string]*fanInGroup
	fanInIDs  []string
	outputs   map[string]bool

	registry    *wire.Registry
	strictTypes bool
	logger      *zap.Logger
	errs        []error
}

// NewBuilder 创建以 start 为起始执行器的构建器
func NewBuilder(start string) *Builder {
	b := &Builder{
		name:      "workflow",
		factories: make(map[string]ExecutorFactory),
		routes:    make(map[string][]*route),
		edgeSet:   make(map[edgeKey]bool),
		fanIns:    make(map[string]*fanInGroup),
		outputs:   make(map[string]bool),
		registry:  wire.NewRegistry(),
		logger:    zap.NewNop().With(zap.String("component", "workflow_builder")),
	}
	b.start = start
	b.reference(start)
	return b
}

// WithName 设置工作流名称
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// WithDescription 设置工作流描述
func (b *Builder) WithDescription(desc string) *Builder {
	b.description = desc
	return b
}

// WithLogger 设置日志
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "workflow_builder"))
	}
	return b
}

// WithRegistry 使用外部的 wire 注册表（例如多个工作流共享）
func (b *Builder) WithRegistry(registry *wire.Registry) *Builder {
	if registry != nil {
		b.registry = registry
	}
	return b
}

// WithStrictTypes 使起始执行器不接受输入类型时 Build 失败，而不仅是告警
func (b *Builder) WithStrictTypes() *Builder {
	b.strictTypes = true
	return b
}

// WithOutputFrom 标记输出执行器：它们发送的消息同时作为工作流输出
func (b *Builder) WithOutputFrom(ids ...string) *Builder {
	for _, id := range ids {
		b.reference(id)
		b.outputs[id] = true
	}
	return b
}

// RegisterTypes 预先注册执行器之间传递的消息类型（按样例值的动态类型）。
// 汇聚目标只声明 []any，源发出的具体类型需要在这里登记，
// 新进程从检查点恢复时才能还原为具体值而不是 *wire.PortableValue。
func (b *Builder) RegisterTypes(samples ...any) *Builder {
	for _, v := range samples {
		if v == nil {
			b.errs = append(b.errs, fmt.Errorf("register type: nil sample"))
			continue
		}
		if err := b.registry.RegisterType("", reflect.TypeOf(v)); err != nil {
			b.errs = append(b.errs, err)
		}
	}
	return b
}

// Registry 返回构建器使用的类型注册表
func (b *Builder) Registry() *wire.Registry {
	return b.registry
}

func (b *Builder) reference(id string) {
	if id == "" {
		return
	}
	for _, existing := range b.order {
		if existing == id {
			return
		}
	}
	b.order = append(b.order, id)
}

// addPair 记录 (source, target)；已存在时返回 false，保留先添加的那条边
func (b *Builder) addPair(source, target string) bool {
	key := edgeKey{source, target}
	if b.edgeSet[key] {
		b.logger.Warn("duplicate edge ignored",
			zap.String("source", source),
			zap.String("target", target),
		)
		return false
	}
	b.edgeSet[key] = true
	return true
}

// AddEdge 添加有向边；predicate 可选，缺省表示总是转发
func (b *Builder) AddEdge(source, target string, predicate ...Predicate) *Builder {
	if source == "" || target == "" {
		b.errs = append(b.errs, errors.New("edge endpoints must be non-empty"))
		return b
	}
	b.reference(source)
	b.reference(target)
	if !b.addPair(source, target) {
		return b
	}

	var pred Predicate
	if len(predicate) > 0 {
		pred = predicate[0]
	}
	b.routes[source] = append(b.routes[source], &route{kind: EdgeDirect, target: target, predicate: pred})
	return b
}

// AddChain 依次连接 ids[0] -> ids[1] -> ... -> ids[n-1]
func (b *Builder) AddChain(ids ...string) *Builder {
	for i := 0; i+1 < len(ids); i++ {
		b.AddEdge(ids[i], ids[i+1])
	}
	return b
}

// AddFanOutEdge 从 source 扇出到 targets；selector 为 nil 时发送给全部目标
func (b *Builder) AddFanOutEdge(source string, targets []string, selector FanOutSelector) *Builder {
	if source == "" || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("fan-out from %q requires at least one target", source))
		return b
	}
	b.reference(source)

	kept := make([]string, 0, len(targets))
	for _, t := range targets {
		b.reference(t)
		if b.addPair(source, t) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return b
	}
	b.routes[source] = append(b.routes[source], &route{kind: EdgeFanOut, targets: kept, selector: selector})
	return b
}

// AddFanInEdge 声明汇聚：target 在每一轮收到 sources 中每个源的一条消息后触发一次，
// 收到的消息按 sources 声明顺序组成 []any。
func (b *Builder) AddFanInEdge(sources []string, target string) *Builder {
	if target == "" || len(sources) == 0 {
		b.errs = append(b.errs, fmt.Errorf("fan-in into %q requires at least one source", target))
		return b
	}
	seen := make(map[string]bool, len(sources))
	for _, s := range sources {
		if seen[s] {
			b.errs = append(b.errs, fmt.Errorf("fan-in into %q lists source %q twice", target, s))
			return b
		}
		seen[s] = true
	}

	// 已有的 (source, target) 边会让汇聚组少一个源，直接判定为声明错误
	for _, s := range sources {
		if b.edgeSet[edgeKey{s, target}] {
			b.errs = append(b.errs, fmt.Errorf("fan-in into %q: source %q already has an edge to it", target, s))
			return b
		}
	}

	b.reference(target)
	for _, s := range sources {
		b.reference(s)
		b.addPair(s, target)
	}

	group := &fanInGroup{id: fanInGroupID(sources, target), sources: append([]string(nil), sources...), target: target}
	b.fanIns[group.id] = group
	b.fanInIDs = append(b.fanInIDs, group.id)
	for _, s := range group.sources {
		b.routes[s] = append(b.routes[s], &route{kind: EdgeFanIn, group: group})
	}
	return b
}

// BindExecutor 绑定（或重新绑定）执行器工厂，解析之前的前向引用
func (b *Builder) BindExecutor(id string, factory ExecutorFactory) *Builder {
	if id == "" || factory == nil {
		b.errs = append(b.errs, fmt.Errorf("invalid binding for executor %q", id))
		return b
	}
	b.reference(id)
	b.factories[id] = factory
	return b
}

// AddExecutor 以实例形式绑定执行器，ID 取自 e.ID()
func (b *Builder) AddExecutor(e Executor) *Builder {
	return b.BindExecutor(e.ID(), Instance(e))
}

// Unbound 返回已引用但尚未绑定的执行器 ID（按引用顺序）
func (b *Builder) Unbound() []string {
	var unbound []string
	for _, id := range b.order {
		if _, ok := b.factories[id]; !ok {
			unbound = append(unbound, id)
		}
	}
	return unbound
}

// Build 校验并生成不可变的 Workflow。
// 存在未绑定的执行器时返回 *GraphIncompleteError；
// 起始执行器不接受 inputType 时记录告警（严格模式下失败）。
func (b *Builder) Build(inputType reflect.Type) (*Workflow, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("workflow build failed: %w", errors.Join(b.errs...))
	}
	if b.start == "" {
		return nil, errors.New("workflow build failed: start executor not set")
	}
	if unbound := b.Unbound(); len(unbound) > 0 {
		return nil, &GraphIncompleteError{Unbound: unbound}
	}

	inputTypes := make(map[string][]reflect.Type, len(b.order))
	for _, id := range b.order {
		sample, err := b.factories[id]()
		if err != nil {
			return nil, fmt.Errorf("workflow build failed: create executor %s: %w", id, err)
		}
		if sample.ID() != id {
			return nil, fmt.Errorf("workflow build failed: executor bound as %q reports id %q", id, sample.ID())
		}
		types := sample.InputTypes()
		inputTypes[id] = types
		for _, t := range types {
			if t.Kind() == reflect.Interface {
				continue
			}
			if err := b.registry.RegisterType("", t); err != nil {
				b.logger.Debug("input type already registered under another id", zap.Error(err))
			}
		}
	}

	var warnings []string
	if inputType != nil {
		if inputType.Kind() != reflect.Interface {
			_ = b.registry.RegisterType("", inputType)
		}
		if !acceptsType(inputTypes[b.start], inputType) {
			msg := fmt.Sprintf("start executor %s does not accept input type %s", b.start, inputType)
			if b.strictTypes {
				return nil, fmt.Errorf("workflow build failed: %s", msg)
			}
			warnings = append(warnings, msg)
			b.logger.Warn(msg)
		}
	}

	anySlice := reflect.TypeFor[[]any]()
	for _, gid := range b.fanInIDs {
		g := b.fanIns[gid]
		if !acceptsType(inputTypes[g.target], anySlice) {
			msg := fmt.Sprintf("fan-in target %s does not accept []any", g.target)
			warnings = append(warnings, msg)
			b.logger.Warn(msg)
		}
	}

	wf := &Workflow{
		name:        b.name,
		description: b.description,
		start:       b.start,
		inputType:   inputType,
		executorIDs: append([]string(nil), b.order...),
		factories:   make(map[string]ExecutorFactory, len(b.factories)),
		inputTypes:  inputTypes,
		routes:      make(map[string][]*route, len(b.routes)),
		fanIns:      make(map[string]*fanInGroup, len(b.fanIns)),
		fanInOrder:  append([]string(nil), b.fanInIDs...),
		outputs:     make(map[string]bool, len(b.outputs)),
		registry:    b.registry,
		warnings:    warnings,
	}
	for id, f := range b.factories {
		wf.factories[id] = f
	}
	for s, rs := range b.routes {
		wf.routes[s] = append([]*route(nil), rs...)
	}
	for id, g := range b.fanIns {
		wf.fanIns[id] = g
	}
	for id := range b.outputs {
		wf.outputs[id] = true
	}

	b.logger.Info("workflow built",
		zap.String("name", b.name),
		zap.Int("executors", len(wf.executorIDs)),
		zap.String("start", b.start),
		zap.Int("warnings", len(warnings)),
	)
	return wf, nil
}
