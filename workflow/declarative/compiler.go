package declarative

import (
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/dsl"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// CompileOption 配置编译
type CompileOption func(*compileOptions)

type compileOptions struct {
	agents    map[string]agent.Agent
	provider  llm.Provider
	providers *llm.ProviderRegistry
	env       map[string]any
	logger    *zap.Logger
	eval      *dsl.Evaluator
	registry  *wire.Registry
	strict    bool
}

// WithAgents 提供 InvokeAgent 可引用的 Agent，按名称索引
func WithAgents(agents ...agent.Agent) CompileOption {
	return func(o *compileOptions) {
		for _, a := range agents {
			o.agents[a.Name()] = a
		}
	}
}

// WithProvider 为 Definition.Agents 中的定义创建 ChatAgent
func WithProvider(provider llm.Provider) CompileOption {
	return func(o *compileOptions) { o.provider = provider }
}

// WithProviders 按 agent 配置中的 provider 名称从 registry 解析模型，
// 名称为空时使用 registry 的默认 Provider
func WithProviders(registry *llm.ProviderRegistry) CompileOption {
	return func(o *compileOptions) { o.providers = registry }
}

// WithEnv 设置只读的 Env 作用域
func WithEnv(env map[string]any) CompileOption {
	return func(o *compileOptions) { o.env = env }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) CompileOption {
	return func(o *compileOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEvaluator 替换表达式求值器，用于注册自定义函数
func WithEvaluator(eval *dsl.Evaluator) CompileOption {
	return func(o *compileOptions) {
		if eval != nil {
			o.eval = eval
		}
	}
}

// WithRegistry 使用共享的类型注册表
func WithRegistry(registry *wire.Registry) CompileOption {
	return func(o *compileOptions) { o.registry = registry }
}

// WithStrictTypes 起始执行器不接受工作流输入类型时编译失败
func WithStrictTypes() CompileOption {
	return func(o *compileOptions) { o.strict = true }
}

func newCompileOptions(opts []CompileOption) *compileOptions {
	o := &compileOptions{
		agents: make(map[string]agent.Agent),
		logger: zap.NewNop(),
		eval:   dsl.NewEvaluator(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate 校验定义而不构建工作流
func Validate(def *Definition, opts ...CompileOption) error {
	o := newCompileOptions(opts)
	return newValidator(o.eval, o.agentNames(def)).validate(def)
}

func (o *compileOptions) agentNames(def *Definition) map[string]bool {
	names := make(map[string]bool, len(o.agents))
	for name := range o.agents {
		names[name] = true
	}
	if def != nil {
		for name := range def.Agents {
			names[name] = true
		}
	}
	return names
}

// Compile 把定义编译为工作流：每个动作一个执行器，条件组额外有一个结束节点。
// 工作流输入可以是 []types.Message、types.Message、string 或 map[string]any（Local 变量）。
func Compile(def *Definition, opts ...CompileOption) (*workflow.Workflow, error) {
	if def == nil {
		return nil, fmt.Errorf("compile workflow: definition is nil")
	}
	o := newCompileOptions(opts)
	if err := newValidator(o.eval, o.agentNames(def)).validate(def); err != nil {
		return nil, fmt.Errorf("invalid workflow %q: %w", def.Name, err)
	}

	agents, err := o.resolveAgents(def)
	if err != nil {
		return nil, err
	}
	in := &interpreter{
		eval:      o.eval,
		env:       o.env,
		agents:    agents,
		variables: def.Variables,
		logger:    o.logger.With(zap.String("component", "declarative"), zap.String("workflow", def.Name)),
	}

	b := workflow.NewBuilder(StartExecutorID).
		WithName(def.Name).
		WithDescription(def.Description).
		WithLogger(o.logger)
	if o.registry != nil {
		b.WithRegistry(o.registry)
	}
	if o.strict {
		b.WithStrictTypes()
	}

	c := &compiler{b: b, in: in, edges: make(map[[2]string]bool)}
	entry, err := c.block(def.Actions, "", "")
	if err != nil {
		return nil, err
	}
	b.AddExecutor(&startExecutor{step: step{id: StartExecutorID, next: entry, in: in}})
	c.edge(StartExecutorID, entry)

	wf, err := b.Build(reflect.TypeFor[[]types.Message]())
	if err != nil {
		return nil, fmt.Errorf("compile workflow %q: %w", def.Name, err)
	}
	in.logger.Debug("workflow compiled", zap.Int("executors", len(wf.ExecutorIDs())))
	if hasLoop(def.Actions) {
		in.logger.Warn("definition contains foreach loops; raise engine max supersteps for long collections",
			zap.Int("supersteps_for_10_items", EstimateSupersteps(def, 10)),
			zap.Int("supersteps_for_100_items", EstimateSupersteps(def, 100)),
		)
	}
	return wf, nil
}

// EstimateSupersteps 估算每个 Foreach 迭代 iterations 次时一次运行需要的超步数，
// 用于设置 workflow.WithMaxSupersteps / engine.max_supersteps。
// 每次迭代至少占两个超步（Foreach 节点本身 + 循环体）；条件组按最长分支计算，
// 所以结果是不含挂起与 EndWorkflow 提前结束的上界。
func EstimateSupersteps(def *Definition, iterations int) int {
	if def == nil {
		return 0
	}
	if iterations < 0 {
		iterations = 0
	}
	return 1 + blockSupersteps(def.Actions, iterations)
}

func blockSupersteps(actions []Action, iterations int) int {
	total := 0
	for _, a := range actions {
		switch x := a.(type) {
		case *ConditionGroup:
			longest := blockSupersteps(x.Else, iterations)
			for _, cond := range x.Conditions {
				longest = max(longest, blockSupersteps(cond.Actions, iterations))
			}
			// 条件节点 + 分支 + 结束节点
			total += 2 + longest
		case *Foreach:
			// 最后一次访问 Foreach 节点时集合耗尽，转到后继
			total += iterations*(1+blockSupersteps(x.Actions, iterations)) + 1
		default:
			total++
		}
	}
	return total
}

func hasLoop(actions []Action) bool {
	for _, a := range actions {
		switch x := a.(type) {
		case *Foreach:
			return true
		case *ConditionGroup:
			if hasLoop(x.Else) {
				return true
			}
			for _, cond := range x.Conditions {
				if hasLoop(cond.Actions) {
					return true
				}
			}
		}
	}
	return false
}

// resolveAgents 合并外部提供的 Agent 与定义中的 Agent；同名时外部优先
func (o *compileOptions) resolveAgents(def *Definition) (map[string]agent.Agent, error) {
	agents := make(map[string]agent.Agent, len(o.agents)+len(def.Agents))
	for name, a := range o.agents {
		agents[name] = a
	}
	names := make([]string, 0, len(def.Agents))
	for name := range def.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := agents[name]; ok {
			continue
		}
		provider, err := o.providerFor(def.Agents[name])
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		a, err := agent.NewChatAgent(def.Agents[name], provider, agent.WithLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		agents[name] = a
	}
	return agents, nil
}

// providerFor 指定了 provider 名称时只查 registry；否则优先 WithProvider
func (o *compileOptions) providerFor(cfg agent.Config) (llm.Provider, error) {
	switch {
	case cfg.Provider != "" && o.providers == nil:
		return nil, fmt.Errorf("provider %q requested but no provider registry configured", cfg.Provider)
	case cfg.Provider != "":
		return o.providers.Resolve(cfg.Provider)
	case o.provider != nil:
		return o.provider, nil
	case o.providers != nil && len(o.providers.List()) > 0:
		return o.providers.Resolve("")
	default:
		return nil, agent.ErrProviderNotSet
	}
}

// compiler 把动作树展开为图。每个动作知道自己的后继，所以从后往前编译。
type compiler struct {
	b     *workflow.Builder
	in    *interpreter
	edges map[[2]string]bool
}

// edge 添加边；空分支会让多条路径指向同一结束节点，重复的边只加一次
func (c *compiler) edge(source, target string) {
	if target == "" {
		return
	}
	key := [2]string{source, target}
	if c.edges[key] {
		return
	}
	c.edges[key] = true
	c.b.AddEdge(source, target)
}

// block 编译一组顺序动作，返回入口节点 ID；空块返回 next。
// loop 是最内层 Foreach 的 ID，不在循环中时为空。
func (c *compiler) block(actions []Action, next, loop string) (string, error) {
	for i := len(actions) - 1; i >= 0; i-- {
		entry, err := c.action(actions[i], next, loop)
		if err != nil {
			return "", err
		}
		next = entry
	}
	return next, nil
}

func (c *compiler) action(a Action, next, loop string) (string, error) {
	id := a.ActionID()
	base := step{id: id, next: next, in: c.in}

	switch x := a.(type) {
	case *SetVariable:
		c.factory(id, func() workflow.Executor { return &setVariableExecutor{step: base, action: x} })
		c.edge(id, next)
	case *SendActivity:
		c.factory(id, func() workflow.Executor { return &sendActivityExecutor{step: base, action: x} })
		c.edge(id, next)
	case *InvokeAgent:
		c.factory(id, func() workflow.Executor { return &invokeAgentExecutor{step: base, action: x} })
		c.edge(id, next)
	case *RequestInput:
		c.factory(id, func() workflow.Executor { return &requestInputExecutor{step: base, action: x} })
		c.edge(id, next)
	case *EndWorkflow:
		c.factory(id, func() workflow.Executor { return &endExecutor{step: base, action: x} })

	case *BreakLoop, *ContinueLoop:
		if loop == "" {
			return "", fmt.Errorf("action %s: %s outside of a loop", id, a.Kind())
		}
		_, brk := a.(*BreakLoop)
		ctl := step{id: id, next: loop, in: c.in}
		c.factory(id, func() workflow.Executor { return &loopControlExecutor{step: ctl, brk: brk} })
		c.edge(id, loop)

	case *ConditionGroup:
		end := id + EndSuffix
		c.factory(end, func() workflow.Executor { return &joinExecutor{step: step{id: end, next: next, in: c.in}} })
		c.edge(end, next)

		branches := make([]branch, 0, len(x.Conditions))
		for _, cond := range x.Conditions {
			entry, err := c.block(cond.Actions, end, loop)
			if err != nil {
				return "", err
			}
			branches = append(branches, branch{condition: cond.Condition, target: entry})
			c.edge(id, entry)
		}
		elseEntry, err := c.block(x.Else, end, loop)
		if err != nil {
			return "", err
		}
		c.edge(id, elseEntry)
		c.factory(id, func() workflow.Executor {
			return &conditionExecutor{step: base, branches: branches, elseTarget: elseEntry}
		})

	case *Foreach:
		body, err := c.block(x.Actions, id, id)
		if err != nil {
			return "", err
		}
		c.edge(id, body)
		c.edge(id, next)
		c.factory(id, func() workflow.Executor { return &foreachExecutor{step: base, action: x, body: body} })

	default:
		return "", fmt.Errorf("action %s: unsupported action %T", id, a)
	}
	return id, nil
}

// factory 绑定执行器工厂；每个 run 得到新的实例，私有状态互不影响
func (c *compiler) factory(id string, fn func() workflow.Executor) {
	c.b.BindExecutor(id, func() (workflow.Executor, error) { return fn(), nil })
}
