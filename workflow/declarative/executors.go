package declarative

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/dsl"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// StartExecutorID 是声明式工作流的根执行器，Local / System 作用域归它所有
const StartExecutorID = "declarative_start"

// EndSuffix 是 ConditionGroup 结束节点 ID 的后缀
const EndSuffix = "_end"

// Signal 是动作之间传递的控制消息
type Signal struct {
	// Break 由 BreakLoop 发给所属的 Foreach
	Break bool `json:"break,omitempty"`
}

// AgentPending 是 InvokeAgent 收到后台响应时 RequestInfo 的负载。
// 以任意数据恢复该 token 即表示再次轮询。
type AgentPending struct {
	Action            string `json:"action"`
	Agent             string `json:"agent"`
	ContinuationToken string `json:"continuation_token"`
}

// InputRequest 是 RequestInput 挂起时 RequestInfo 的负载
type InputRequest struct {
	Action string `json:"action"`
	Prompt string `json:"prompt,omitempty"`
}

var signalTypes = []reflect.Type{reflect.TypeFor[Signal]()}

var resumableTypes = []reflect.Type{reflect.TypeFor[Signal](), reflect.TypeFor[workflow.ResumeResponse]()}

// interpreter 是所有动作执行器共享的只读运行环境
type interpreter struct {
	eval      *dsl.Evaluator
	env       map[string]any
	agents    map[string]agent.Agent
	variables map[string]VariableDef
	logger    *zap.Logger
}

func (in *interpreter) scope(wc workflow.WorkflowContext) *ScopeStore {
	return NewScopeStore(wc, StartExecutorID, in.env)
}

// step 是动作执行器的公共部分：ID 与后继节点
type step struct {
	id   string
	next string
	in   *interpreter
}

func (s *step) ID() string { return s.id }

func (s *step) forward(wc workflow.WorkflowContext) {
	if s.next != "" {
		wc.SendMessage(Signal{}, s.next)
	}
}

// ====== start ======

type startExecutor struct {
	step
}

func (e *startExecutor) InputTypes() []reflect.Type {
	return []reflect.Type{
		reflect.TypeFor[[]types.Message](),
		reflect.TypeFor[types.Message](),
		reflect.TypeFor[string](),
		reflect.TypeFor[map[string]any](),
	}
}

func (e *startExecutor) Handle(_ context.Context, msg any, wc workflow.WorkflowContext) error {
	store := e.in.scope(wc)

	var convo []types.Message
	var inputs map[string]any
	switch m := msg.(type) {
	case []types.Message:
		convo = append(convo, m...)
	case types.Message:
		convo = append(convo, m)
	case string:
		if m != "" {
			convo = append(convo, types.NewUserMessage(m))
		}
	case map[string]any:
		inputs = m
	default:
		return fmt.Errorf("declarative: unsupported input %T", msg)
	}

	names := make([]string, 0, len(e.in.variables))
	for name := range e.in.variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := e.in.variables[name]
		v, ok := inputs[name]
		if !ok {
			if def.Required {
				return fmt.Errorf("declarative: missing required input %q", name)
			}
			v = def.Default
		}
		if v == nil {
			continue
		}
		if err := store.Set(ScopeLocal, name, v); err != nil {
			return err
		}
	}
	for name, v := range inputs {
		if _, declared := e.in.variables[name]; !declared {
			if err := store.Set(ScopeLocal, name, v); err != nil {
				return err
			}
		}
	}

	last := ""
	if len(convo) > 0 {
		last = convo[len(convo)-1].Content
	}
	if err := store.Set(ScopeSystem, SysConversation, convo); err != nil {
		return err
	}
	if err := store.Set(ScopeSystem, SysLastMessageText, last); err != nil {
		return err
	}
	if err := store.Set(ScopeSystem, SysRunID, wc.RunID()); err != nil {
		return err
	}
	e.forward(wc)
	return nil
}

// ====== SetVariable ======

type setVariableExecutor struct {
	step
	action *SetVariable
}

func (e *setVariableExecutor) InputTypes() []reflect.Type { return signalTypes }

func (e *setVariableExecutor) Handle(_ context.Context, _ any, wc workflow.WorkflowContext) error {
	store := e.in.scope(wc)
	value := e.action.Value
	if e.action.Expression != "" {
		v, err := e.in.eval.Evaluate(e.action.Expression, store)
		if err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
		value = v
	}
	if err := store.Assign(e.action.Variable, value); err != nil {
		return fmt.Errorf("action %s: %w", e.id, err)
	}
	wc.Logger().Debug("variable set", zap.String("variable", e.action.Variable))
	e.forward(wc)
	return nil
}

// ====== SendActivity ======

type sendActivityExecutor struct {
	step
	action *SendActivity
}

func (e *sendActivityExecutor) InputTypes() []reflect.Type { return signalTypes }

func (e *sendActivityExecutor) Handle(_ context.Context, _ any, wc workflow.WorkflowContext) error {
	text, err := e.in.eval.Render(e.action.Text, e.in.scope(wc))
	if err != nil {
		return fmt.Errorf("action %s: %w", e.id, err)
	}
	wc.YieldOutput(text)
	e.forward(wc)
	return nil
}

// ====== ConditionGroup ======

type branch struct {
	condition string
	target    string
}

type conditionExecutor struct {
	step
	branches []branch
	// elseTarget 是 Else 分支入口；没有 Else 时为结束节点
	elseTarget string
}

func (e *conditionExecutor) InputTypes() []reflect.Type { return signalTypes }

func (e *conditionExecutor) Handle(_ context.Context, _ any, wc workflow.WorkflowContext) error {
	store := e.in.scope(wc)
	for i, b := range e.branches {
		ok, err := e.in.eval.EvaluateBool(b.condition, store)
		if err != nil {
			return fmt.Errorf("action %s: condition %d: %w", e.id, i, err)
		}
		if ok {
			wc.Logger().Debug("condition matched", zap.Int("branch", i), zap.String("target", b.target))
			wc.SendMessage(Signal{}, b.target)
			return nil
		}
	}
	wc.SendMessage(Signal{}, e.elseTarget)
	return nil
}

// joinExecutor 是 ConditionGroup 的显式结束节点
type joinExecutor struct {
	step
}

func (e *joinExecutor) InputTypes() []reflect.Type { return signalTypes }

func (e *joinExecutor) Handle(_ context.Context, _ any, wc workflow.WorkflowContext) error {
	e.forward(wc)
	return nil
}

// ====== Foreach ======

// loopState 是 Foreach 的检查点状态 (index, snapshot)。
// 只通过 reset 与 takeNext 两种转移修改。
type loopState struct {
	Index    int   `json:"index"`
	Snapshot []any `json:"snapshot"`
	Active   bool  `json:"active"`
}

// reset 以新的集合快照重新开始；items 为 nil 表示退出循环
func (s *loopState) reset(items []any) {
	s.Index = 0
	s.Snapshot = items
	s.Active = items != nil
}

// takeNext 取出下一项并前进
func (s *loopState) takeNext() (any, int, bool) {
	if !s.Active || s.Index >= len(s.Snapshot) {
		return nil, 0, false
	}
	idx := s.Index
	s.Index++
	return s.Snapshot[idx], idx, true
}

type foreachExecutor struct {
	step
	action *Foreach
	// body 是循环体入口；空循环体时指向自身
	body  string
	state loopState
}

func (e *foreachExecutor) InputTypes() []reflect.Type { return signalTypes }

func (e *foreachExecutor) Handle(_ context.Context, msg any, wc workflow.WorkflowContext) error {
	sig, _ := msg.(Signal)
	if sig.Break {
		e.state.reset(nil)
		e.forward(wc)
		return nil
	}

	store := e.in.scope(wc)
	if !e.state.Active {
		v, err := e.in.eval.Evaluate(e.action.Items, store)
		if err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
		items, err := toItems(v)
		if err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
		e.state.reset(items)
	}

	item, idx, ok := e.state.takeNext()
	if !ok {
		wc.Logger().Debug("loop finished", zap.Int("items", len(e.state.Snapshot)))
		e.state.reset(nil)
		e.forward(wc)
		return nil
	}
	if err := store.Assign(e.action.Value, item); err != nil {
		return fmt.Errorf("action %s: %w", e.id, err)
	}
	if e.action.Index != "" {
		if err := store.Assign(e.action.Index, idx); err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
	}
	wc.SendMessage(Signal{}, e.body)
	return nil
}

func (e *foreachExecutor) SaveState(context.Context) (any, error) {
	return e.state, nil
}

func (e *foreachExecutor) RestoreState(_ context.Context, state *wire.PortableValue) error {
	s, err := wire.As[loopState](state)
	if err != nil {
		return err
	}
	e.state = s
	return nil
}

// toItems 把表达式结果转换为集合快照；map 按 key 排序展开为 {key, value}。
func toItems(v any) ([]any, error) {
	switch c := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return append([]any{}, c...), nil
	case []string:
		out := make([]any, len(c))
		for i, s := range c {
			out[i] = s
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(c))
		for k := range c {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = map[string]any{"key": k, "value": c[k]}
		}
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("foreach items must be a list, got %T", v)
}

// ====== loop control ======

// loopControlExecutor 实现 BreakLoop / ContinueLoop：向所属 Foreach 发送信号
type loopControlExecutor struct {
	step
	brk bool
}

func (e *loopControlExecutor) InputTypes() []reflect.Type { return signalTypes }

func (e *loopControlExecutor) Handle(_ context.Context, _ any, wc workflow.WorkflowContext) error {
	wc.SendMessage(Signal{Break: e.brk}, e.next)
	return nil
}

// ====== EndWorkflow ======

type endExecutor struct {
	step
	action *EndWorkflow
}

func (e *endExecutor) InputTypes() []reflect.Type { return signalTypes }

func (e *endExecutor) Handle(_ context.Context, _ any, wc workflow.WorkflowContext) error {
	if e.action.Output != "" {
		v, err := e.in.eval.Evaluate(e.action.Output, e.in.scope(wc))
		if err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
		wc.YieldOutput(v)
	}
	wc.Logger().Debug("workflow ended by action")
	return nil
}

// ====== InvokeAgent ======

// invokeState 是 InvokeAgent 的检查点状态。PendingToken 非空时等待后台响应。
type invokeState struct {
	Messages     []types.Message `json:"messages"`
	Added        []types.Message `json:"added,omitempty"`
	PendingToken string          `json:"pending_token,omitempty"`
}

type invokeAgentExecutor struct {
	step
	action *InvokeAgent
	state  invokeState
}

func (e *invokeAgentExecutor) InputTypes() []reflect.Type { return resumableTypes }

func (e *invokeAgentExecutor) Handle(ctx context.Context, msg any, wc workflow.WorkflowContext) error {
	switch msg.(type) {
	case Signal:
		if err := e.prepare(wc); err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
	case workflow.ResumeResponse:
		if e.state.PendingToken == "" {
			return fmt.Errorf("action %s: resume without pending agent response", e.id)
		}
	default:
		return fmt.Errorf("action %s: unexpected message %T", e.id, msg)
	}
	return e.invoke(ctx, wc)
}

// prepare 组装 prompt：instructions、对话历史、输入
func (e *invokeAgentExecutor) prepare(wc workflow.WorkflowContext) error {
	store := e.in.scope(wc)
	var msgs []types.Message
	if e.action.Instructions != "" {
		instructions, err := e.in.eval.Render(e.action.Instructions, store)
		if err != nil {
			return err
		}
		msgs = append(msgs, types.NewSystemMessage(instructions))
	}
	convo, err := store.Conversation()
	if err != nil {
		return err
	}
	msgs = append(msgs, convo...)

	var added []types.Message
	if e.action.Input != "" {
		v, err := e.in.eval.Evaluate(e.action.Input, store)
		if err != nil {
			return err
		}
		if text := dsl.Format(v); text != "" {
			added = append(added, types.NewUserMessage(text))
		}
	}
	e.state = invokeState{Messages: append(msgs, added...), Added: added}
	return nil
}

func (e *invokeAgentExecutor) invoke(ctx context.Context, wc workflow.WorkflowContext) error {
	a := e.in.agents[e.action.Agent]
	var opts []agent.RunOption
	if e.state.PendingToken != "" {
		opts = append(opts, agent.WithContinuation(e.state.PendingToken))
	}
	resp, err := a.Run(ctx, e.state.Messages, opts...)
	if err != nil {
		return fmt.Errorf("action %s: agent %s: %w", e.id, e.action.Agent, err)
	}
	if resp.Pending() {
		e.state.PendingToken = resp.ContinuationToken
		tok := wc.RequestInfo(AgentPending{
			Action:            e.id,
			Agent:             e.action.Agent,
			ContinuationToken: resp.ContinuationToken,
		})
		wc.Logger().Debug("agent response pending", zap.String("token", tok.ID))
		return nil
	}
	e.state.PendingToken = ""

	store := e.in.scope(wc)
	if e.action.Output != "" {
		if err := store.Assign(e.action.Output, resp.Text()); err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
	}
	if e.action.AddToConversation {
		added := append(append([]types.Message(nil), e.state.Added...), resp.Messages...)
		if err := store.AppendConversation(added...); err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
	}
	e.forward(wc)
	return nil
}

func (e *invokeAgentExecutor) SaveState(context.Context) (any, error) {
	return e.state, nil
}

func (e *invokeAgentExecutor) RestoreState(_ context.Context, state *wire.PortableValue) error {
	s, err := wire.As[invokeState](state)
	if err != nil {
		return err
	}
	e.state = s
	return nil
}

// ====== RequestInput ======

type requestInputExecutor struct {
	step
	action  *RequestInput
	waiting bool
}

func (e *requestInputExecutor) InputTypes() []reflect.Type { return resumableTypes }

func (e *requestInputExecutor) Handle(_ context.Context, msg any, wc workflow.WorkflowContext) error {
	store := e.in.scope(wc)
	switch m := msg.(type) {
	case Signal:
		prompt, err := e.in.eval.Render(e.action.Prompt, store)
		if err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
		e.waiting = true
		wc.RequestInfo(InputRequest{Action: e.id, Prompt: prompt})
		return nil
	case workflow.ResumeResponse:
		if !e.waiting {
			return fmt.Errorf("action %s: unexpected resume", e.id)
		}
		e.waiting = false
		value := inputValue(m.Data)
		if err := store.Assign(e.action.Variable, value); err != nil {
			return fmt.Errorf("action %s: %w", e.id, err)
		}
		if text, ok := value.(string); ok && text != "" && e.action.AddToConversation {
			if err := store.AppendConversation(types.NewUserMessage(text)); err != nil {
				return fmt.Errorf("action %s: %w", e.id, err)
			}
		}
		e.forward(wc)
		return nil
	}
	return fmt.Errorf("action %s: unexpected message %T", e.id, msg)
}

func (e *requestInputExecutor) SaveState(context.Context) (any, error) {
	return e.waiting, nil
}

func (e *requestInputExecutor) RestoreState(_ context.Context, state *wire.PortableValue) error {
	w, err := wire.As[bool](state)
	if err != nil {
		return err
	}
	e.waiting = w
	return nil
}

// inputValue 规范化外部输入：消息取文本，检查点中的值按通用形式解析
func inputValue(data any) any {
	switch d := data.(type) {
	case types.Message:
		return d.Content
	case *wire.PortableValue:
		v, err := d.Resolve(reflect.TypeFor[any]())
		if err != nil {
			return nil
		}
		return v
	}
	return data
}
