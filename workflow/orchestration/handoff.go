package orchestration

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// HandoffTarget 是一条合法的 hand-off 路由及其说明
type HandoffTarget struct {
	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

// HandoffEvent 在控制权转交时作为 EventExecutor 事件发出
type HandoffEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// HandoffBuilder 构建 hand-off 编排。
// 起始参与者（默认第一个）先接收对话，任何参与者都可以通过 handoff_to_<name>
// 工具把控制权交给其路由表中的目标。
type HandoffBuilder struct {
	agents      []agent.Agent
	start       string
	routes      map[string][]HandoffTarget
	order       []string
	interactive bool
	opts        []Option
}

// NewHandoffBuilder 创建 hand-off 编排构建器
func NewHandoffBuilder(agents ...agent.Agent) *HandoffBuilder {
	return &HandoffBuilder{agents: agents, routes: make(map[string][]HandoffTarget)}
}

// WithStart 设置起始（分诊）参与者
func (b *HandoffBuilder) WithStart(name string) *HandoffBuilder {
	b.start = name
	return b
}

// Allow 声明 from 可以转交给 targets
func (b *HandoffBuilder) Allow(from string, targets ...HandoffTarget) *HandoffBuilder {
	if _, ok := b.routes[from]; !ok {
		b.order = append(b.order, from)
	}
	b.routes[from] = append(b.routes[from], targets...)
	return b
}

// Interactive 参与者未转交而直接回答时暂停等待用户输入，而不是结束
func (b *HandoffBuilder) Interactive() *HandoffBuilder {
	b.interactive = true
	return b
}

// WithOptions 追加编排选项
func (b *HandoffBuilder) WithOptions(opts ...Option) *HandoffBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build 校验路由表并构建工作流；引用未注册参与者时返回 *RoutingError。
func (b *HandoffBuilder) Build() (*Orchestration, error) {
	team, err := NewTeam(b.agents...)
	if err != nil {
		return nil, err
	}
	start := b.start
	if start == "" {
		start = team.Names()[0]
	}
	if !team.Has(start) {
		return nil, &RoutingError{Target: start}
	}

	table := make(map[string]map[string]bool, len(b.routes))
	for _, from := range b.order {
		if !team.Has(from) {
			return nil, &RoutingError{Target: from}
		}
		allowed := make(map[string]bool, len(b.routes[from]))
		for _, t := range b.routes[from] {
			if !team.Has(t.Name) {
				return nil, &RoutingError{From: from, Target: t.Name}
			}
			allowed[t.Name] = true
		}
		table[from] = allowed
	}

	o := newOptions("handoff", b.opts)
	names := team.Names()
	wb := o.builder(InputExecutorID).
		AddExecutor(inputExecutor{}).
		BindExecutor(HandoffCoordinatorID, func() (workflow.Executor, error) {
			return &handoffExecutor{
				start:       start,
				table:       table,
				interactive: b.interactive,
				logger:      o.logger,
			}, nil
		}).
		AddEdge(InputExecutorID, HandoffCoordinatorID)
	for _, name := range names {
		m, _ := team.Get(name)
		tools := make([]types.ToolSchema, 0, len(b.routes[name]))
		for _, t := range b.routes[name] {
			tools = append(tools, agent.HandoffTool(t.Name, t.Reason))
		}
		var extra []agent.RunOption
		if len(tools) > 0 {
			extra = append(extra, agent.WithTools(tools...))
		}
		wb.AddEdge(HandoffCoordinatorID, name).
			AddEdge(name, HandoffCoordinatorID).
			BindExecutor(name, o.participant(m, true, extra...))
	}

	wf, err := wb.Build(InputType())
	if err != nil {
		return nil, fmt.Errorf("handoff orchestration: %w", err)
	}
	return &Orchestration{Pattern: PatternHandoff, Workflow: wf, Team: team}, nil
}

type handoffSnapshot struct {
	Conversation []types.Message `json:"conversation"`
	Current      string          `json:"current"`
	Waiting      bool            `json:"waiting,omitempty"`
	Handoffs     int             `json:"handoffs"`
}

type handoffExecutor struct {
	start       string
	table       map[string]map[string]bool
	interactive bool
	logger      *zap.Logger
	state       handoffSnapshot
}

func (e *handoffExecutor) ID() string { return HandoffCoordinatorID }

func (e *handoffExecutor) InputTypes() []reflect.Type {
	return []reflect.Type{
		reflect.TypeFor[Turn](),
		reflect.TypeFor[AgentResult](),
		reflect.TypeFor[workflow.ResumeResponse](),
	}
}

func (e *handoffExecutor) Handle(ctx context.Context, msg any, wc workflow.WorkflowContext) error {
	switch m := msg.(type) {
	case Turn:
		e.state = handoffSnapshot{Conversation: append([]types.Message(nil), m.Messages...), Current: e.start}
		e.dispatch(wc)
		return nil
	case AgentResult:
		return e.onResult(wc, m)
	case workflow.ResumeResponse:
		if !e.state.Waiting {
			return fmt.Errorf("handoff: unexpected resume")
		}
		reply, err := userReply(m)
		if err != nil {
			return err
		}
		e.state.Waiting = false
		if len(reply) == 0 {
			e.finish(wc)
			return nil
		}
		e.state.Conversation = append(e.state.Conversation, reply...)
		e.dispatch(wc)
		return nil
	}
	return fmt.Errorf("handoff: unexpected message %T", msg)
}

func (e *handoffExecutor) onResult(wc workflow.WorkflowContext, r AgentResult) error {
	e.state.Conversation = append(e.state.Conversation, r.Messages...)
	if r.HandoffTo != "" {
		if !e.table[r.Agent][r.HandoffTo] {
			return &RoutingError{From: r.Agent, Target: r.HandoffTo}
		}
		wc.AddEvent(HandoffEvent{From: r.Agent, To: r.HandoffTo})
		wc.Logger().Info("hand-off", zap.String("from", r.Agent), zap.String("to", r.HandoffTo))
		e.state.Current = r.HandoffTo
		e.state.Handoffs++
		e.dispatch(wc)
		return nil
	}
	if e.interactive {
		e.state.Waiting = true
		wc.RequestInfo(UserInputRequest{
			LastSpeaker:  r.Agent,
			Conversation: append([]types.Message(nil), e.state.Conversation...),
		})
		return nil
	}
	e.finish(wc)
	return nil
}

func (e *handoffExecutor) dispatch(wc workflow.WorkflowContext) {
	wc.SendMessage(Turn{
		Index:    e.state.Handoffs,
		Messages: append([]types.Message(nil), e.state.Conversation...),
	}, e.state.Current)
}

func (e *handoffExecutor) finish(wc workflow.WorkflowContext) {
	e.logger.Debug("hand-off conversation finished",
		zap.String("last", e.state.Current), zap.Int("handoffs", e.state.Handoffs))
	wc.YieldOutput(append([]types.Message(nil), e.state.Conversation...))
}

func (e *handoffExecutor) SaveState(context.Context) (any, error) {
	return e.state, nil
}

func (e *handoffExecutor) RestoreState(_ context.Context, state *wire.PortableValue) error {
	s, err := wire.As[handoffSnapshot](state)
	if err != nil {
		return err
	}
	e.state = s
	return nil
}
