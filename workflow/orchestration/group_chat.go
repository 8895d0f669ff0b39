package orchestration

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// GroupChatState 是交给 GroupChatManager 决策的只读视图
type GroupChatState struct {
	Participants []string
	Roster       map[string]string
	History      []types.Message
	Round        int
	LastSpeaker  string
}

// GroupChatManager 决定轮到谁发言、何时结束以及何时暂停等待人工输入。
type GroupChatManager interface {
	SelectNext(ctx context.Context, state GroupChatState) (string, error)
	ShouldTerminate(ctx context.Context, state GroupChatState) (bool, error)
	ShouldRequestUserInput(ctx context.Context, state GroupChatState) (bool, error)
}

// RoundRobinManager 按花名册顺序轮流发言。
// MaxRounds 轮后结束；UserInputEvery > 0 时每隔这么多轮暂停一次等待人工输入。
type RoundRobinManager struct {
	MaxRounds      int
	UserInputEvery int
}

func (m RoundRobinManager) SelectNext(_ context.Context, state GroupChatState) (string, error) {
	if len(state.Participants) == 0 {
		return "", ErrNoParticipants
	}
	return state.Participants[state.Round%len(state.Participants)], nil
}

func (m RoundRobinManager) ShouldTerminate(_ context.Context, state GroupChatState) (bool, error) {
	return m.MaxRounds > 0 && state.Round >= m.MaxRounds, nil
}

func (m RoundRobinManager) ShouldRequestUserInput(_ context.Context, state GroupChatState) (bool, error) {
	return m.UserInputEvery > 0 && state.Round > 0 && state.Round%m.UserInputEvery == 0, nil
}

// AgentSelectionManager 让一个 Agent 根据花名册与历史挑选下一位发言人。
// Agent 回复 "DONE" 时结束。
type AgentSelectionManager struct {
	Selector  agent.Agent
	MaxRounds int
}

const selectionDone = "DONE"

func (m AgentSelectionManager) SelectNext(ctx context.Context, state GroupChatState) (string, error) {
	name, err := m.ask(ctx, state)
	if err != nil {
		return "", err
	}
	if name == selectionDone {
		return "", nil
	}
	return name, nil
}

func (m AgentSelectionManager) ShouldTerminate(_ context.Context, state GroupChatState) (bool, error) {
	return m.MaxRounds > 0 && state.Round >= m.MaxRounds, nil
}

func (m AgentSelectionManager) ShouldRequestUserInput(context.Context, GroupChatState) (bool, error) {
	return false, nil
}

func (m AgentSelectionManager) ask(ctx context.Context, state GroupChatState) (string, error) {
	var sb strings.Builder
	sb.WriteString("Select who speaks next. Participants:\n")
	for _, name := range state.Participants {
		fmt.Fprintf(&sb, "- %s: %s\n", name, state.Roster[name])
	}
	sb.WriteString("Reply with the participant name only, or " + selectionDone + " when the task is complete.")

	msgs := append([]types.Message{types.NewSystemMessage(sb.String())}, state.History...)
	resp, err := m.Selector.Run(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("select next speaker: %w", err)
	}
	if resp.Pending() {
		return "", fmt.Errorf("select next speaker: selector returned a background response")
	}
	return strings.TrimSpace(resp.Text()), nil
}

// NewGroupChat 构建群聊编排：管理者持有对话历史，按 manager 策略选择发言人，
// 参与者答复后回到管理者。管理者可暂停等待人工输入（RequestInfo + UserInputRequest）。
func NewGroupChat(agents []agent.Agent, manager GroupChatManager, opts ...Option) (*Orchestration, error) {
	if manager == nil {
		return nil, fmt.Errorf("group chat: manager is nil")
	}
	team, err := NewTeam(agents...)
	if err != nil {
		return nil, err
	}
	o := newOptions("group_chat", opts)

	names := team.Names()
	b := o.builder(InputExecutorID).
		AddExecutor(inputExecutor{}).
		BindExecutor(GroupChatManagerID, func() (workflow.Executor, error) {
			return &groupChatExecutor{team: team, manager: manager, logger: o.logger}, nil
		}).
		AddEdge(InputExecutorID, GroupChatManagerID)
	for _, name := range names {
		m, _ := team.Get(name)
		b.AddEdge(GroupChatManagerID, name).
			AddEdge(name, GroupChatManagerID).
			BindExecutor(name, o.participant(m, true))
	}

	wf, err := b.Build(InputType())
	if err != nil {
		return nil, fmt.Errorf("group chat orchestration: %w", err)
	}
	return &Orchestration{Pattern: PatternGroupChat, Workflow: wf, Team: team}, nil
}

type groupChatSnapshot struct {
	History     []types.Message `json:"history"`
	Round       int             `json:"round"`
	LastSpeaker string          `json:"last_speaker,omitempty"`
	Waiting     bool            `json:"waiting,omitempty"`
}

type groupChatExecutor struct {
	team    *Team
	manager GroupChatManager
	logger  *zap.Logger
	state   groupChatSnapshot
}

func (e *groupChatExecutor) ID() string { return GroupChatManagerID }

func (e *groupChatExecutor) InputTypes() []reflect.Type {
	return []reflect.Type{
		reflect.TypeFor[Turn](),
		reflect.TypeFor[AgentResult](),
		reflect.TypeFor[workflow.ResumeResponse](),
	}
}

func (e *groupChatExecutor) Handle(ctx context.Context, msg any, wc workflow.WorkflowContext) error {
	switch m := msg.(type) {
	case Turn:
		e.state = groupChatSnapshot{History: append([]types.Message(nil), m.Messages...)}
		return e.advance(ctx, wc, true)
	case AgentResult:
		e.state.History = append(e.state.History, m.Messages...)
		e.state.Round++
		e.state.LastSpeaker = m.Agent
		return e.advance(ctx, wc, true)
	case workflow.ResumeResponse:
		if !e.state.Waiting {
			return fmt.Errorf("group chat: unexpected resume")
		}
		reply, err := userReply(m)
		if err != nil {
			return err
		}
		e.state.Waiting = false
		e.state.History = append(e.state.History, reply...)
		return e.advance(ctx, wc, false)
	}
	return fmt.Errorf("group chat: unexpected message %T", msg)
}

// advance 依次检查结束、人工输入与下一位发言人
func (e *groupChatExecutor) advance(ctx context.Context, wc workflow.WorkflowContext, allowUserInput bool) error {
	view := e.view()
	done, err := e.manager.ShouldTerminate(ctx, view)
	if err != nil {
		return err
	}
	if done {
		e.finish(wc)
		return nil
	}
	if allowUserInput {
		ask, err := e.manager.ShouldRequestUserInput(ctx, view)
		if err != nil {
			return err
		}
		if ask {
			e.state.Waiting = true
			wc.RequestInfo(UserInputRequest{LastSpeaker: e.state.LastSpeaker, Conversation: view.History})
			return nil
		}
	}
	next, err := e.manager.SelectNext(ctx, view)
	if err != nil {
		return err
	}
	if next == "" {
		e.finish(wc)
		return nil
	}
	if !e.team.Has(next) {
		return fmt.Errorf("group chat: manager selected unknown participant %q (known: %s)",
			next, strings.Join(e.team.sortedNames(), ", "))
	}
	wc.Logger().Debug("next speaker", zap.String("speaker", next), zap.Int("round", e.state.Round))
	wc.SendMessage(Turn{Index: e.state.Round, Messages: view.History}, next)
	return nil
}

func (e *groupChatExecutor) finish(wc workflow.WorkflowContext) {
	e.logger.Debug("group chat finished", zap.Int("rounds", e.state.Round))
	wc.YieldOutput(append([]types.Message(nil), e.state.History...))
}

func (e *groupChatExecutor) view() GroupChatState {
	return GroupChatState{
		Participants: e.team.Names(),
		Roster:       e.team.Roster(),
		History:      append([]types.Message(nil), e.state.History...),
		Round:        e.state.Round,
		LastSpeaker:  e.state.LastSpeaker,
	}
}

func (e *groupChatExecutor) SaveState(context.Context) (any, error) {
	return e.state, nil
}

func (e *groupChatExecutor) RestoreState(_ context.Context, state *wire.PortableValue) error {
	s, err := wire.As[groupChatSnapshot](state)
	if err != nil {
		return err
	}
	e.state = s
	return nil
}
