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

// agentState 是 AgentExecutor 的检查点状态：(index, messages, pendingToken)。
// PendingToken 非空时执行器正在等待后台响应，恢复后在同一位置继续。
type agentState struct {
	Index        int             `json:"index"`
	Messages     []types.Message `json:"messages"`
	PendingToken string          `json:"pending_token,omitempty"`
}

// AgentExecutorOption 配置 AgentExecutor
type AgentExecutorOption func(*AgentExecutor)

func withReply(reply bool) AgentExecutorOption {
	return func(e *AgentExecutor) { e.reply = reply }
}

func withStream(stream bool) AgentExecutorOption {
	return func(e *AgentExecutor) { e.stream = stream }
}

func withRunOptions(opts ...agent.RunOption) AgentExecutorOption {
	return func(e *AgentExecutor) { e.runOptions = opts }
}

// AgentExecutor 把 agent.Agent 适配为工作流执行器。
//
// 收到 Turn 时运行 Agent：
//   - 链式模式下把追加了回复的对话作为下一个 Turn 发送
//   - 答复模式下（group chat / hand-off）向协调者发送 AgentResult
//
// Agent 返回后台响应时执行器通过 RequestInfo 挂起，状态写入检查点；
// 以对应 token 恢复后带续传令牌重新轮询。
type AgentExecutor struct {
	id         string
	agent      agent.Agent
	reply      bool
	stream     bool
	runOptions []agent.RunOption
	state      agentState
}

// NewAgentExecutor 创建 AgentExecutor，id 通常是 Agent 名称
func NewAgentExecutor(id string, a agent.Agent, opts ...AgentExecutorOption) *AgentExecutor {
	e := &AgentExecutor{id: id, agent: a}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *AgentExecutor) ID() string { return e.id }

func (e *AgentExecutor) InputTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[Turn](), reflect.TypeFor[workflow.ResumeResponse]()}
}

func (e *AgentExecutor) Handle(ctx context.Context, msg any, wc workflow.WorkflowContext) error {
	switch m := msg.(type) {
	case Turn:
		e.state = agentState{Index: m.Index, Messages: m.Messages}
		return e.run(ctx, wc)
	case workflow.ResumeResponse:
		if e.state.PendingToken == "" {
			return fmt.Errorf("agent %s: %w", e.id, ErrNoPendingResponse)
		}
		return e.run(ctx, wc)
	}
	return fmt.Errorf("agent %s: unexpected message %T", e.id, msg)
}

func (e *AgentExecutor) run(ctx context.Context, wc workflow.WorkflowContext) error {
	opts := append([]agent.RunOption(nil), e.runOptions...)
	if e.stream {
		opts = append(opts, agent.WithUpdateHandler(func(u agent.Update) { wc.AddEvent(u) }))
	}
	if e.state.PendingToken != "" {
		opts = append(opts, agent.WithContinuation(e.state.PendingToken))
	}

	resp, err := e.agent.Run(ctx, e.state.Messages, opts...)
	if err != nil {
		return err
	}
	if resp.Pending() {
		e.state.PendingToken = resp.ContinuationToken
		tok := wc.RequestInfo(PendingRequest{Agent: e.agent.Name(), ContinuationToken: resp.ContinuationToken})
		wc.Logger().Debug("agent response pending", zap.String("token", tok.ID))
		return nil
	}
	e.state.PendingToken = ""

	if e.reply {
		wc.SendMessage(AgentResult{Agent: e.agent.Name(), Messages: resp.Messages, HandoffTo: resp.HandoffTo})
		return nil
	}
	convo := append(append([]types.Message(nil), e.state.Messages...), resp.Messages...)
	wc.SendMessage(Turn{Index: e.state.Index + 1, Messages: convo})
	return nil
}

func (e *AgentExecutor) SaveState(context.Context) (any, error) {
	return e.state, nil
}

func (e *AgentExecutor) RestoreState(_ context.Context, state *wire.PortableValue) error {
	s, err := wire.As[agentState](state)
	if err != nil {
		return err
	}
	e.state = s
	return nil
}
