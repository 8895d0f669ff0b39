package orchestration

import (
	"context"
	"fmt"
	"reflect"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

// 编排内部执行器的保留 ID
const (
	InputExecutorID      = "input"
	OutputExecutorID     = "output"
	AggregatorExecutorID = "aggregator"
	GroupChatManagerID   = "group_chat_manager"
	HandoffCoordinatorID = "handoff_coordinator"
)

func isReserved(name string) bool {
	switch name {
	case InputExecutorID, OutputExecutorID, AggregatorExecutorID, GroupChatManagerID, HandoffCoordinatorID:
		return true
	}
	return false
}

// Turn 是交给参与者处理的对话
type Turn struct {
	Index    int             `json:"index"`
	Messages []types.Message `json:"messages"`
}

// AgentResult 是参与者对一次 Turn 的答复
type AgentResult struct {
	Agent     string          `json:"agent"`
	Messages  []types.Message `json:"messages"`
	HandoffTo string          `json:"handoff_to,omitempty"`
}

// Last 返回最后一条消息
func (r AgentResult) Last() (types.Message, bool) {
	if len(r.Messages) == 0 {
		return types.Message{}, false
	}
	return r.Messages[len(r.Messages)-1], true
}

// PendingRequest 是 Agent 后台响应未完成时 RequestInfo 的负载。
// 以任意数据恢复该 token 即表示再次轮询。
type PendingRequest struct {
	Agent             string `json:"agent"`
	ContinuationToken string `json:"continuation_token"`
}

// UserInputRequest 是等待人工输入时 RequestInfo 的负载。
// 恢复数据可以是 string、types.Message 或 []types.Message；空字符串表示不插话。
type UserInputRequest struct {
	LastSpeaker  string          `json:"last_speaker,omitempty"`
	Conversation []types.Message `json:"conversation"`
}

var (
	messagesType = reflect.TypeFor[[]types.Message]()
	messageType  = reflect.TypeFor[types.Message]()
	stringType   = reflect.TypeFor[string]()
)

// InputType 是编排工作流声明的输入类型
func InputType() reflect.Type { return messagesType }

// toMessages 把编排输入统一为消息列表
func toMessages(v any) ([]types.Message, error) {
	switch m := v.(type) {
	case nil:
		return nil, nil
	case string:
		if m == "" {
			return nil, nil
		}
		return []types.Message{types.NewUserMessage(m)}, nil
	case types.Message:
		return []types.Message{m}, nil
	case []types.Message:
		return append([]types.Message(nil), m...), nil
	}
	return nil, fmt.Errorf("unsupported input type %T", v)
}

// userReply 读取人工输入；恢复数据可能是尚未解析的 PortableValue
func userReply(resp workflow.ResumeResponse) ([]types.Message, error) {
	if s, err := workflow.ResponseAs[string](resp); err == nil {
		return toMessages(s)
	}
	if m, err := workflow.ResponseAs[types.Message](resp); err == nil {
		return toMessages(m)
	}
	msgs, err := workflow.ResponseAs[[]types.Message](resp)
	if err != nil {
		return nil, fmt.Errorf("user input: %w", err)
	}
	return msgs, nil
}

// inputExecutor 是所有编排的起点：规范化输入并发出 Turn
type inputExecutor struct{}

func (inputExecutor) ID() string { return InputExecutorID }

func (inputExecutor) InputTypes() []reflect.Type {
	return []reflect.Type{messagesType, messageType, stringType}
}

func (inputExecutor) Handle(_ context.Context, msg any, wc workflow.WorkflowContext) error {
	msgs, err := toMessages(msg)
	if err != nil {
		return err
	}
	wc.SendMessage(Turn{Messages: msgs})
	return nil
}

// outputExecutor 把最终 Turn 的对话作为工作流输出
type outputExecutor struct{}

func (outputExecutor) ID() string { return OutputExecutorID }

func (outputExecutor) InputTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[Turn]()}
}

func (outputExecutor) Handle(_ context.Context, msg any, wc workflow.WorkflowContext) error {
	turn, ok := msg.(Turn)
	if !ok {
		return fmt.Errorf("output: unexpected message %T", msg)
	}
	wc.YieldOutput(turn.Messages)
	return nil
}
