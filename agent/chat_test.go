package agent_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/testutil/mocks"
	"github.com/BaSui01/agentgraph/types"
)

// noToolsProvider 不支持原生函数调用的 Provider
type noToolsProvider struct {
	mock.Mock
}

func (p *noToolsProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	args := p.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.ChatResponse), args.Error(1)
}

func (p *noToolsProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	args := p.Called(ctx, req)
	return nil, args.Error(1)
}

func (p *noToolsProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (p *noToolsProvider) Name() string                        { return "plain" }
func (p *noToolsProvider) SupportsNativeFunctionCalling() bool { return false }

func userMessages(content string) []types.Message {
	return []types.Message{types.NewUserMessage(content)}
}

func newAgent(t *testing.T, provider llm.Provider, opts ...agent.Option) *agent.ChatAgent {
	t.Helper()
	a, err := agent.NewChatAgent(agent.Config{
		Name:         "billing",
		Description:  "answers billing questions",
		Instructions: "You are the billing agent.",
		Model:        "gpt-test",
	}, provider, opts...)
	require.NoError(t, err)
	return a
}

// =============================================================================
// 🧪 ChatAgent 基础行为
// =============================================================================

func TestChatAgent_Reply(t *testing.T) {
	provider := mocks.NewSuccessProvider("your balance is 42")
	a := newAgent(t, provider)

	resp, err := a.Run(context.Background(), userMessages("balance?"))
	require.NoError(t, err)

	assert.Equal(t, "billing", resp.AgentName)
	assert.Equal(t, "your balance is 42", resp.Text())
	assert.False(t, resp.Pending())
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "billing", resp.Messages[0].Name)
	assert.Equal(t, 30, resp.Usage.TotalTokens)

	req := provider.GetLastCall().Request
	require.Len(t, req.Messages, 2)
	assert.Equal(t, types.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "gpt-test", req.Model)
}

func TestChatAgent_ConfigValidation(t *testing.T) {
	_, err := agent.NewChatAgent(agent.Config{}, mocks.NewMockProvider())
	assert.ErrorIs(t, err, agent.ErrConfigInvalid)

	_, err = agent.NewChatAgent(agent.Config{Name: "x"}, nil)
	assert.ErrorIs(t, err, agent.ErrProviderNotSet)

	_, err = agent.NewChatAgent(agent.Config{Name: "x", MaxToolRounds: -1}, mocks.NewMockProvider())
	assert.ErrorIs(t, err, agent.ErrConfigInvalid)
}

func TestChatAgent_ModelOverrideAndRunID(t *testing.T) {
	provider := mocks.NewSuccessProvider("ok")
	a := newAgent(t, provider)

	ctx := ctxkeys.WithLLMModel(context.Background(), "gpt-override")
	ctx = ctxkeys.WithRunID(ctx, "run-1")
	_, err := a.Run(ctx, userMessages("hi"))
	require.NoError(t, err)

	req := provider.GetLastCall().Request
	assert.Equal(t, "gpt-override", req.Model)
	assert.Equal(t, "run-1", req.Metadata["run_id"])
}

func TestChatAgent_ProviderError(t *testing.T) {
	boom := errors.New("backend down")
	a := newAgent(t, mocks.NewErrorProvider(boom))

	_, err := a.Run(context.Background(), userMessages("hi"))
	assert.ErrorIs(t, err, boom)
}

// =============================================================================
// 🔧 工具循环
// =============================================================================

func TestChatAgent_ToolLoop(t *testing.T) {
	calls := 0
	provider := mocks.NewMockProvider().WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		msg := types.NewAssistantMessage("")
		if calls == 1 {
			msg.ToolCalls = []types.ToolCall{{ID: "call-1", Name: "lookup", Arguments: []byte(`{"id":"A1"}`)}}
		} else {
			msg.Content = "done"
		}
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: msg}}, Status: llm.StatusCompleted}, nil
	})
	tools := mocks.NewMockToolManager().WithToolResult("lookup", map[string]any{"balance": 42})
	a := newAgent(t, provider, agent.WithToolExecutor(tools, tools.List()...))

	resp, err := a.Run(context.Background(), userMessages("balance?"))
	require.NoError(t, err)

	require.Len(t, resp.Messages, 3)
	assert.Len(t, resp.Messages[0].ToolCalls, 1)
	assert.Equal(t, types.RoleTool, resp.Messages[1].Role)
	assert.Equal(t, "call-1", resp.Messages[1].ToolCallID)
	assert.JSONEq(t, `{"balance":42}`, resp.Messages[1].Content)
	assert.Equal(t, "done", resp.Text())
	assert.Equal(t, 1, tools.GetCallCount())

	// 第二次请求应包含工具结果
	last := provider.GetLastCall().Request
	assert.Equal(t, types.RoleTool, last.Messages[len(last.Messages)-1].Role)
}

func TestChatAgent_ToolErrorReturnedToModel(t *testing.T) {
	calls := 0
	provider := mocks.NewMockProvider().WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		msg := types.NewAssistantMessage("sorry")
		if calls == 1 {
			msg.ToolCalls = []types.ToolCall{{ID: "c", Name: "missing"}}
		}
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: msg}}}, nil
	})
	tools := mocks.NewMockToolManager()
	a := newAgent(t, provider, agent.WithToolExecutor(tools))

	resp, err := a.Run(context.Background(), userMessages("x"))
	require.NoError(t, err)
	require.Len(t, resp.Messages, 3)
	assert.Contains(t, resp.Messages[1].Content, "Error: tool not found")
}

func TestChatAgent_ToolRoundsExceeded(t *testing.T) {
	provider := mocks.NewToolCallProvider([]types.ToolCall{{ID: "c", Name: "loop"}})
	tools := mocks.NewMockToolManager().WithToolResult("loop", "again")
	a, err := agent.NewChatAgent(agent.Config{Name: "looper", MaxToolRounds: 2}, provider,
		agent.WithToolExecutor(tools, tools.List()...))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), userMessages("go"))
	assert.ErrorIs(t, err, agent.ErrToolRoundsExceeded)
	assert.Equal(t, 2, provider.GetCallCount())
}

func TestChatAgent_ToolsRequireFunctionCalling(t *testing.T) {
	provider := new(noToolsProvider)
	a := newAgent(t, provider)

	_, err := a.Run(context.Background(), userMessages("x"), agent.WithTools(agent.HandoffTool("support", "")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support function calling")
	provider.AssertNotCalled(t, "Completion", mock.Anything, mock.Anything)
}

// =============================================================================
// 🔀 Hand-off 与后台响应
// =============================================================================

func TestChatAgent_Handoff(t *testing.T) {
	provider := mocks.NewToolCallProvider([]types.ToolCall{{ID: "h", Name: "handoff_to_support"}})
	tools := mocks.NewMockToolManager()
	a := newAgent(t, provider, agent.WithToolExecutor(tools))

	resp, err := a.Run(context.Background(), userMessages("my router is broken"),
		agent.WithTools(agent.HandoffTool("support", "technical issues")))
	require.NoError(t, err)

	assert.Equal(t, "support", resp.HandoffTo)
	assert.Equal(t, 0, tools.GetCallCount())
	req := provider.GetLastCall().Request
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "handoff_to_support", req.Tools[0].Name)
	assert.Contains(t, req.Tools[0].Description, "technical issues")
}

func TestParseHandoff(t *testing.T) {
	tests := []struct {
		name   string
		calls  []types.ToolCall
		target string
		ok     bool
	}{
		{name: "none", calls: nil},
		{name: "regular tool", calls: []types.ToolCall{{Name: "lookup"}}},
		{name: "empty target", calls: []types.ToolCall{{Name: "handoff_to_"}}},
		{name: "first wins", calls: []types.ToolCall{{Name: "lookup"}, {Name: "handoff_to_billing"}, {Name: "handoff_to_support"}}, target: "billing", ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, ok := agent.ParseHandoff(tt.calls)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.target, target)
		})
	}
}

func TestChatAgent_BackgroundResponse(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("report ready").WithPendingPolls(1)
	a := newAgent(t, provider)

	resp, err := a.Run(context.Background(), userMessages("build report"))
	require.NoError(t, err)
	require.True(t, resp.Pending())
	assert.Equal(t, "mock-continuation-1", resp.ContinuationToken)
	assert.Empty(t, resp.Messages)

	resp, err = a.Run(context.Background(), userMessages("build report"), agent.WithContinuation(resp.ContinuationToken))
	require.NoError(t, err)
	assert.False(t, resp.Pending())
	assert.Equal(t, "report ready", resp.Text())
	assert.Equal(t, "mock-continuation-1", provider.GetLastCall().Request.ContinuationToken)
}

// =============================================================================
// 📡 流式与记忆
// =============================================================================

func TestChatAgent_Streaming(t *testing.T) {
	provider := mocks.NewStreamProvider([]string{"he", "ll", "o"})
	a := newAgent(t, provider)

	var deltas []string
	resp, err := a.Run(context.Background(), userMessages("hi"), agent.WithUpdateHandler(func(u agent.Update) {
		assert.Equal(t, "billing", u.AgentName)
		deltas = append(deltas, u.Delta)
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"he", "ll", "o"}, deltas)
	assert.Equal(t, "hello", resp.Text())
}

func TestChatAgent_Memory(t *testing.T) {
	memory := mocks.NewMockMemoryManager().WithMessages([]types.Message{
		types.NewUserMessage("earlier question"),
		types.NewAssistantMessage("earlier answer"),
	})
	provider := mocks.NewSuccessProvider("now")
	a := newAgent(t, provider, agent.WithMemory(memory, 10))

	_, err := a.Run(context.Background(), userMessages("follow up"))
	require.NoError(t, err)

	req := provider.GetLastCall().Request
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "earlier question", req.Messages[1].Content)
	assert.Equal(t, 4, memory.Count())
}

func TestFuncAgent(t *testing.T) {
	a := agent.NewFuncAgent("echo", "echoes", func(ctx context.Context, msgs []types.Message, opts agent.RunOptions) (*agent.Response, error) {
		return &agent.Response{Messages: []types.Message{types.NewAssistantMessage(msgs[len(msgs)-1].Content)}}, nil
	})

	resp, err := a.Run(context.Background(), userMessages("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo", resp.AgentName)
	assert.Equal(t, "ping", resp.Text())
	assert.Equal(t, "echoes", a.Description())
	assert.Equal(t, "pong", agent.Reply("x", "pong").Text())
}
