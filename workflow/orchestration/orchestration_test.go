package orchestration_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/testutil/mocks"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/checkpoint"
	"github.com/BaSui01/agentgraph/workflow/orchestration"
)

// appender 在对话末尾追加固定回复
func appender(name, suffix string) *agent.FuncAgent {
	return agent.NewFuncAgent(name, name+" agent", func(_ context.Context, msgs []types.Message, _ agent.RunOptions) (*agent.Response, error) {
		last := ""
		if len(msgs) > 0 {
			last = msgs[len(msgs)-1].Content
		}
		return agent.Reply(name, last+suffix), nil
	})
}

// speaker 回复 "<name>#<消息数>"
func speaker(name string) *agent.FuncAgent {
	return agent.NewFuncAgent(name, "speaks as "+name, func(_ context.Context, msgs []types.Message, _ agent.RunOptions) (*agent.Response, error) {
		return agent.Reply(name, name), nil
	})
}

func contents(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func resultMessages(t *testing.T, run *workflow.Run) []types.Message {
	t.Helper()
	out, ok := run.Result()
	require.True(t, ok, "run has no output")
	msgs, ok := out.([]types.Message)
	require.True(t, ok, "unexpected output %T", out)
	return msgs
}

func newEngine() *workflow.Engine {
	return workflow.NewEngine(workflow.WithCheckpointStore(checkpoint.NewMemoryStore()))
}

// =============================================================================
// 📋 花名册
// =============================================================================

func TestTeam(t *testing.T) {
	team, err := orchestration.NewTeam(speaker("A"), speaker("B"))
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, team.Names())
	assert.Equal(t, map[string]string{"A": "speaks as A", "B": "speaks as B"}, team.Roster())
	assert.Equal(t, "- A: speaks as A\n- B: speaks as B\n", team.Describe())

	m, ok := team.Get("A")
	require.True(t, ok)
	assert.Equal(t, "*agent.FuncAgent", m.Kind)

	_, err = orchestration.NewTeam(speaker("A"), speaker("A"))
	assert.ErrorIs(t, err, orchestration.ErrDuplicateParticipant)

	_, err = orchestration.NewTeam(speaker("input"))
	assert.ErrorIs(t, err, orchestration.ErrReservedName)

	_, err = orchestration.NewTeam()
	assert.ErrorIs(t, err, orchestration.ErrNoParticipants)
}

// =============================================================================
// ➡️ Sequential
// =============================================================================

func TestSequential(t *testing.T) {
	o, err := orchestration.NewSequential([]agent.Agent{
		appender("writer", " draft"),
		appender("reviewer", " approved"),
	})
	require.NoError(t, err)
	assert.Equal(t, orchestration.PatternSequential, o.Pattern)
	assert.Len(t, o.Roster(), 2)

	run, err := o.Run(context.Background(), newEngine(), "topic")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunCompleted, run.Status())

	msgs := resultMessages(t, run)
	assert.Equal(t, []string{"topic", "topic draft", "topic draft approved"}, contents(msgs))
	assert.Equal(t, "writer", msgs[1].Name)
	assert.Equal(t, "reviewer", msgs[2].Name)
}

func TestSequential_BackgroundResponseSuspendsAndResumes(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("long report").WithPendingPolls(1)
	researcher, err := agent.NewChatAgent(agent.Config{Name: "researcher"}, provider)
	require.NoError(t, err)

	o, err := orchestration.NewSequential([]agent.Agent{researcher, appender("editor", " (edited)")})
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	ctx := context.Background()
	run, err := o.Run(ctx, workflow.NewEngine(workflow.WithCheckpointStore(store)), "research", workflow.WithRunID("seq-1"))
	require.NoError(t, err)
	require.Equal(t, workflow.RunSuspended, run.Status())

	tokens := run.PendingTokens()
	require.Len(t, tokens, 1)
	assert.Equal(t, "researcher", tokens[0].ExecutorID)
	req, ok := tokens[0].Request.(orchestration.PendingRequest)
	require.True(t, ok)
	assert.Equal(t, "mock-continuation-1", req.ContinuationToken)

	// 新引擎从检查点恢复，(index, messages, pendingToken) 完整还原
	resumed, err := o.Resume(ctx, workflow.NewEngine(workflow.WithCheckpointStore(store)), "seq-1",
		workflow.WithResponse(tokens[0].ID, nil))
	require.NoError(t, err)
	require.Equal(t, workflow.RunCompleted, resumed.Status())

	assert.Equal(t, []string{"research", "long report", "long report (edited)"}, contents(resultMessages(t, resumed)))
	assert.Equal(t, "mock-continuation-1", provider.GetLastCall().Request.ContinuationToken)
}

func TestSequential_AgentErrorIsFault(t *testing.T) {
	boom := errors.New("model unavailable")
	failing := agent.NewFuncAgent("broken", "", func(context.Context, []types.Message, agent.RunOptions) (*agent.Response, error) {
		return nil, boom
	})
	o, err := orchestration.NewSequential([]agent.Agent{appender("a", "!"), failing})
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "x")
	assert.ErrorIs(t, err, boom)
	var fault *workflow.ExecutorFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "broken", fault.ExecutorID)
	assert.Equal(t, workflow.RunFailed, run.Status())
}

func TestSequential_RetryRecoversTransientFailure(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	flaky := agent.NewFuncAgent("flaky", "", func(context.Context, []types.Message, agent.RunOptions) (*agent.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return agent.Reply("flaky", "ok"), nil
	})
	cfg := workflow.DefaultResilienceConfig()
	cfg.RetryDelay = time.Millisecond
	o, err := orchestration.NewSequential([]agent.Agent{flaky}, orchestration.WithRetry(cfg))
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "ok"}, contents(resultMessages(t, run)))
	assert.Equal(t, 2, calls)
}

func TestSequential_StreamingEmitsUpdates(t *testing.T) {
	streamer, err := agent.NewChatAgent(agent.Config{Name: "streamer"}, mocks.NewStreamProvider([]string{"a", "b"}))
	require.NoError(t, err)
	o, err := orchestration.NewSequential([]agent.Agent{streamer}, orchestration.WithStreaming())
	require.NoError(t, err)

	var mu sync.Mutex
	var deltas []string
	ctx := workflow.WithEventEmitter(context.Background(), func(ev workflow.Event) {
		if u, ok := ev.Data.(agent.Update); ok && ev.Type == workflow.EventExecutor {
			mu.Lock()
			deltas = append(deltas, u.Delta)
			mu.Unlock()
		}
	})
	run, err := o.Run(ctx, newEngine(), "hi")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, deltas)
	assert.Equal(t, "ab", resultMessages(t, run)[1].Content)
}

// =============================================================================
// 🔀 Concurrent
// =============================================================================

func TestConcurrent_StableOrderByRoster(t *testing.T) {
	slow := agent.NewFuncAgent("P1", "", func(_ context.Context, msgs []types.Message, _ agent.RunOptions) (*agent.Response, error) {
		time.Sleep(20 * time.Millisecond)
		return agent.Reply("P1", msgs[len(msgs)-1].Content), nil
	})
	fast := appender("P2", "")

	o, err := orchestration.NewConcurrent([]agent.Agent{slow, fast}, nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "ping")
	require.NoError(t, err)

	msgs := resultMessages(t, run)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"ping", "ping"}, contents(msgs))
	assert.Equal(t, "P1", msgs[0].Name)
	assert.Equal(t, "P2", msgs[1].Name)
}

func TestConcurrent_CustomAggregator(t *testing.T) {
	aggregate := func(_ context.Context, results []orchestration.AgentResult) (any, error) {
		parts := make([]string, 0, len(results))
		for _, r := range results {
			last, _ := r.Last()
			parts = append(parts, r.Agent+"="+last.Content)
		}
		return strings.Join(parts, ","), nil
	}
	o, err := orchestration.NewConcurrent([]agent.Agent{appender("x", "1"), appender("y", "2"), appender("z", "3")}, aggregate)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "v")
	require.NoError(t, err)
	out, ok := run.Result()
	require.True(t, ok)
	assert.Equal(t, "x=v1,y=v2,z=v3", out)
	assert.Len(t, run.Outputs(), 1)
}

// =============================================================================
// 💬 Group chat
// =============================================================================

func TestGroupChat_RoundRobin(t *testing.T) {
	o, err := orchestration.NewGroupChat(
		[]agent.Agent{speaker("A"), speaker("B")},
		orchestration.RoundRobinManager{MaxRounds: 3},
	)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "start")
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "A", "B", "A"}, contents(resultMessages(t, run)))
}

func TestGroupChat_PausesForUserInput(t *testing.T) {
	o, err := orchestration.NewGroupChat(
		[]agent.Agent{speaker("A"), speaker("B")},
		orchestration.RoundRobinManager{MaxRounds: 3, UserInputEvery: 2},
	)
	require.NoError(t, err)

	ctx := context.Background()
	engine := newEngine()
	run, err := o.Run(ctx, engine, "start", workflow.WithRunID("gc-1"))
	require.NoError(t, err)
	require.Equal(t, workflow.RunSuspended, run.Status())

	tokens := run.PendingTokens()
	require.Len(t, tokens, 1)
	req, ok := tokens[0].Request.(orchestration.UserInputRequest)
	require.True(t, ok)
	assert.Equal(t, "B", req.LastSpeaker)
	assert.Len(t, req.Conversation, 3)

	run, err = o.Resume(ctx, engine, "gc-1", workflow.WithResponse(tokens[0].ID, "focus on cost"))
	require.NoError(t, err)
	require.Equal(t, workflow.RunCompleted, run.Status())
	assert.Equal(t, []string{"start", "A", "B", "focus on cost", "A"}, contents(resultMessages(t, run)))
}

// scriptedManager 选择固定的发言人
type scriptedManager struct {
	next string
}

func (m scriptedManager) SelectNext(context.Context, orchestration.GroupChatState) (string, error) {
	return m.next, nil
}

func (m scriptedManager) ShouldTerminate(_ context.Context, s orchestration.GroupChatState) (bool, error) {
	return s.Round >= 1, nil
}

func (m scriptedManager) ShouldRequestUserInput(context.Context, orchestration.GroupChatState) (bool, error) {
	return false, nil
}

func TestGroupChat_UnknownSpeakerFails(t *testing.T) {
	o, err := orchestration.NewGroupChat([]agent.Agent{speaker("A")}, scriptedManager{next: "Z"})
	require.NoError(t, err)

	_, err = o.Run(context.Background(), newEngine(), "start")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown participant "Z"`)
}

func TestGroupChat_AgentSelectionManager(t *testing.T) {
	selector := agent.NewFuncAgent("selector", "", func(_ context.Context, msgs []types.Message, _ agent.RunOptions) (*agent.Response, error) {
		assert.Contains(t, msgs[0].Content, "- critic: speaks as critic")
		// system + 历史；历史中已有 critic 的发言后结束
		for _, m := range msgs[1:] {
			if m.Name == "critic" {
				return agent.Reply("selector", "DONE"), nil
			}
		}
		return agent.Reply("selector", " critic\n"), nil
	})
	o, err := orchestration.NewGroupChat(
		[]agent.Agent{speaker("author"), speaker("critic")},
		orchestration.AgentSelectionManager{Selector: selector, MaxRounds: 5},
	)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "draft")
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "critic"}, contents(resultMessages(t, run)))
}

func TestGroupChat_NilManager(t *testing.T) {
	_, err := orchestration.NewGroupChat([]agent.Agent{speaker("A")}, nil)
	assert.Error(t, err)
}

// =============================================================================
// 🤝 Hand-off
// =============================================================================

// router 交给 target；target 为空时直接回答
func router(name, target, answer string) *agent.FuncAgent {
	return agent.NewFuncAgent(name, name+" desk", func(context.Context, []types.Message, agent.RunOptions) (*agent.Response, error) {
		resp := agent.Reply(name, answer)
		resp.HandoffTo = target
		return resp, nil
	})
}

func supportTable(billing *agent.FuncAgent) *orchestration.HandoffBuilder {
	return orchestration.NewHandoffBuilder(
		router("Triage", "Billing", "routing to billing"),
		billing,
		router("Support", "", "have you tried turning it off"),
	).
		WithStart("Triage").
		Allow("Triage",
			orchestration.HandoffTarget{Name: "Billing", Reason: "invoices and refunds"},
			orchestration.HandoffTarget{Name: "Support", Reason: "technical issues"},
		)
}

func TestHandoff_RoutesToTarget(t *testing.T) {
	o, err := supportTable(router("Billing", "", "your invoice is attached")).Build()
	require.NoError(t, err)
	assert.Equal(t, "Billing desk", o.Roster()["Billing"])

	var mu sync.Mutex
	var handoffs []orchestration.HandoffEvent
	ctx := workflow.WithEventEmitter(context.Background(), func(ev workflow.Event) {
		if h, ok := ev.Data.(orchestration.HandoffEvent); ok {
			mu.Lock()
			handoffs = append(handoffs, h)
			mu.Unlock()
		}
	})

	run, err := o.Run(ctx, newEngine(), "I was double charged")
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"I was double charged", "routing to billing", "your invoice is attached"},
		contents(resultMessages(t, run)))
	assert.Equal(t, []orchestration.HandoffEvent{{From: "Triage", To: "Billing"}}, handoffs)
}

func TestHandoff_UnregisteredTargetRaisesRoutingError(t *testing.T) {
	o, err := supportTable(router("Billing", "Refunds", "sending you to refunds")).Build()
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "refund please")
	require.Error(t, err)

	var routing *orchestration.RoutingError
	require.ErrorAs(t, err, &routing)
	assert.Equal(t, "Billing", routing.From)
	assert.Equal(t, "Refunds", routing.Target)

	var fault *workflow.ExecutorFaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, orchestration.HandoffCoordinatorID, fault.ExecutorID)
	assert.Equal(t, workflow.RunFailed, run.Status())
}

func TestHandoff_RoutingTableValidatedAtRegistration(t *testing.T) {
	_, err := supportTable(router("Billing", "", "ok")).
		Allow("Billing", orchestration.HandoffTarget{Name: "Refunds"}).
		Build()
	var routing *orchestration.RoutingError
	require.ErrorAs(t, err, &routing)
	assert.Equal(t, "Billing", routing.From)
	assert.Equal(t, "Refunds", routing.Target)

	_, err = supportTable(router("Billing", "", "ok")).WithStart("Nobody").Build()
	require.ErrorAs(t, err, &routing)
	assert.Equal(t, "Nobody", routing.Target)
}

func TestHandoff_InteractiveWaitsForUser(t *testing.T) {
	o, err := supportTable(router("Billing", "", "anything else?")).Interactive().Build()
	require.NoError(t, err)

	ctx := context.Background()
	engine := newEngine()
	run, err := o.Run(ctx, engine, "invoice", workflow.WithRunID("ho-1"))
	require.NoError(t, err)
	require.Equal(t, workflow.RunSuspended, run.Status())
	tokens := run.PendingTokens()
	require.Len(t, tokens, 1)

	// 用户继续提问，回到当前参与者 Billing
	run, err = o.Resume(ctx, engine, "ho-1", workflow.WithResponse(tokens[0].ID, "and last month?"))
	require.NoError(t, err)
	require.Equal(t, workflow.RunSuspended, run.Status())
	tokens = run.PendingTokens()
	require.Len(t, tokens, 1)
	req, ok := tokens[0].Request.(orchestration.UserInputRequest)
	require.True(t, ok)
	assert.Equal(t, "Billing", req.LastSpeaker)

	// 空回复结束对话
	run, err = o.Resume(ctx, engine, "ho-1", workflow.WithResponse(tokens[0].ID, ""))
	require.NoError(t, err)
	require.Equal(t, workflow.RunCompleted, run.Status())
	assert.Equal(t,
		[]string{"invoice", "routing to billing", "anything else?", "and last month?", "anything else?"},
		contents(resultMessages(t, run)))
}

func TestHandoff_ChatAgentReceivesHandoffTools(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	provider := mocks.NewMockProvider().WithCompletionFunc(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		mu.Lock()
		for _, tool := range req.Tools {
			seen = append(seen, tool.Name)
		}
		mu.Unlock()
		msg := types.NewAssistantMessage("")
		msg.ToolCalls = []types.ToolCall{{ID: "1", Name: agent.HandoffToolPrefix + "Support"}}
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: msg}}}, nil
	})
	triage, err := agent.NewChatAgent(agent.Config{Name: "Triage"}, provider)
	require.NoError(t, err)

	o, err := orchestration.NewHandoffBuilder(triage, router("Billing", "", "b"), router("Support", "", "s")).
		Allow("Triage",
			orchestration.HandoffTarget{Name: "Billing"},
			orchestration.HandoffTarget{Name: "Support"},
		).
		Build()
	require.NoError(t, err)

	run, err := o.Run(context.Background(), newEngine(), "wifi down")
	require.NoError(t, err)
	assert.Equal(t, []string{"handoff_to_Billing", "handoff_to_Support"}, seen)
	msgs := resultMessages(t, run)
	assert.Equal(t, "s", msgs[len(msgs)-1].Content)
}
