package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

const defaultMaxToolRounds = 8

// Config 是 ChatAgent 的配置。Provider 是 llm.ProviderRegistry 中的名称，
// 只在声明式编译时使用；空表示默认 Provider。
type Config struct {
	Name          string  `json:"name" yaml:"name"`
	Description   string  `json:"description,omitempty" yaml:"description,omitempty"`
	Instructions  string  `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Model         string  `json:"model,omitempty" yaml:"model,omitempty"`
	Provider      string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature   float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxToolRounds int     `json:"max_tool_rounds,omitempty" yaml:"max_tool_rounds,omitempty"`
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfigInvalid)
	}
	if c.MaxToolRounds < 0 {
		return fmt.Errorf("%w: max_tool_rounds must be >= 0", ErrConfigInvalid)
	}
	return nil
}

// ToolExecutor 执行模型发起的工具调用
type ToolExecutor interface {
	ExecuteToolCall(ctx context.Context, call types.ToolCall) (any, error)
}

// Memory 为 Agent 提供跨运行的对话历史
type Memory interface {
	AddBatch(ctx context.Context, msgs []types.Message) error
	GetRecent(ctx context.Context, n int) ([]types.Message, error)
}

// ChatAgent 通过 llm.Provider 完成对话，支持工具循环、hand-off 工具与后台响应。
type ChatAgent struct {
	cfg      Config
	provider llm.Provider
	tools    []types.ToolSchema
	executor ToolExecutor
	memory   Memory
	recent   int
	logger   *zap.Logger
}

// Option 配置 ChatAgent
type Option func(*ChatAgent)

// WithToolExecutor 设置工具执行器及其对模型公开的工具定义
func WithToolExecutor(exec ToolExecutor, schemas ...types.ToolSchema) Option {
	return func(a *ChatAgent) {
		a.executor = exec
		a.tools = append(a.tools, schemas...)
	}
}

// WithMemory 设置记忆；每次运行前读取最近 recent 条消息
func WithMemory(mem Memory, recent int) Option {
	return func(a *ChatAgent) {
		a.memory = mem
		a.recent = recent
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(a *ChatAgent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewChatAgent 创建 ChatAgent
func NewChatAgent(cfg Config, provider llm.Provider, opts ...Option) (*ChatAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, ErrProviderNotSet
	}
	if cfg.MaxToolRounds == 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	a := &ChatAgent{cfg: cfg, provider: provider, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "agent"), zap.String("agent", cfg.Name))
	return a, nil
}

func (a *ChatAgent) Name() string        { return a.cfg.Name }
func (a *ChatAgent) Description() string { return a.cfg.Description }

// Config 返回配置副本
func (a *ChatAgent) Config() Config { return a.cfg }

// Run 执行一次对话。模型返回工具调用时执行工具并继续，直到得到最终回复、
// 模型要求 hand-off，或 Provider 返回未完成的后台响应。
func (a *ChatAgent) Run(ctx context.Context, messages []types.Message, opts ...RunOption) (*Response, error) {
	o := ApplyRunOptions(opts...)

	tools := append(append([]types.ToolSchema(nil), a.tools...), o.Tools...)
	if len(tools) > 0 && !a.provider.SupportsNativeFunctionCalling() {
		return nil, fmt.Errorf("agent %s: provider %s does not support function calling", a.cfg.Name, a.provider.Name())
	}

	convo, err := a.prepare(ctx, messages)
	if err != nil {
		return nil, err
	}

	resp := &Response{AgentName: a.cfg.Name}
	continuation := o.Continuation
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req := a.request(ctx, convo, tools, continuation)
		continuation = ""

		msg, usage, pending, err := a.invoke(ctx, req, o.OnUpdate)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.cfg.Name, err)
		}
		if usage != nil {
			resp.Usage = resp.Usage.Add(*usage)
		}
		if pending != "" {
			a.logger.Debug("background response pending",
				append(ctxkeys.LogFields(ctx), zap.String("continuation", pending))...)
			resp.ContinuationToken = pending
			return resp, nil
		}

		msg.Role = types.RoleAssistant
		msg.Name = a.cfg.Name
		resp.Messages = append(resp.Messages, msg)
		convo = append(convo, msg)

		if target, ok := ParseHandoff(msg.ToolCalls); ok {
			resp.HandoffTo = target
			break
		}
		if !msg.HasToolCalls() || a.executor == nil {
			break
		}
		if round+1 >= a.cfg.MaxToolRounds {
			return nil, fmt.Errorf("agent %s: %w (%d)", a.cfg.Name, ErrToolRoundsExceeded, a.cfg.MaxToolRounds)
		}

		for _, call := range msg.ToolCalls {
			result := a.callTool(ctx, call)
			resp.Messages = append(resp.Messages, result)
			convo = append(convo, result)
		}
	}

	if a.memory != nil {
		record := append(append([]types.Message(nil), messages...), resp.Messages...)
		if err := a.memory.AddBatch(ctx, record); err != nil {
			a.logger.Warn("failed to save memory", append(ctxkeys.LogFields(ctx), zap.Error(err))...)
		}
	}
	return resp, nil
}

func (a *ChatAgent) prepare(ctx context.Context, messages []types.Message) ([]types.Message, error) {
	convo := make([]types.Message, 0, len(messages)+1)
	if a.cfg.Instructions != "" {
		convo = append(convo, types.NewSystemMessage(a.cfg.Instructions))
	}
	if a.memory != nil && a.recent > 0 {
		history, err := a.memory.GetRecent(ctx, a.recent)
		if err != nil {
			return nil, fmt.Errorf("agent %s: load memory: %w", a.cfg.Name, err)
		}
		convo = append(convo, history...)
	}
	return append(convo, messages...), nil
}

func (a *ChatAgent) request(ctx context.Context, convo []types.Message, tools []types.ToolSchema, continuation string) *llm.ChatRequest {
	model := a.cfg.Model
	if override, ok := ctxkeys.LLMModel(ctx); ok {
		model = override
	}
	req := &llm.ChatRequest{
		Model:             model,
		Messages:          convo,
		Tools:             tools,
		MaxTokens:         a.cfg.MaxTokens,
		Temperature:       a.cfg.Temperature,
		ContinuationToken: continuation,
	}
	if traceID, ok := ctxkeys.TraceID(ctx); ok {
		req.TraceID = traceID
	}
	if runID, ok := ctxkeys.RunID(ctx); ok {
		req.Metadata = map[string]string{"run_id": runID}
	}
	return req
}

// invoke 调用一次模型。轮询后台响应时不使用流式接口。
func (a *ChatAgent) invoke(ctx context.Context, req *llm.ChatRequest, onUpdate func(Update)) (types.Message, *llm.ChatUsage, string, error) {
	if onUpdate != nil && req.ContinuationToken == "" {
		chunks, err := a.provider.Stream(ctx, req)
		if err != nil {
			return types.Message{}, nil, "", err
		}
		msg, usage, err := llm.CollectStream(chunks, func(c llm.StreamChunk) {
			onUpdate(Update{AgentName: a.cfg.Name, Delta: c.Delta.Content, ToolCalls: c.Delta.ToolCalls})
		})
		return msg, usage, "", err
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		return types.Message{}, nil, "", err
	}
	if llm.IsPending(resp) {
		return types.Message{}, &resp.Usage, resp.ContinuationToken, nil
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return types.Message{}, &resp.Usage, "", err
	}
	return choice.Message, &resp.Usage, "", nil
}

// callTool 执行工具调用；失败作为工具消息返回给模型而不是中断运行
func (a *ChatAgent) callTool(ctx context.Context, call types.ToolCall) types.Message {
	result, err := a.executor.ExecuteToolCall(ctx, call)
	if err != nil {
		a.logger.Warn("tool call failed",
			append(ctxkeys.LogFields(ctx), zap.String("tool", call.Name), zap.Error(err))...)
		return types.NewToolMessage(call.ID, call.Name, "Error: "+err.Error())
	}
	var content string
	switch v := result.(type) {
	case string:
		content = v
	case json.RawMessage:
		content = string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return types.NewToolMessage(call.ID, call.Name, "Error: "+err.Error())
		}
		content = string(data)
	}
	return types.NewToolMessage(call.ID, call.Name, content)
}
