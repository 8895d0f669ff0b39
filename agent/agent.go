package agent

import (
	"context"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// Agent 是编排模式与声明式解释器使用的参与者契约。
// 给定有序消息列表返回一次响应；响应未完成时携带 ContinuationToken。
type Agent interface {
	Name() string
	Description() string
	Run(ctx context.Context, messages []types.Message, opts ...RunOption) (*Response, error)
}

// Response 是一次 Agent 运行的结果
type Response struct {
	AgentName string          `json:"agent_name"`
	Messages  []types.Message `json:"messages,omitempty"`
	// HandoffTo 非空表示 Agent 要求把控制权交给该名称的参与者
	HandoffTo string `json:"handoff_to,omitempty"`
	// ContinuationToken 非空表示后台响应尚未完成，需用 WithContinuation 再次调用
	ContinuationToken string        `json:"continuation_token,omitempty"`
	Usage             llm.ChatUsage `json:"usage"`
}

// Pending 报告响应是否仍在后台进行
func (r *Response) Pending() bool {
	return r != nil && r.ContinuationToken != ""
}

// Text 返回最后一条助手消息的内容
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == types.RoleAssistant {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Update 是流式运行中产生的增量片段
type Update struct {
	AgentName string          `json:"agent_name"`
	Delta     string          `json:"delta,omitempty"`
	ToolCalls []types.ToolCall `json:"tool_calls,omitempty"`
}

// RunOption 配置单次运行
type RunOption func(*RunOptions)

// RunOptions 是单次运行的选项集合
type RunOptions struct {
	Tools        []types.ToolSchema
	OnUpdate     func(Update)
	Continuation string
}

// WithTools 为本次运行追加工具（例如 hand-off 工具）
func WithTools(tools ...types.ToolSchema) RunOption {
	return func(o *RunOptions) { o.Tools = append(o.Tools, tools...) }
}

// WithUpdateHandler 以流式方式运行并把增量片段交给 fn
func WithUpdateHandler(fn func(Update)) RunOption {
	return func(o *RunOptions) { o.OnUpdate = fn }
}

// WithContinuation 轮询先前返回的后台响应
func WithContinuation(token string) RunOption {
	return func(o *RunOptions) { o.Continuation = token }
}

// ApplyRunOptions 合并运行选项
func ApplyRunOptions(opts ...RunOption) RunOptions {
	var o RunOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// RunFunc 是 FuncAgent 的执行函数
type RunFunc func(ctx context.Context, messages []types.Message, opts RunOptions) (*Response, error)

// FuncAgent 用函数实现 Agent，常用于确定性步骤与测试。
type FuncAgent struct {
	name        string
	description string
	fn          RunFunc
}

// NewFuncAgent 创建函数 Agent
func NewFuncAgent(name, description string, fn RunFunc) *FuncAgent {
	return &FuncAgent{name: name, description: description, fn: fn}
}

func (a *FuncAgent) Name() string        { return a.name }
func (a *FuncAgent) Description() string { return a.description }

func (a *FuncAgent) Run(ctx context.Context, messages []types.Message, opts ...RunOption) (*Response, error) {
	resp, err := a.fn(ctx, messages, ApplyRunOptions(opts...))
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.AgentName == "" {
		resp.AgentName = a.name
	}
	return resp, nil
}

// Reply 构造只包含一条助手消息的响应
func Reply(name, content string) *Response {
	msg := types.NewAssistantMessage(content)
	msg.Name = name
	return &Response{AgentName: name, Messages: []types.Message{msg}}
}
