// Package mocks 提供 agent、orchestration 与声明式解释器测试使用的模拟实现：
// 可脚本化的 llm.Provider、agent.ToolExecutor 与 agent.Memory。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// =============================================================================
// 🤖 MockProvider - llm.Provider 的模拟实现
// =============================================================================

// CompletionFunc 自定义 Completion 行为
type CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// StreamFunc 自定义 Stream 行为
type StreamFunc func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

// MockProviderCall 记录一次 Completion 或 Stream 调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Stream   bool
	Error    error
}

// MockProvider 默认返回固定文本；可配置工具调用、流式片段、错误、
// 自定义函数，以及先返回 in_progress 的后台响应。
type MockProvider struct {
	mu sync.Mutex

	response  string
	toolCalls []types.ToolCall
	chunks    []string
	err       error
	usage     llm.ChatUsage

	completionFn CompletionFunc
	streamFn     StreamFunc

	// 每个续传令牌先返回 pendingPolls 次 in_progress
	pendingPolls int
	polls        map[string]int

	calls []MockProviderCall
}

// NewMockProvider 创建 MockProvider，默认回复 "Mock response"，用量 10 + 20
func NewMockProvider() *MockProvider {
	return &MockProvider{
		response: "Mock response",
		usage:    llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
		polls:    make(map[string]int),
	}
}

func (m *MockProvider) configure(fn func()) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
	return m
}

// WithResponse 设置回复文本
func (m *MockProvider) WithResponse(text string) *MockProvider {
	return m.configure(func() { m.response = text })
}

// WithToolCalls 让回复携带工具调用
func (m *MockProvider) WithToolCalls(calls []types.ToolCall) *MockProvider {
	return m.configure(func() { m.toolCalls = calls })
}

// WithStreamChunks 设置 Stream 逐个发送的文本片段
func (m *MockProvider) WithStreamChunks(chunks []string) *MockProvider {
	return m.configure(func() { m.chunks = chunks })
}

// WithError 让所有调用返回 err
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.configure(func() { m.err = err })
}

// WithCompletionFunc 用 fn 替换默认的 Completion 行为
func (m *MockProvider) WithCompletionFunc(fn CompletionFunc) *MockProvider {
	return m.configure(func() { m.completionFn = fn })
}

// WithStreamFunc 用 fn 替换默认的 Stream 行为
func (m *MockProvider) WithStreamFunc(fn StreamFunc) *MockProvider {
	return m.configure(func() { m.streamFn = fn })
}

// WithPendingPolls 使每个续传令牌先以 in_progress 返回 n 次。
// 首次调用没有令牌时生成 mock-continuation-<调用序号>。
func (m *MockProvider) WithPendingPolls(n int) *MockProvider {
	return m.configure(func() { m.pendingPolls = n })
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) SupportsNativeFunctionCalling() bool { return true }

func (m *MockProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// record 追加调用记录并返回调用序号（从 1 开始）
func (m *MockProvider) record(call MockProviderCall) int {
	m.calls = append(m.calls, call)
	return len(m.calls)
}

func (m *MockProvider) setLast(resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last := &m.calls[len(m.calls)-1]
	last.Response, last.Error = resp, err
}

// Completion 实现 llm.Provider
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	seq := m.record(MockProviderCall{Request: req, Error: m.err})
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if fn := m.completionFn; fn != nil {
		m.mu.Unlock()
		resp, err := fn(ctx, req)
		m.setLast(resp, err)
		return resp, err
	}
	defer m.mu.Unlock()

	resp := &llm.ChatResponse{
		ID:        fmt.Sprintf("mock-%d", seq),
		Provider:  "mock",
		Model:     req.Model,
		Status:    llm.StatusCompleted,
		CreatedAt: time.Now(),
	}
	if m.pendingPolls > 0 {
		token := req.ContinuationToken
		if token == "" {
			token = fmt.Sprintf("mock-continuation-%d", seq)
		}
		if m.polls[token] < m.pendingPolls {
			m.polls[token]++
			resp.Status = llm.StatusInProgress
			resp.ContinuationToken = token
			m.calls[seq-1].Response = resp
			return resp, nil
		}
	}

	finish := "stop"
	if len(m.toolCalls) > 0 {
		finish = "tool_calls"
	}
	msg := types.NewAssistantMessage(m.response)
	msg.ToolCalls = m.toolCalls
	resp.Choices = []llm.ChatChoice{{Index: 0, FinishReason: finish, Message: msg}}
	resp.Usage = m.usage
	m.calls[seq-1].Response = resp
	return resp, nil
}

// Stream 实现 llm.Provider。没有配置片段时整段回复作为一个片段发送；
// 工具调用与用量附在最后一个片段上。
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.record(MockProviderCall{Request: req, Stream: true, Error: m.err})
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		return nil, err
	}
	if fn := m.streamFn; fn != nil {
		m.mu.Unlock()
		return fn(ctx, req)
	}
	chunks := m.chunks
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	toolCalls, usage := m.toolCalls, m.usage
	m.mu.Unlock()

	ch := make(chan llm.StreamChunk, len(chunks))
	go func() {
		defer close(ch)
		for i, text := range chunks {
			chunk := llm.StreamChunk{
				ID:       "mock-stream",
				Provider: "mock",
				Model:    req.Model,
				Index:    i,
				Delta:    types.Message{Role: types.RoleAssistant, Content: text},
			}
			if i == len(chunks)-1 {
				chunk.FinishReason = "stop"
				chunk.Delta.ToolCalls = toolCalls
				chunk.Usage = &usage
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}

// GetCalls 返回调用记录副本
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 返回 Completion 与 Stream 的调用总数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// GetLastCall 返回最后一次调用，没有调用时返回 nil
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// =============================================================================
// 🏭 预设 Provider
// =============================================================================

// NewSuccessProvider 总是回复 text
func NewSuccessProvider(text string) *MockProvider {
	return NewMockProvider().WithResponse(text)
}

// NewErrorProvider 总是返回 err
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewToolCallProvider 总是回复给定的工具调用
func NewToolCallProvider(calls []types.ToolCall) *MockProvider {
	return NewMockProvider().WithToolCalls(calls)
}

// NewStreamProvider 流式发送 chunks
func NewStreamProvider(chunks []string) *MockProvider {
	return NewMockProvider().WithStreamChunks(chunks)
}
