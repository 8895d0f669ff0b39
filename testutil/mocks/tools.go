package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// =============================================================================
// 🔧 MockToolManager - agent.ToolExecutor 的模拟实现
// =============================================================================

// ToolFunc 工具执行函数
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolCall 记录一次工具调用
type ToolCall struct {
	ID     string
	Name   string
	Args   map[string]any
	Result any
	Err    error
}

// MockToolManager 按名称返回预设结果、预设错误或执行函数。
// 未注册的工具返回 "tool not found" 错误。
type MockToolManager struct {
	mu      sync.Mutex
	schemas map[string]types.ToolSchema
	funcs   map[string]ToolFunc
	calls   []ToolCall
}

// NewMockToolManager 创建空的 MockToolManager
func NewMockToolManager() *MockToolManager {
	return &MockToolManager{
		schemas: make(map[string]types.ToolSchema),
		funcs:   make(map[string]ToolFunc),
	}
}

// WithTool 注册工具及其执行函数
func (m *MockToolManager) WithTool(name string, fn ToolFunc) *MockToolManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[name] = types.ToolSchema{
		Name:        name,
		Description: "mock tool " + name,
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}
	m.funcs[name] = fn
	return m
}

// WithToolResult 注册总是返回 result 的工具
func (m *MockToolManager) WithToolResult(name string, result any) *MockToolManager {
	return m.WithTool(name, func(context.Context, map[string]any) (any, error) { return result, nil })
}

// WithToolError 注册总是失败的工具
func (m *MockToolManager) WithToolError(name string, err error) *MockToolManager {
	return m.WithTool(name, func(context.Context, map[string]any) (any, error) { return nil, err })
}

// List 按名称排序返回已注册工具的定义
func (m *MockToolManager) List() []types.ToolSchema {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ToolSchema, 0, len(m.schemas))
	for _, s := range m.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExecuteToolCall 实现 agent.ToolExecutor
func (m *MockToolManager) ExecuteToolCall(ctx context.Context, tc types.ToolCall) (any, error) {
	var args map[string]any
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", tc.Name, err)
		}
	}

	m.mu.Lock()
	fn, ok := m.funcs[tc.Name]
	m.mu.Unlock()

	call := ToolCall{ID: tc.ID, Name: tc.Name, Args: args}
	if !ok {
		call.Err = fmt.Errorf("tool not found: %s", tc.Name)
	} else {
		call.Result, call.Err = fn(ctx, args)
	}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	return call.Result, call.Err
}

// GetCalls 返回调用记录副本
func (m *MockToolManager) GetCalls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolCall(nil), m.calls...)
}

// GetCallCount 返回调用次数（包括失败的调用）
func (m *MockToolManager) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
