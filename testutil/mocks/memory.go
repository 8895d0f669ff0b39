package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// =============================================================================
// 🧠 MockMemoryManager - agent.Memory 的模拟实现
// =============================================================================

// MockMemoryManager 在内存中保存对话历史，可注入错误
type MockMemoryManager struct {
	mu       sync.Mutex
	messages []types.Message
	addErr   error
	getErr   error
}

// NewMockMemoryManager 创建空的 MockMemoryManager
func NewMockMemoryManager() *MockMemoryManager {
	return &MockMemoryManager{}
}

// WithMessages 预置历史消息
func (m *MockMemoryManager) WithMessages(msgs []types.Message) *MockMemoryManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msgs...)
	return m
}

// WithAddError 让 AddBatch 返回 err
func (m *MockMemoryManager) WithAddError(err error) *MockMemoryManager {
	m.addErr = err
	return m
}

// WithGetError 让 GetRecent 返回 err
func (m *MockMemoryManager) WithGetError(err error) *MockMemoryManager {
	m.getErr = err
	return m
}

// AddBatch 追加消息
func (m *MockMemoryManager) AddBatch(_ context.Context, msgs []types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

// GetRecent 返回最近 n 条消息；n <= 0 返回全部
func (m *MockMemoryManager) GetRecent(_ context.Context, n int) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	start := 0
	if n > 0 && n < len(m.messages) {
		start = len(m.messages) - n
	}
	return append([]types.Message(nil), m.messages[start:]...), nil
}

// Count 返回已保存的消息数
func (m *MockMemoryManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
