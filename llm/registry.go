package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderRegistry 按名称管理 Provider。声明式工作流里 agent 的 provider 字段、
// CLI 的 llm.name 都解析到这里；第一个注册的 Provider 是默认值。
type ProviderRegistry struct {
	mu       sync.RWMutex
	byName   map[string]Provider
	fallback string
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{byName: make(map[string]Provider)}
}

// Register 注册或替换 name 对应的 Provider
func (r *ProviderRegistry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = p
	if r.fallback == "" {
		r.fallback = name
	}
}

func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Resolve 按名称查找，名称为空时返回默认 Provider。
// 找不到时返回 Code 为 ErrProviderUnavailable 的 *Error。
func (r *ProviderRegistry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		if r.fallback == "" {
			return nil, &Error{Code: ErrProviderUnavailable, Message: "no default provider set"}
		}
		name = r.fallback
	}
	if p, ok := r.byName[name]; ok {
		return p, nil
	}
	return nil, &Error{
		Code:     ErrProviderUnavailable,
		Provider: name,
		Message:  fmt.Sprintf("provider %q not registered (known: %s)", name, strings.Join(r.names(), ", ")),
	}
}

// SetDefault 把已注册的 name 设为默认值
func (r *ProviderRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return &Error{Code: ErrProviderUnavailable, Provider: name, Message: fmt.Sprintf("provider %q not registered", name)}
	}
	r.fallback = name
	return nil
}

// List 返回排序后的名称
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *ProviderRegistry) names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Unregister 移除 name；移除默认值后不再有默认 Provider
func (r *ProviderRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	if r.fallback == name {
		r.fallback = ""
	}
}
