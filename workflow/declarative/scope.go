package declarative

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/dsl"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// ScopeKind 变量作用域
type ScopeKind string

const (
	// ScopeLocal 是工作流变量
	ScopeLocal ScopeKind = "Local"
	// ScopeSystem 保存运行时维护的变量（对话、最后一条消息）
	ScopeSystem ScopeKind = "System"
	// ScopeEnv 来自编译选项，只读
	ScopeEnv ScopeKind = "Env"
)

// System 作用域中的变量
const (
	SysConversation    = "Conversation"
	SysLastMessageText = "LastMessageText"
	SysRunID           = "RunId"
)

var (
	// ErrReadOnlyScope 写入只读作用域
	ErrReadOnlyScope = errors.New("scope is read-only")
	// ErrInvalidVariable 变量路径无法解析为 <Scope>.<name>
	ErrInvalidVariable = errors.New("invalid variable path")
)

// ScopeKey 是变量存储槽的完整标识：(owner executor id, scope kind, name)。
// 不同 owner 的同名变量互不干扰。
type ScopeKey struct {
	Owner string
	Kind  ScopeKind
	Name  string
}

// stateScope 是 ScopeKey 在工作流共享状态中的作用域名
func (k ScopeKey) stateScope() string {
	return k.Owner + "/" + string(k.Kind)
}

func (k ScopeKey) String() string {
	return k.Owner + ":" + string(k.Kind) + "." + k.Name
}

// ParseVariable 解析 "Local.name" 形式的变量路径；省略作用域时为 Local。
// 返回变量名之后的剩余路径段（例如 Local.order.total 的 ["total"]）。
func ParseVariable(path string) (ScopeKind, string, []string, error) {
	parts := strings.Split(strings.TrimSpace(path), ".")
	for _, p := range parts {
		if p == "" {
			return "", "", nil, fmt.Errorf("%w: %q", ErrInvalidVariable, path)
		}
	}
	switch ScopeKind(parts[0]) {
	case ScopeLocal, ScopeSystem, ScopeEnv:
		if len(parts) < 2 {
			return "", "", nil, fmt.Errorf("%w: %q has no variable name", ErrInvalidVariable, path)
		}
		return ScopeKind(parts[0]), parts[1], parts[2:], nil
	}
	return ScopeLocal, parts[0], parts[1:], nil
}

// ScopeStore 通过 WorkflowContext 的共享状态读写变量。
// 写入在超步结束时生效并随检查点保存；同一执行器能立即读到自己的写入。
type ScopeStore struct {
	wc    workflow.WorkflowContext
	owner string
	env   map[string]any
}

// NewScopeStore 创建 owner 拥有的变量存储
func NewScopeStore(wc workflow.WorkflowContext, owner string, env map[string]any) *ScopeStore {
	return &ScopeStore{wc: wc, owner: owner, env: env}
}

func (s *ScopeStore) key(kind ScopeKind, name string) ScopeKey {
	return ScopeKey{Owner: s.owner, Kind: kind, Name: name}
}

// Get 读取变量。检查点恢复的值按通用 JSON 形式解析。
func (s *ScopeStore) Get(kind ScopeKind, name string) (any, bool) {
	if kind == ScopeEnv {
		v, ok := s.env[name]
		return v, ok
	}
	k := s.key(kind, name)
	v, ok := s.wc.ReadState(k.stateScope(), k.Name)
	if !ok {
		return nil, false
	}
	if pv, isPortable := v.(*wire.PortableValue); isPortable {
		generic, err := pv.Resolve(reflect.TypeFor[any]())
		if err != nil {
			s.wc.Logger().Warn("unresolvable variable", zap.String("variable", k.String()), zap.Error(err))
			return nil, false
		}
		return generic, true
	}
	return v, true
}

// Set 写入变量
func (s *ScopeStore) Set(kind ScopeKind, name string, value any) error {
	if kind == ScopeEnv {
		return fmt.Errorf("set %s.%s: %w", kind, name, ErrReadOnlyScope)
	}
	k := s.key(kind, name)
	s.wc.WriteState(k.stateScope(), k.Name, value)
	return nil
}

// Assign 按变量路径写入，只允许 <Scope>.<name> 形式
func (s *ScopeStore) Assign(path string, value any) error {
	kind, name, rest, err := ParseVariable(path)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("%w: cannot assign to nested path %q", ErrInvalidVariable, path)
	}
	return s.Set(kind, name, value)
}

// Clear 清空一个作用域
func (s *ScopeStore) Clear(kind ScopeKind) {
	if kind == ScopeEnv {
		return
	}
	s.wc.ClearScope(s.key(kind, "").stateScope())
}

// Resolve 实现 dsl.Resolver
func (s *ScopeStore) Resolve(path string) (any, bool) {
	kind, name, rest, err := ParseVariable(path)
	if err != nil {
		return nil, false
	}
	v, ok := s.Get(kind, name)
	if !ok {
		return nil, false
	}
	if len(rest) == 0 {
		return v, true
	}
	return dsl.Walk(v, rest)
}

// Conversation 返回 System.Conversation
func (s *ScopeStore) Conversation() ([]types.Message, error) {
	k := s.key(ScopeSystem, SysConversation)
	msgs, _, err := workflow.ReadStateAs[[]types.Message](s.wc, k.stateScope(), k.Name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", k, err)
	}
	return msgs, nil
}

// AppendConversation 追加消息并更新 System.LastMessageText
func (s *ScopeStore) AppendConversation(msgs ...types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	convo, err := s.Conversation()
	if err != nil {
		return err
	}
	convo = append(append([]types.Message(nil), convo...), msgs...)
	if err := s.Set(ScopeSystem, SysConversation, convo); err != nil {
		return err
	}
	return s.Set(ScopeSystem, SysLastMessageText, msgs[len(msgs)-1].Content)
}

var _ dsl.Resolver = (*ScopeStore)(nil)
