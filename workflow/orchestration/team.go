package orchestration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/agentgraph/agent"
)

// Member 是花名册中的一个参与者
type Member struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Kind        string      `json:"kind"`
	Agent       agent.Agent `json:"-"`
}

// Team 是编排注册时构建的花名册：name -> (类型, 描述)。
// 构建后只读，可被协调执行器并发读取。
type Team struct {
	members map[string]Member
	order   []string
}

// NewTeam 按给定顺序构建花名册；名称为空、重复或与内部执行器冲突时失败。
func NewTeam(agents ...agent.Agent) (*Team, error) {
	if len(agents) == 0 {
		return nil, ErrNoParticipants
	}
	t := &Team{members: make(map[string]Member, len(agents))}
	for _, a := range agents {
		if a == nil {
			return nil, fmt.Errorf("%w: nil agent", ErrNoParticipants)
		}
		name := a.Name()
		if name == "" {
			return nil, fmt.Errorf("participant %T has empty name", a)
		}
		if isReserved(name) {
			return nil, fmt.Errorf("%w: %s", ErrReservedName, name)
		}
		if _, dup := t.members[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, name)
		}
		t.members[name] = Member{
			Name:        name,
			Description: a.Description(),
			Kind:        fmt.Sprintf("%T", a),
			Agent:       a,
		}
		t.order = append(t.order, name)
	}
	return t, nil
}

// Names 按注册顺序返回参与者名称
func (t *Team) Names() []string {
	return append([]string(nil), t.order...)
}

// Len 返回参与者数量
func (t *Team) Len() int { return len(t.order) }

// Get 返回参与者
func (t *Team) Get(name string) (Member, bool) {
	m, ok := t.members[name]
	return m, ok
}

// Has 报告名称是否已注册
func (t *Team) Has(name string) bool {
	_, ok := t.members[name]
	return ok
}

// Roster 返回 name -> description
func (t *Team) Roster() map[string]string {
	out := make(map[string]string, len(t.members))
	for name, m := range t.members {
		out[name] = m.Description
	}
	return out
}

// Describe 生成 "- name: description" 列表，供选择发言人的提示词使用
func (t *Team) Describe() string {
	var sb strings.Builder
	for _, name := range t.order {
		fmt.Fprintf(&sb, "- %s: %s\n", name, t.members[name].Description)
	}
	return sb.String()
}

// sortedNames 返回字典序名称，用于稳定的错误信息
func (t *Team) sortedNames() []string {
	names := t.Names()
	sort.Strings(names)
	return names
}
