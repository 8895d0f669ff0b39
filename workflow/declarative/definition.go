package declarative

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentgraph/agent"
)

// Definition 是编译前的声明式工作流
type Definition struct {
	Name        string
	Description string
	// Variables 是 Local 作用域的变量声明，运行开始时写入默认值
	Variables map[string]VariableDef
	// Agents 是工作流内定义的 Agent，编译时用 WithProvider 提供的模型创建
	Agents  map[string]agent.Config
	Actions []Action
}

// VariableDef 变量定义
type VariableDef struct {
	Default     any    `yaml:"default,omitempty" json:"default,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
}

// Document 是声明式工作流文件的顶层结构
type Document struct {
	Kind        string                  `yaml:"kind,omitempty" json:"kind,omitempty"`
	Name        string                  `yaml:"name" json:"name"`
	Description string                  `yaml:"description,omitempty" json:"description,omitempty"`
	Variables   map[string]VariableDef  `yaml:"variables,omitempty" json:"variables,omitempty"`
	Agents      map[string]agent.Config `yaml:"agents,omitempty" json:"agents,omitempty"`
	Actions     []ActionDef             `yaml:"actions" json:"actions"`
}

// ActionDef 是文件中的一个动作，按 Kind 使用其中的字段
type ActionDef struct {
	Kind ActionKind `yaml:"kind" json:"kind"`
	ID   string     `yaml:"id,omitempty" json:"id,omitempty"`

	// SetVariable / RequestInput
	Variable   string `yaml:"variable,omitempty" json:"variable,omitempty"`
	Value      any    `yaml:"value,omitempty" json:"value,omitempty"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`

	// SendActivity
	Text string `yaml:"text,omitempty" json:"text,omitempty"`

	// InvokeAgent
	Agent             string `yaml:"agent,omitempty" json:"agent,omitempty"`
	Instructions      string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	Input             string `yaml:"input,omitempty" json:"input,omitempty"`
	Output            string `yaml:"output,omitempty" json:"output,omitempty"` // 也用于 EndWorkflow
	AddToConversation bool   `yaml:"add_to_conversation,omitempty" json:"add_to_conversation,omitempty"`

	// ConditionGroup
	Conditions []ConditionDef `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Else       []ActionDef    `yaml:"else,omitempty" json:"else,omitempty"`

	// Foreach
	Items   string      `yaml:"items,omitempty" json:"items,omitempty"`
	Item    string      `yaml:"item,omitempty" json:"item,omitempty"`
	Index   string      `yaml:"index,omitempty" json:"index,omitempty"`
	Actions []ActionDef `yaml:"actions,omitempty" json:"actions,omitempty"`

	// RequestInput
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// ConditionDef 条件分支定义
type ConditionDef struct {
	Condition string      `yaml:"condition" json:"condition"`
	Actions   []ActionDef `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Definition 把文件结构转换为 Definition。缺少 id 的动作按位置生成稳定 id，
// 例如第二个顶层动作中第一个分支的首个 SendActivity 为 sendactivity_2_1_1。
func (d *Document) Definition() (*Definition, error) {
	if d.Kind != "" && d.Kind != "Workflow" {
		return nil, fmt.Errorf("unsupported document kind %q", d.Kind)
	}
	actions, err := convertActions(d.Actions, "")
	if err != nil {
		return nil, err
	}
	agents := make(map[string]agent.Config, len(d.Agents))
	for name, cfg := range d.Agents {
		if cfg.Name == "" {
			cfg.Name = name
		}
		agents[name] = cfg
	}
	return &Definition{
		Name:        d.Name,
		Description: d.Description,
		Variables:   d.Variables,
		Agents:      agents,
		Actions:     actions,
	}, nil
}

func convertActions(defs []ActionDef, prefix string) ([]Action, error) {
	out := make([]Action, 0, len(defs))
	for i, def := range defs {
		pos := fmt.Sprintf("%s_%d", prefix, i+1)
		a, err := def.action(pos)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", strings.TrimPrefix(pos, "_"), err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (d ActionDef) action(pos string) (Action, error) {
	id := d.ID
	if id == "" {
		id = strings.ToLower(string(d.Kind)) + pos
	}

	switch d.Kind {
	case KindSetVariable:
		return &SetVariable{ID: id, Variable: d.Variable, Value: d.Value, Expression: d.Expression}, nil
	case KindSendActivity:
		return &SendActivity{ID: id, Text: d.Text}, nil
	case KindInvokeAgent:
		return &InvokeAgent{
			ID:                id,
			Agent:             d.Agent,
			Instructions:      d.Instructions,
			Input:             d.Input,
			Output:            d.Output,
			AddToConversation: d.AddToConversation,
		}, nil
	case KindConditionGroup:
		g := &ConditionGroup{ID: id}
		for i, c := range d.Conditions {
			actions, err := convertActions(c.Actions, fmt.Sprintf("%s_%d", pos, i+1))
			if err != nil {
				return nil, err
			}
			g.Conditions = append(g.Conditions, Condition{Condition: c.Condition, Actions: actions})
		}
		elseActions, err := convertActions(d.Else, pos+"_else")
		if err != nil {
			return nil, err
		}
		g.Else = elseActions
		return g, nil
	case KindForeach:
		body, err := convertActions(d.Actions, pos)
		if err != nil {
			return nil, err
		}
		return &Foreach{ID: id, Items: d.Items, Value: d.Item, Index: d.Index, Actions: body}, nil
	case KindRequestInput:
		return &RequestInput{ID: id, Prompt: d.Prompt, Variable: d.Variable, AddToConversation: d.AddToConversation}, nil
	case KindBreakLoop:
		return &BreakLoop{ID: id}, nil
	case KindContinueLoop:
		return &ContinueLoop{ID: id}, nil
	case KindEndWorkflow:
		return &EndWorkflow{ID: id, Output: d.Output}, nil
	case "":
		return nil, fmt.Errorf("kind is required")
	}
	return nil, fmt.Errorf("unknown action kind %q", d.Kind)
}
