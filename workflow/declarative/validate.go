package declarative

import (
	"errors"
	"fmt"

	"github.com/BaSui01/agentgraph/workflow/dsl"
)

// validator 校验 Definition：动作 ID、变量路径、表达式与模板语法、Agent 引用、
// 循环控制动作的位置。
type validator struct {
	eval   *dsl.Evaluator
	agents map[string]bool
	ids    map[string]bool
	errs   []error
}

func newValidator(eval *dsl.Evaluator, agents map[string]bool) *validator {
	return &validator{eval: eval, agents: agents, ids: map[string]bool{StartExecutorID: true}}
}

// validate 返回全部错误，用 errors.Join 合并
func (v *validator) validate(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition is nil")
	}
	if def.Name == "" {
		v.errorf("name is required")
	}
	if len(def.Actions) == 0 {
		v.errorf("at least one action is required")
	}
	for name := range def.Variables {
		if _, _, rest, err := ParseVariable(name); err != nil || len(rest) > 0 {
			v.errorf("variable %q: name must be a plain identifier", name)
		}
	}
	for name, cfg := range def.Agents {
		if err := cfg.Validate(); err != nil {
			v.errorf("agent %s: %v", name, err)
		}
	}

	// 先收集全部 ID，条件组的结束节点也占用 ID
	_ = walkActions(def.Actions, func(a Action) error {
		v.claim(a.ActionID())
		if g, ok := a.(*ConditionGroup); ok && g.ID != "" {
			v.claim(g.ID + EndSuffix)
		}
		return nil
	})
	v.actions(def.Actions, false)
	return errors.Join(v.errs...)
}

func (v *validator) errorf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) claim(id string) {
	if id == "" {
		v.errorf("action id is required")
		return
	}
	if v.ids[id] {
		v.errorf("duplicate action id: %s", id)
		return
	}
	v.ids[id] = true
}

func (v *validator) actions(actions []Action, inLoop bool) {
	for _, a := range actions {
		v.action(a, inLoop)
	}
}

func (v *validator) action(a Action, inLoop bool) {
	id := a.ActionID()
	switch x := a.(type) {
	case *SetVariable:
		v.assignable(id, x.Variable)
		v.expr(id, x.Expression)
	case *SendActivity:
		if x.Text == "" {
			v.errorf("action %s: text is required", id)
		}
		v.template(id, x.Text)
	case *InvokeAgent:
		if !v.agents[x.Agent] {
			v.errorf("action %s: agent %q not found", id, x.Agent)
		}
		v.template(id, x.Instructions)
		v.expr(id, x.Input)
		if x.Output != "" {
			v.assignable(id, x.Output)
		}
	case *ConditionGroup:
		if len(x.Conditions) == 0 {
			v.errorf("action %s: condition group requires at least one condition", id)
		}
		for i, c := range x.Conditions {
			if c.Condition == "" {
				v.errorf("action %s: condition %d is empty", id, i)
				continue
			}
			v.expr(id, c.Condition)
			v.actions(c.Actions, inLoop)
		}
		v.actions(x.Else, inLoop)
	case *Foreach:
		if x.Items == "" {
			v.errorf("action %s: items expression is required", id)
		}
		v.expr(id, x.Items)
		v.assignable(id, x.Value)
		if x.Index != "" {
			v.assignable(id, x.Index)
		}
		v.actions(x.Actions, true)
	case *RequestInput:
		v.assignable(id, x.Variable)
		v.template(id, x.Prompt)
	case *BreakLoop, *ContinueLoop:
		if !inLoop {
			v.errorf("action %s: %s outside of a loop", id, a.Kind())
		}
	case *EndWorkflow:
		v.expr(id, x.Output)
	default:
		v.errorf("action %s: unsupported action %T", id, a)
	}
}

func (v *validator) assignable(id, path string) {
	if path == "" {
		v.errorf("action %s: variable is required", id)
		return
	}
	kind, _, rest, err := ParseVariable(path)
	switch {
	case err != nil:
		v.errorf("action %s: %v", id, err)
	case len(rest) > 0:
		v.errorf("action %s: cannot assign to nested path %q", id, path)
	case kind == ScopeEnv:
		v.errorf("action %s: %s: %v", id, path, ErrReadOnlyScope)
	}
}

func (v *validator) expr(id, expr string) {
	if expr == "" {
		return
	}
	if err := v.eval.Check(expr); err != nil {
		v.errorf("action %s: %v", id, err)
	}
}

func (v *validator) template(id, tmpl string) {
	if err := v.eval.CheckTemplate(tmpl); err != nil {
		v.errorf("action %s: %v", id, err)
	}
}
