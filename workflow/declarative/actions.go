package declarative

// ActionKind 动作类型
type ActionKind string

const (
	KindSetVariable    ActionKind = "SetVariable"
	KindSendActivity   ActionKind = "SendActivity"
	KindInvokeAgent    ActionKind = "InvokeAgent"
	KindConditionGroup ActionKind = "ConditionGroup"
	KindForeach        ActionKind = "Foreach"
	KindRequestInput   ActionKind = "RequestInput"
	KindBreakLoop      ActionKind = "BreakLoop"
	KindContinueLoop   ActionKind = "ContinueLoop"
	KindEndWorkflow    ActionKind = "EndWorkflow"
)

// Action 是封闭的动作变体集合，只有本包中的类型实现它。
// 编译器对具体类型做穷举 switch，每个动作编译为一个执行器。
type Action interface {
	ActionID() string
	Kind() ActionKind
	sealed()
}

// SetVariable 把字面量或表达式的值赋给变量。
// Expression 非空时优先于 Value。
type SetVariable struct {
	ID         string
	Variable   string
	Value      any
	Expression string
}

// SendActivity 渲染 ${expr} 模板并作为工作流输出产出
type SendActivity struct {
	ID   string
	Text string
}

// InvokeAgent 调用 Agent：Instructions 模板作为系统消息，
// 随后是 System.Conversation，Input 表达式的值作为用户消息。
// 回复文本写入 Output 变量；后台响应挂起为 resumption token。
type InvokeAgent struct {
	ID                string
	Agent             string
	Instructions      string
	Input             string
	Output            string
	AddToConversation bool
}

// Condition 是条件组中的一个分支
type Condition struct {
	Condition string
	Actions   []Action
}

// ConditionGroup 按顺序求值条件，执行第一个为真的分支，都不成立时执行 Else。
// 所有分支汇合到显式的结束节点 <id>_end。
type ConditionGroup struct {
	ID         string
	Conditions []Condition
	Else       []Action
}

// Foreach 对 Items 表达式求得的集合快照逐项执行 Actions。
// Value / Index 为每次迭代写入的变量，Index 可为空。
// 每次迭代至少消耗两个超步，默认上限 100 大约只够 50 项的单动作循环；
// 长集合需要按 EstimateSupersteps 调大 workflow.WithMaxSupersteps（配置项 engine.max_supersteps）。
type Foreach struct {
	ID      string
	Items   string
	Value   string
	Index   string
	Actions []Action
}

// RequestInput 挂起工作流等待外部输入，恢复数据写入 Variable
type RequestInput struct {
	ID                string
	Prompt            string
	Variable          string
	AddToConversation bool
}

// BreakLoop 结束最内层 Foreach
type BreakLoop struct {
	ID string
}

// ContinueLoop 跳到最内层 Foreach 的下一项
type ContinueLoop struct {
	ID string
}

// EndWorkflow 结束当前分支；Output 表达式非空时先产出其值
type EndWorkflow struct {
	ID     string
	Output string
}

func (a *SetVariable) ActionID() string    { return a.ID }
func (a *SendActivity) ActionID() string   { return a.ID }
func (a *InvokeAgent) ActionID() string    { return a.ID }
func (a *ConditionGroup) ActionID() string { return a.ID }
func (a *Foreach) ActionID() string        { return a.ID }
func (a *RequestInput) ActionID() string   { return a.ID }
func (a *BreakLoop) ActionID() string      { return a.ID }
func (a *ContinueLoop) ActionID() string   { return a.ID }
func (a *EndWorkflow) ActionID() string    { return a.ID }

func (a *SetVariable) Kind() ActionKind    { return KindSetVariable }
func (a *SendActivity) Kind() ActionKind   { return KindSendActivity }
func (a *InvokeAgent) Kind() ActionKind    { return KindInvokeAgent }
func (a *ConditionGroup) Kind() ActionKind { return KindConditionGroup }
func (a *Foreach) Kind() ActionKind        { return KindForeach }
func (a *RequestInput) Kind() ActionKind   { return KindRequestInput }
func (a *BreakLoop) Kind() ActionKind      { return KindBreakLoop }
func (a *ContinueLoop) Kind() ActionKind   { return KindContinueLoop }
func (a *EndWorkflow) Kind() ActionKind    { return KindEndWorkflow }

func (*SetVariable) sealed()    {}
func (*SendActivity) sealed()   {}
func (*InvokeAgent) sealed()    {}
func (*ConditionGroup) sealed() {}
func (*Foreach) sealed()        {}
func (*RequestInput) sealed()   {}
func (*BreakLoop) sealed()      {}
func (*ContinueLoop) sealed()   {}
func (*EndWorkflow) sealed()    {}

// walkActions 深度优先遍历动作树
func walkActions(actions []Action, fn func(Action) error) error {
	for _, a := range actions {
		if err := fn(a); err != nil {
			return err
		}
		switch x := a.(type) {
		case *ConditionGroup:
			for _, c := range x.Conditions {
				if err := walkActions(c.Actions, fn); err != nil {
					return err
				}
			}
			if err := walkActions(x.Else, fn); err != nil {
				return err
			}
		case *Foreach:
			if err := walkActions(x.Actions, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
