package orchestration

import (
	"context"

	"github.com/BaSui01/agentgraph/workflow"
)

// Pattern 编排模式
type Pattern string

const (
	PatternSequential Pattern = "sequential" // 链式
	PatternConcurrent Pattern = "concurrent" // 扇出/扇入
	PatternGroupChat  Pattern = "group_chat" // 管理者协调轮流发言
	PatternHandoff    Pattern = "handoff"    // 参与者之间动态转交
)

// Orchestration 是预置拓扑的工作流加上参与者花名册
type Orchestration struct {
	Pattern  Pattern
	Workflow *workflow.Workflow
	Team     *Team
}

// Roster 返回 name -> description
func (o *Orchestration) Roster() map[string]string {
	return o.Team.Roster()
}

// Run 在 engine 上启动编排，input 可以是 string、types.Message 或 []types.Message
func (o *Orchestration) Run(ctx context.Context, engine *workflow.Engine, input any, opts ...workflow.RunOption) (*workflow.Run, error) {
	return engine.Run(ctx, o.Workflow, input, opts...)
}

// Resume 恢复编排运行
func (o *Orchestration) Resume(ctx context.Context, engine *workflow.Engine, runID string, opts ...workflow.ResumeOption) (*workflow.Run, error) {
	return engine.Resume(ctx, o.Workflow, runID, opts...)
}
