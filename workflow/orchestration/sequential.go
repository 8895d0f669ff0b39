package orchestration

import (
	"fmt"

	"github.com/BaSui01/agentgraph/agent"
)

// NewSequential 构建链式编排：input -> a1 -> a2 -> ... -> output。
// 每个参与者收到累积的对话并追加自己的回复；输出为最终对话 []types.Message。
func NewSequential(agents []agent.Agent, opts ...Option) (*Orchestration, error) {
	team, err := NewTeam(agents...)
	if err != nil {
		return nil, err
	}
	o := newOptions("sequential", opts)

	b := o.builder(InputExecutorID).
		AddExecutor(inputExecutor{}).
		AddExecutor(outputExecutor{})

	chain := append([]string{InputExecutorID}, team.Names()...)
	chain = append(chain, OutputExecutorID)
	b.AddChain(chain...)
	for _, name := range team.Names() {
		m, _ := team.Get(name)
		b.BindExecutor(name, o.participant(m, false))
	}

	wf, err := b.Build(InputType())
	if err != nil {
		return nil, fmt.Errorf("sequential orchestration: %w", err)
	}
	return &Orchestration{Pattern: PatternSequential, Workflow: wf, Team: team}, nil
}
