package orchestration

import (
	"context"
	"fmt"
	"reflect"

	"github.com/BaSui01/agentgraph/agent"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// Aggregator 合并并发参与者的结果；results 按花名册顺序排列，与完成先后无关。
type Aggregator func(ctx context.Context, results []AgentResult) (any, error)

// LastMessages 是默认聚合器：取每个参与者的最后一条消息
func LastMessages(_ context.Context, results []AgentResult) (any, error) {
	out := make([]types.Message, 0, len(results))
	for _, r := range results {
		if last, ok := r.Last(); ok {
			out = append(out, last)
		}
	}
	return out, nil
}

// NewConcurrent 构建扇出/扇入编排：input 把同一对话发给所有参与者，
// aggregator 在全部参与者答复后触发一次。aggregate 为 nil 时使用 LastMessages。
func NewConcurrent(agents []agent.Agent, aggregate Aggregator, opts ...Option) (*Orchestration, error) {
	team, err := NewTeam(agents...)
	if err != nil {
		return nil, err
	}
	if aggregate == nil {
		aggregate = LastMessages
	}
	o := newOptions("concurrent", opts)

	names := team.Names()
	b := o.builder(InputExecutorID).
		AddExecutor(inputExecutor{}).
		AddExecutor(&aggregatorExecutor{aggregate: aggregate}).
		AddFanOutEdge(InputExecutorID, names, nil).
		AddFanInEdge(names, AggregatorExecutorID)
	for _, name := range names {
		m, _ := team.Get(name)
		b.BindExecutor(name, o.participant(m, true))
	}

	wf, err := b.Build(InputType())
	if err != nil {
		return nil, fmt.Errorf("concurrent orchestration: %w", err)
	}
	return &Orchestration{Pattern: PatternConcurrent, Workflow: wf, Team: team}, nil
}

type aggregatorExecutor struct {
	aggregate Aggregator
}

func (e *aggregatorExecutor) ID() string { return AggregatorExecutorID }

func (e *aggregatorExecutor) InputTypes() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[[]any]()}
}

func (e *aggregatorExecutor) Handle(ctx context.Context, msg any, wc workflow.WorkflowContext) error {
	batch, ok := msg.([]any)
	if !ok {
		return fmt.Errorf("aggregator: unexpected message %T", msg)
	}
	results := make([]AgentResult, 0, len(batch))
	for _, item := range batch {
		r, err := asResult(item)
		if err != nil {
			return fmt.Errorf("aggregator: %w", err)
		}
		results = append(results, r)
	}
	out, err := e.aggregate(ctx, results)
	if err != nil {
		return err
	}
	wc.YieldOutput(out)
	return nil
}

func asResult(v any) (AgentResult, error) {
	switch r := v.(type) {
	case AgentResult:
		return r, nil
	case *wire.PortableValue:
		return wire.As[AgentResult](r)
	}
	return AgentResult{}, fmt.Errorf("unexpected result %T", v)
}
