package workflow

import (
	"reflect"
	"sort"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

// Workflow 是构建完成的不可变图：执行器 ID -> 工厂、源 ID -> 出边、起始执行器与声明的输入类型。
// 同一个 Workflow 可以被多个 run 并发使用，每个 run 拥有自己的执行器实例。
type Workflow struct {
	name        string
	description string
	start       string
	inputType   reflect.Type

	executorIDs []string
	factories   map[string]ExecutorFactory
	inputTypes  map[string][]reflect.Type
	routes      map[string][]*route
	fanIns      map[string]*fanInGroup
	fanInOrder  []string
	outputs     map[string]bool

	registry *wire.Registry
	warnings []string
}

// Name 返回工作流名称
func (w *Workflow) Name() string { return w.name }

// Description 返回工作流描述
func (w *Workflow) Description() string { return w.description }

// StartExecutorID 返回起始执行器
func (w *Workflow) StartExecutorID() string { return w.start }

// InputType 返回构建时声明的输入类型
func (w *Workflow) InputType() reflect.Type { return w.inputType }

// ExecutorIDs 按首次引用顺序返回全部执行器 ID
func (w *Workflow) ExecutorIDs() []string {
	return append([]string(nil), w.executorIDs...)
}

// Registry 返回该工作流的 wire 类型注册表。
// 执行器声明的输入类型在构建时自动注册；私有状态类型可在此补充注册。
func (w *Workflow) Registry() *wire.Registry { return w.registry }

// Warnings 返回构建时的非致命问题（例如起始执行器不接受声明的输入类型）
func (w *Workflow) Warnings() []string {
	return append([]string(nil), w.warnings...)
}

// IsOutputExecutor 报告执行器发送的消息是否同时作为工作流输出
func (w *Workflow) IsOutputExecutor(id string) bool { return w.outputs[id] }

// InputTypesOf 返回执行器接受的消息类型
func (w *Workflow) InputTypesOf(id string) []reflect.Type {
	return w.inputTypes[id]
}

// Edges 返回全部边（扁平化），按源 ID 排序
func (w *Workflow) Edges() []Edge {
	sources := make([]string, 0, len(w.routes))
	for s := range w.routes {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var edges []Edge
	for _, s := range sources {
		for _, r := range w.routes[s] {
			switch r.kind {
			case EdgeDirect:
				edges = append(edges, Edge{Source: s, Target: r.target, Kind: EdgeDirect, Predicate: r.predicate})
			case EdgeFanOut:
				for _, t := range r.targets {
					edges = append(edges, Edge{Source: s, Target: t, Kind: EdgeFanOut})
				}
			case EdgeFanIn:
				edges = append(edges, Edge{Source: s, Target: r.group.target, Kind: EdgeFanIn})
			}
		}
	}
	return edges
}

// instantiate 为一次 run 创建全部执行器实例
func (w *Workflow) instantiate() (map[string]Executor, error) {
	out := make(map[string]Executor, len(w.factories))
	for _, id := range w.executorIDs {
		e, err := w.factories[id]()
		if err != nil {
			return nil, &ExecutorFaultError{ExecutorID: id, Cause: err}
		}
		out[id] = e
	}
	return out, nil
}
