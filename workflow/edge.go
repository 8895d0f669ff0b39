package workflow

import (
	"strings"
)

// Predicate 是作用于发出消息的纯函数；nil 表示总是转发。
type Predicate func(msg any) bool

// FanOutSelector 为一条消息从候选目标中选出实际目标；nil 表示全部目标。
type FanOutSelector func(msg any, targets []string) []string

// EdgeKind 边类型
type EdgeKind string

const (
	EdgeDirect EdgeKind = "direct"
	EdgeFanOut EdgeKind = "fan_out"
	EdgeFanIn  EdgeKind = "fan_in"
)

// Edge 是图中的一条有向边。相等性按 (Source, Target) 判定。
type Edge struct {
	Source    string
	Target    string
	Kind      EdgeKind
	Predicate Predicate
}

type edgeKey struct {
	source, target string
}

// route 是某个源节点上的一组出边
type route struct {
	kind      EdgeKind
	target    string
	predicate Predicate
	targets   []string
	selector  FanOutSelector
	group     *fanInGroup
}

// fanInGroup 是一个显式声明的汇聚点：每一轮需要收到所有 sources 的消息才触发。
type fanInGroup struct {
	id      string
	sources []string
	target  string
}

func fanInGroupID(sources []string, target string) string {
	return strings.Join(sources, "+") + "->" + target
}

func edgeTopic(source, target string) string {
	return "edge:" + source + "->" + target
}

func fanInTopic(group string) string {
	return "fanin:" + group
}

func inputTopic(start string) string {
	return "input:" + start
}

func responseTopic(executorID string) string {
	return "response:" + executorID
}
