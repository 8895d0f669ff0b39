package agent

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/agentgraph/types"
)

// HandoffToolPrefix 是 hand-off 工具名前缀，工具名为 handoff_to_<agent name>
const HandoffToolPrefix = "handoff_to_"

var handoffParams = json.RawMessage(`{"type":"object","properties":{"reason":{"type":"string","description":"Why control is handed off"}}}`)

// HandoffTool 构造把控制权交给 target 的工具定义
func HandoffTool(target, reason string) types.ToolSchema {
	desc := "Hand off the conversation to " + target
	if reason != "" {
		desc += ": " + reason
	}
	return types.ToolSchema{
		Name:        HandoffToolPrefix + target,
		Description: desc,
		Parameters:  handoffParams,
	}
}

// ParseHandoff 从工具调用中找出第一个 hand-off 目标
func ParseHandoff(calls []types.ToolCall) (string, bool) {
	for _, call := range calls {
		if target, ok := strings.CutPrefix(call.Name, HandoffToolPrefix); ok && target != "" {
			return target, true
		}
	}
	return "", false
}
