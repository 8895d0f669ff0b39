package types

import "encoding/json"

// ToolSchema 描述一个可供模型调用的工具，Parameters 为 JSON Schema
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}
