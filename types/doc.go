// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 agent、llm、workflow 共享的基础类型，不依赖任何内部包。

  - Message / Role / ToolCall：对话消息，工作流执行器之间传递的主要载荷
  - ToolSchema：对模型公开的工具定义
  - Error / ErrorCode：带错误码的结构化错误，CodeOf 沿错误链取码
*/
package types
