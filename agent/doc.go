// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package agent 定义编排模式与声明式解释器使用的 Agent 参与者契约。

# 核心接口

  - [Agent]：Name / Description / Run；Run 接收有序消息列表并返回 [Response]
  - [ChatAgent]：基于 llm.Provider 的实现，支持工具循环、流式增量、
    hand-off 工具（handoff_to_<name>）与后台响应的续传
  - [FuncAgent]：用函数实现的 Agent，适合确定性步骤与测试

# 后台响应

Provider 返回 in_progress 状态时，Run 返回的 Response 携带 ContinuationToken
而不是消息。调用方（通常是工作流执行器）可把它转换为工作流的 ResumptionToken，
之后通过 [WithContinuation] 继续轮询。

# 典型用法

	a, err := agent.NewChatAgent(agent.Config{
	    Name:         "billing",
	    Instructions: "You answer billing questions.",
	    Model:        "gpt-4o",
	}, provider, agent.WithToolExecutor(tools, tools.List()...))

	resp, err := a.Run(ctx, []types.Message{types.NewUserMessage("hi")})
*/
package agent
