// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package openaicompat 提供 OpenAI Chat Completions 协议的 llm.Provider 实现。

OpenAI、DeepSeek、Qwen、vLLM、Ollama 等服务共享同一套请求格式，只需配置
BaseURL、APIKey 与默认模型即可接入。声明式工作流中的 agent 节点通过它调用模型。

# 用法

	p := openaicompat.New(openaicompat.Config{
		ProviderName: "deepseek",
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      "https://api.deepseek.com",
		DefaultModel: "deepseek-chat",
	}, logger)

流式响应中的工具调用分片会在 finish_reason 到达时合并为一个完整的 chunk。
*/
package openaicompat
