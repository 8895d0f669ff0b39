/*
Package llm 定义 Agent 使用的大语言模型接入契约。

核心接口是 [Provider]：Completion / Stream / HealthCheck / Name /
SupportsNativeFunctionCalling。消息结构直接复用 types 包。

  - [ChatRequest] / [ChatResponse]：请求与响应；后台响应以
    [StatusInProgress] 和 ContinuationToken 表示尚未完成
  - [RateLimitedProvider]：基于 golang.org/x/time/rate 的令牌桶限流包装
  - [ProviderRegistry]：按名称解析 Provider
*/
package llm
