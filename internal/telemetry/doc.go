// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，为 agentgraph 提供
// TracerProvider 与 MeterProvider，并提供基于 OTel 指标的工作流 Observer。
// 关闭遥测时使用 noop 实现，不连接任何外部服务。
package telemetry
