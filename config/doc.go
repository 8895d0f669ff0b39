// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 AgentGraph 的配置加载。
//
// 配置按 默认值 → YAML 文件 → AGENTGRAPH_ 前缀环境变量 的顺序合并，
// 覆盖引擎、检查点存储及其后端（Redis、数据库、MongoDB）、日志、遥测与指标。
package config
