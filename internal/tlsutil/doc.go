// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 提供集中式的客户端 TLS 配置（TLS 1.2+，仅 AEAD 密码套件），
// 供模型 Provider 的 HTTP 客户端与 Redis 检查点存储的连接使用。
package tlsutil
