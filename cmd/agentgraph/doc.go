// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 agentgraph 命令行程序入口。

# 概述

cmd/agentgraph 加载 YAML 配置（环境变量 AGENTGRAPH_* 覆盖），按配置创建
检查点存储、工作流引擎、模型 Provider 与可观测性组件，并提供以下子命令：

  - validate     校验声明式工作流文件
  - run          编译并运行声明式工作流，挂起时打印待处理的 token；--trace 打印执行器路径
  - resume       从检查点恢复运行，为 token 提供外部输入
  - checkpoints  列出 run 的检查点，查看检查点内容与谱系
  - migrate      管理 workflow_checkpoints 表结构（golang-migrate）
  - version      显示版本信息

# 退出码

0 表示成功（包括运行挂起），1 表示执行失败，2 表示参数错误。

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置：

	go build -ldflags "-X main.Version=v0.3.0" ./cmd/agentgraph
*/
package main
