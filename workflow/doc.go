// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供基于图的多 Agent 工作流引擎。

# 概述

工作流是由执行器（Executor）和有向边组成的图。Builder 以执行器 ID 声明边，
再为每个 ID 绑定工厂；Build 时若存在被引用但未绑定的 ID，返回
GraphIncompleteError。Engine 在 runtime 包提供的 Actor 运行时上按超步
（superstep）驱动执行：同一超步内不同执行器并发处理消息，消息、输出与共享
状态写入在超步边界统一生效，并提交一个检查点。

# 核心类型

  - Executor / Checkpointable - 图节点与可保存私有状态的节点
  - FuncExecutor[T]           - 以类型化函数实现的执行器
  - Builder / Workflow        - 图构建器与不可变图
  - Engine / Run              - 执行引擎与运行句柄
  - WorkflowContext           - 执行器与引擎交互的入口
  - ResumptionToken           - 等待外部输入的挂起点

# 边

  - AddEdge：直连边，可带 Predicate
  - AddFanOutEdge：一对多，FanOutSelector 选择实际目标
  - AddFanInEdge：多对一，每个源都到达后按声明顺序组成 []any 投递一次

# 状态与恢复

运行状态：NotStarted → Running → {Suspended | Completed | Failed}，
Suspended 可以再次 Running。执行器调用 RequestInfo 后，run 在没有其它待
投递消息时挂起；Engine.Resume 携带 WithResponse 从最近（或指定）检查点
继续。检查点通过 checkpoint.Store 持久化，载荷使用 wire 包的延迟反序列化
编码，未注册的类型以 PortableValue 保留到第一次按类型访问。
*/
package workflow
