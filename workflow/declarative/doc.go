// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package declarative 把静态的动作描述解释为工作流图。

# 概述

每个动作编译为一个执行器（Action-Executor），动作之间以 Signal 消息传递控制权。
动作集合是封闭的：SetVariable、SendActivity、InvokeAgent、ConditionGroup、
Foreach、RequestInput、BreakLoop、ContinueLoop、EndWorkflow，编译器对其做穷举
switch。

  - ConditionGroup 的所有分支汇合到显式结束节点 <id>_end
  - Foreach 持有 (index, snapshot) 状态，只通过 reset / takeNext 转移，随检查点保存
  - InvokeAgent 的后台响应挂起为 resumption token，恢复后带续传令牌重新轮询
  - RequestInput 挂起等待外部输入，恢复数据写入变量

# 变量作用域

变量通过 ScopeStore 读写，存储槽由 (owner executor id, scope kind, name) 标识，
落在工作流共享状态中并随检查点保存：

  - Local  - 工作流变量，运行开始时写入声明的默认值或 map 输入
  - System - Conversation、LastMessageText、RunId
  - Env    - 编译选项提供，只读

条件与取值使用 workflow/dsl 表达式，文本使用 ${expr} 模板。

# 典型用法

	def, err := declarative.LoadFile("triage.yaml")
	wf, err := declarative.Compile(def, declarative.WithProvider(provider))
	run, err := engine.Run(ctx, wf, "我的订单没有到")
*/
package declarative
