/*
Package orchestration 在工作流引擎之上提供预置的多 Agent 编排拓扑。

  - [NewSequential] - input -> a1 -> ... -> aN -> output，对话逐步累积
  - [NewConcurrent] - input 扇出到全部参与者，aggregator 扇入后触发一次，
    结果按花名册顺序排列
  - [NewGroupChat] - 管理者执行器持有历史，[GroupChatManager] 决定下一位发言人、
    结束时机与是否暂停等待人工输入；[RoundRobinManager] 是参考实现
  - [NewHandoffBuilder] - 参与者通过 handoff_to_<name> 工具转交控制权，
    路由表在注册时校验，运行时越权转交返回 [RoutingError]

每个参与者由 [AgentExecutor] 适配为执行器，状态 (index, messages, pendingToken)
写入检查点。Agent 返回后台响应时运行挂起为 Suspended，恢复对应 token 即继续轮询。
*/
package orchestration
