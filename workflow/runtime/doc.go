/*
Package runtime 实现工作流使用的 Actor 层。

每个执行器实例对应一个 actor，拥有私有的严格有序邮箱；actor 之间只通过
向 topic 发布消息通信，从不直接引用彼此。同一 actor 不会并发处理两条消息，
不同 actor 之间并发执行。Drain 等待所有邮箱清空（静止点），
引擎以此作为一个超步的边界。

actor 还可以通过 Emit 发出中间事件（进度、流式片段），
这些事件不参与图路由，直接交给 EventSink。
*/
package runtime
