/*
Package checkpoint 定义工作流检查点的持久化契约及其实现。

检查点是按 (runID, checkpointID) 寻址的不透明 wire.Value 快照，
每次提交可选地引用父检查点，从而形成一棵谱系树（并发分支可以共享同一个父节点）。
存储只追加：提交后的记录不会被存储自身修改或删除；不同 runID 之间相互隔离。

# 实现

  - MemoryStore - 进程内 map，测试与单机场景
  - FileStore   - 每个 run 一个目录，每个检查点一个 JSON 文件
  - RedisStore  - 数据 key + 有序集合索引（全部 / 按父节点）
  - GormStore   - workflow_checkpoints 关系表（postgres/mysql/sqlite）
  - MongoStore  - 文档集合，(run_id, checkpoint_id) 唯一索引

NewStore 按 StoreType 选择实现。
*/
package checkpoint
