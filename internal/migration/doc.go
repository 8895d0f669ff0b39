// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package migration 管理检查点表 workflow_checkpoints 的 Schema 版本，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在 migrations/<方言>/ 目录下，
表结构与 checkpoint.CheckpointRow 保持一致。SQLite 使用纯 Go 驱动，
与 internal/database 共用同一个 database/sql 驱动名。

# 核心类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close
  - DefaultMigrator：封装 golang-migrate 实例与数据库连接，日志接入 zap
  - Config：数据库类型、连接串、版本表名、锁超时
  - CLI：agentgraph migrate 子命令的格式化输出

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig 从应用配置创建迁移器，
NewMigratorFromURL 直接使用连接串。
*/
package migration
