// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database 打开关系数据库并管理 GORM 连接池，供 SQL 检查点存储使用。

# 概述

Open 按 config.DatabaseConfig 选择方言（postgres、mysql、纯 Go sqlite），
返回 PoolManager。PoolManager 设置连接池参数，可选地在后台定时探活并
记录健康状态变化，Close 时先停止探活再关闭连接。sqlite 固定为单连接。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB、Ping、Healthy、Stats、Close
  - PoolConfig：最大空闲 / 打开连接数、生命周期、空闲超时、探活间隔
  - PoolStats：连接池统计
*/
package database
