// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package metrics 提供基于 Prometheus 的工作流指标采集。

# 概述

Collector 实现 workflow.Observer，通过 workflow.WithObserver 接入引擎。
指标注册在调用方传入的 Registerer 上（缺省为全局 registry），按 namespace 隔离。

# 指标

  - workflow_runs_total / workflow_runs_active / workflow_run_duration_seconds：
    按 workflow、status 分组
  - workflow_supersteps_total / workflow_superstep_duration_seconds
  - executor_invocations_total / executor_duration_seconds：按 executor 与 result 分组
  - checkpoint_commits_total / checkpoint_commit_duration_seconds
*/
package metrics
