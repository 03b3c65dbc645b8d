// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 crewflow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent/crews、workflow、
llm 等上层模块提供统一的错误契约与上下文传播工具。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Retryable 与 Cause，按 Code 参与 errors.Is
  - XxxKind 哨兵      — 用于 errors.Is(err, types.ErrCyclicDependencyKind) 等判断
  - WithRunID / WithFlowRunID / WithJobID — 执行 ID 的 Context 传播

# 错误分类

构建期错误（IsConstructionError 返回 true）：循环依赖、未知任务/智能体/Crew 引用、
重复 ID、非法 Flow、缺少 Manager。运行期错误：任务超时、任务执行失败、
无可用转移、步数超限、取消。
*/
package types
