// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 crewflow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / CancelledContext，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertStatuses，按任务 id 检查 Crew Result 中的终态

# 子包

  - testutil/mocks: MockCompleter（补全后端，支持按提示词路由、延迟与错误注入）、
    MockEmbedder（按关键词轴生成确定性向量）
  - testutil/fixtures: 预置的智能体、任务与 Crew 定义

# 使用示例

	ctx := testutil.TestContext(t)
	completer := mocks.NewMockCompleter().On("research", "findings")
	crew, err := fixtures.ResearchCrew(completer).Build()
	result, err := crew.Kickoff(ctx, nil)
	testutil.AssertStatuses(t, result, map[string]crews.TaskStatus{"research": crews.TaskCompleted})
*/
package testutil
