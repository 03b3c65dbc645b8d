// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package workflow 提供基于状态机的多 Crew 编排.

# 概述

Flow 由状态与转移组成: 恰好一个初始状态, 零或多个终止状态.
进入状态时若绑定了 Crew 则执行一次 Kickoff, 随后按优先级(同优先级按
声明顺序)选择第一个条件成立的出边. 没有可用出边时, 终止状态正常结束,
其他状态以 NO_ELIGIBLE_TRANSITION 失败; 步数超过上限以
STEP_LIMIT_EXCEEDED 失败.

# 核心类型

  - Flow / FlowBuilder — 不可变的状态机定义与构建器
  - State / Transition — 状态与带条件、优先级的转移
  - Condition          — 固定词汇的条件树: Always、OnSuccess、OnFailure、
    OutputContains、VariableEquals、And、Or、Not, 由 Evaluate 统一求值
  - RunContext         — 单次运行的变量表(Set / Get)
  - FlowResult         — 访问序列、各 Crew 结果、终止状态与统计
  - Listener           — 运行事件回调

Flow 只持有 Crew 的引用并调用 Kickoff, 同一 Crew 可以绑定到多个状态.
*/
package workflow
