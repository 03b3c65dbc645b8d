// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 crews 提供基于角色分工的多智能体团队（Crew）编排核心。

# 概述

一个 Crew 是可复用的模板：一组不可变的智能体（Agent）、一张经过校验的
任务依赖图（TaskGraph）以及一种执行策略（Process）。每次 Kickoff 都会
分配全新的任务执行记录（TaskRecord），并发调用同一个 Crew 互不干扰。

# 核心模型

  - Agent：角色、目标、背景、模型、温度、工具集、委派标记与记忆配置。
  - Task：描述、期望输出、指派智能体、depends_on、超时与人工审批门。
  - TaskGraph：构建期检测循环依赖与未知引用，运行期给出就绪集合
    与依赖上下文（按声明顺序）。
  - Process：Sequential / Parallel / Hierarchical 三种封闭变体。
  - CrewResult：最终输出、逐任务记录、统计信息与成功标记。

# 失败语义

任务失败时按 FailurePolicy 处理：continue（默认）下依赖它的任务标记为
Skipped，其余独立任务照常执行；abort 下所有尚未执行的任务标记为 Aborted。
任务超时只取消该任务本身；调用方取消会让执行中的任务报告 Cancelled。
*/
package crews
