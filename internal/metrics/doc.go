// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的运行指标采集，覆盖
Crew、Task、Flow、LLM 与数据库连接池。

# 核心类型

  - Collector：指标收集器，通过 promauto.With 注册到调用方给定的
    Registerer，按 namespace 隔离。Collector 同时实现 crews.Listener
    与 workflow.Listener，挂到 Crew 或 Flow 上即可采集运行事件。

# 主要能力

  - Crew 指标：运行总数（按终态）、运行耗时、进行中的运行数。
  - Task 指标：执行总数（按 agent 与终态）、执行耗时、重试次数、
    进行中的任务数。
  - Flow 指标：运行总数、运行耗时、状态进入次数、转移次数。
  - LLM 指标：InstrumentCompleter 包装任意 llm.Completer，记录请求数、
    耗时与 Token 用量（prompt/completion）。
  - 数据库指标：活跃/空闲连接数 Gauge。
*/
package metrics
