// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 jobs 是作业分发层与编排核心之间的边界。

一次 Crew 或 Flow 运行对应一个作业：Runner 从已构建的 dsl.Bundle 中
取出目标，携带作业 id 执行，再通过 ResultSink 投递结果。队列消费、
消息级重试与投递确认由外部分发层负责，本包不处理。

RedisSink 将结果以 JSON 写入 "<queue>:<job_id>" 键（带 TTL），并把
作业 id 追加到 queue 列表，供下游按序消费。
*/
package jobs
