// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 crewflow 进程级配置.
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加, 最后统一校验.
// Crew 与 Flow 的定义不在这里, 见 workflow/dsl.
package config
