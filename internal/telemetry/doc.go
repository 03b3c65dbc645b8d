// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 CrewFlow 提供集中式的 TracerProvider 和 MeterProvider 配置。
// Crew 与 Flow 的 span 通过 Providers.Tracer 注入。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
