// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package logging 根据 config.LogConfig 构建 zap 日志器.
//
// 文件输出经 lumberjack 轮转; GormLogger 把 gorm 的 SQL 日志接入同一个 zap 日志器.
package logging
