// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package tlsutil 为出站连接提供统一的 TLS 配置:
// LLM provider 的 HTTP 客户端与 Redis 连接。TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
