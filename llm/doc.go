// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义编排引擎所消费的语言模型能力边界：文本补全（Completer）
与向量嵌入（Embedder），以及统一的后端错误分类。

# 概述

编排核心只把模型后端视为一个不透明能力：给定 prompt 与模型标识，
返回生成文本或失败。本包提供该契约、错误语义与弹性包装器，
具体服务商适配位于 llm/providers 子包。

# 核心类型

  - Completer：Complete(ctx, *CompletionRequest) 补全接口
  - Embedder：Embed(ctx, text) 向量嵌入接口
  - Error / ErrorKind：RateLimited、Timeout、InvalidModel、ProviderError
  - Resilient：限流（x/time/rate）、重试（cenkalti/backoff）、熔断（sony/gobreaker）

# 错误语义

RateLimited、Timeout、ProviderError 可重试；InvalidModel 不可重试。
调用方取消（context.Canceled）原样返回，不做包装、不重试。
*/
package llm
