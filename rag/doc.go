// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package rag 为 Agent 长期记忆提供向量检索后端。

QdrantIndex 基于 github.com/qdrant/go-client 实现 memory.VectorIndex,
按 agent_id 过滤检索, 片段本体以 JSON 形式保存在 payload 中。
NewIndex 根据配置在 Qdrant 与进程内索引之间选择。
*/
package rag
