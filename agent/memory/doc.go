// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 memory 提供按智能体划分的上下文记忆：任务执行前检索、执行后记录。

# 记忆策略

  - [ShortTerm]：只在一次 Crew 运行期间保留，kickoff 返回后丢弃。
  - [LongTerm]：设置 Persist 时跨运行保留，底层存储为外部协作者（[Backend]）。
  - [Entity]：按命名实体索引；实体抽取可插拔（[EntityExtractor]）。
  - [Episodic]：只追加的完整交互片段序列，检索时最近优先。

# 核心接口

  - [Store]：单个智能体的记忆契约，Retrieve / Record
  - [Backend]：持久化存储契约 get(agent_id, query) / put(agent_id, snippet)
  - [VectorIndex]：向量相似度检索契约，配合 llm.Embedder 使用

# 排序契约

UseEmbeddings 开启时，检索按与查询的相似度降序取前 MaxItems 条，
相似度相同则较新的片段优先（见 [RankBySimilarity]）。否则按时间倒序。
过期片段（TTL）永远不会被返回；容量超限时淘汰最久未访问的片段。
*/
package memory
