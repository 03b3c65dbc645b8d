// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供智能体记忆的持久化后端，实现 memory.Backend 接口。

# 概述

LongTerm、Entity、Episodic 策略在 persist 打开时需要跨运行保留记忆。
本包提供按 agent id 隔离的外部存储实现，并发写入由存储本身串行化。

# 后端实现

  - Redis: 数据以 JSON 存放，按创建时间的 Sorted Set 建立智能体索引，
    实体使用 Set 反向索引，访问时间与次数单独维护，过期交给 Redis TTL。
  - SQL: 基于 gorm 的单表实现，支持 postgres、mysql 与 sqlite，
    启动时 AutoMigrate 建表。
  - Memory: 直接复用 memory.InMemoryBackend，适合开发与测试。

# 使用方式

通过工厂函数按配置创建后端：

	backend, err := persistence.NewBackend(persistence.Config{Type: persistence.TypeRedis}, persistence.Deps{Redis: client})
	crew, err := crews.NewBuilder("research").MemoryBackend(backend)...Build()
*/
package persistence
