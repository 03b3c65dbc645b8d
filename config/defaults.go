// =============================================================================
// 📦 crewflow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Engine:    DefaultEngineConfig(),
		LLM:       DefaultLLMConfig(),
		Memory:    DefaultMemoryConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Qdrant:    DefaultQdrantConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Jobs:      DefaultJobsConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		Output:           "stdout",
		FilePath:         "logs/crewflow.log",
		MaxSize:          100,
		MaxBackups:       7,
		MaxAge:           30,
		Compress:         true,
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultEngineConfig 返回默认执行配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Process:       "sequential",
		MaxParallel:   0,
		FailurePolicy: "continue",
		RetryFailed:   false,
		MaxRetries:    2,
		RetryInterval: time.Second,
		CrewTimeout:   0,
		MaxSteps:      1000,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:          "openai",
		Model:             "gpt-4",
		EmbeddingModel:    "text-embedding-3-small",
		APIKey:            "",
		BaseURL:           "",
		MaxTokens:         4096,
		Timeout:           2 * time.Minute,
		MaxRetries:        3,
		RequestsPerSecond: 0,
		Burst:             1,
		BreakerThreshold:  5,
		BreakerTimeout:    30 * time.Second,
	}
}

// DefaultMemoryConfig 返回默认记忆配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend:     "inmemory",
		MaxItems:    1000,
		TTL:         0,
		KeyPrefix:   "crewflow:",
		TableName:   "crew_memories",
		VectorIndex: "inmemory",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "crewflow",
		Password:        "",
		Name:            "crewflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		TxMaxRetries:    3,
	}
}

// DefaultQdrantConfig 返回默认 Qdrant 配置
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		APIKey:     "",
		Collection: "crew_memories",
		Dimension:  1536, // text-embedding-3-small
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "crewflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "crewflow",
	}
}

// DefaultJobsConfig 返回默认作业配置
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		ResultQueue: "crewflow:results",
		ResultTTL:   24 * time.Hour,
	}
}
