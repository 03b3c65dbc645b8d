// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "sequential", cfg.Engine.Process)
	assert.Equal(t, 1000, cfg.Engine.MaxSteps)
	assert.Equal(t, "inmemory", cfg.Memory.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "crewflow.yaml")

	yamlContent := `
engine:
  process: parallel
  max_parallel: 4
  failure_policy: abort
  crew_timeout: 2m
  max_steps: 50

llm:
  provider: anthropic
  model: claude-3-5-sonnet-latest
  requests_per_second: 2.5

memory:
  backend: redis
  ttl: 1h

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "parallel", cfg.Engine.Process)
	assert.Equal(t, 4, cfg.Engine.MaxParallel)
	assert.Equal(t, "abort", cfg.Engine.FailurePolicy)
	assert.Equal(t, 2*time.Minute, cfg.Engine.CrewTimeout)
	assert.Equal(t, 50, cfg.Engine.MaxSteps)
	// 未出现的字段保留默认值
	assert.Equal(t, 2, cfg.Engine.MaxRetries)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-3-5-sonnet-latest", cfg.LLM.Model)
	assert.InDelta(t, 2.5, cfg.LLM.RequestsPerSecond, 1e-9)

	assert.Equal(t, "redis", cfg.Memory.Backend)
	assert.Equal(t, time.Hour, cfg.Memory.TTL)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"CREWFLOW_ENGINE_MAX_PARALLEL":         "8",
		"CREWFLOW_ENGINE_RETRY_FAILED":         "true",
		"CREWFLOW_ENGINE_RETRY_INTERVAL":       "250ms",
		"CREWFLOW_LLM_API_KEY":                 "sk-test",
		"CREWFLOW_LLM_BREAKER_THRESHOLD":       "3",
		"CREWFLOW_TELEMETRY_SAMPLE_RATE":       "0.5",
		"CREWFLOW_DATABASE_DRIVER":             "sqlite",
		"CREWFLOW_DATABASE_NAME":               "file::memory:",
		"CREWFLOW_REDIS_HEALTH_CHECK_INTERVAL": "5s",
		"CREWFLOW_METRICS_ENABLED":             "1",
		"CREWFLOW_JOBS_RESULT_QUEUE":           "q:results",
		"CREWFLOW_QDRANT_USE_TLS":              "true",
		"CREWFLOW_MEMORY_VECTOR_INDEX":         "qdrant",
		"CREWFLOW_LOG_ENABLE_STACKTRACE":       "true",
		"CREWFLOW_LLM_MAX_TOKENS":              "1024",
		"CREWFLOW_ENGINE_MAX_STEPS":            "12",
		"CREWFLOW_TELEMETRY_OTLP_ENDPOINT":     "otel:4317",
		"CREWFLOW_MEMORY_KEY_PREFIX":           "test:",
		"CREWFLOW_DATABASE_CONN_MAX_LIFETIME":  "1m",
		"CREWFLOW_QDRANT_DIMENSION":            "384",
		"CREWFLOW_LLM_EMBEDDING_MODEL":         "text-embedding-3-large",
		"CREWFLOW_JOBS_RESULT_TTL":             "10m",
		"CREWFLOW_METRICS_NAMESPACE":           "crews",
		"CREWFLOW_ENGINE_FAILURE_POLICY":       "abort",
		"CREWFLOW_REDIS_POOL_SIZE":             "20",
		"CREWFLOW_LOG_LEVEL":                   "warn",
		"CREWFLOW_LLM_TIMEOUT":                 "30s",
		"CREWFLOW_QDRANT_COLLECTION":           "mem",
		"CREWFLOW_DATABASE_MAX_OPEN_CONNS":     "3",
		"CREWFLOW_MEMORY_MAX_ITEMS":            "50",
		"CREWFLOW_TELEMETRY_ENABLED":           "true",
		"CREWFLOW_TELEMETRY_SERVICE_NAME":      "crewflow-test",
		"CREWFLOW_ENGINE_PROCESS":              "hierarchical",
		"CREWFLOW_LLM_PROVIDER":                "anthropic",
		"CREWFLOW_LLM_BASE_URL":                "http://localhost:9999",
		"CREWFLOW_MEMORY_BACKEND":              "sql",
		"CREWFLOW_LOG_FORMAT":                  "console",
		"CREWFLOW_ENGINE_CREW_TIMEOUT":         "90s",
		"CREWFLOW_LLM_REQUESTS_PER_SECOND":     "1.5",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.MaxParallel)
	assert.True(t, cfg.Engine.RetryFailed)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.RetryInterval)
	assert.Equal(t, "hierarchical", cfg.Engine.Process)
	assert.Equal(t, 90*time.Second, cfg.Engine.CrewTimeout)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, uint32(3), cfg.LLM.BreakerThreshold)
	assert.Equal(t, int64(1024), cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRate, 1e-9)
	assert.Equal(t, "file::memory:", cfg.Database.DSN())
	assert.Equal(t, 5*time.Second, cfg.Redis.HealthCheckInterval)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "q:results", cfg.Jobs.ResultQueue)
	assert.True(t, cfg.Qdrant.UseTLS)
	assert.Equal(t, 384, cfg.Qdrant.Dimension)
	assert.Equal(t, "qdrant", cfg.Memory.VectorIndex)
	assert.Equal(t, "sql", cfg.Memory.Backend)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "crewflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  max_steps: 20\n"), 0644))

	t.Setenv("CREWFLOW_ENGINE_MAX_STEPS", "30")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Engine.MaxSteps)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LLM_MODEL", "gpt-4o-mini")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CREWFLOW_ENGINE_MAX_STEPS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREWFLOW_ENGINE_MAX_STEPS")
}

func TestLoader_WithValidator(t *testing.T) {
	requireKey := func(c *Config) error {
		if c.LLM.APIKey == "" {
			return assert.AnError
		}
		return nil
	}

	_, err := NewLoader().WithValidator(requireKey).Load()
	require.Error(t, err)

	t.Setenv("CREWFLOW_LLM_API_KEY", "k")
	_, err = NewLoader().WithValidator(requireKey).Load()
	require.NoError(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/nonexistent/path/crewflow.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine, cfg.Engine)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("engine: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log level"},
		{"bad log output", func(c *Config) { c.Log.Output = "syslog" }, "log output"},
		{"file output without path", func(c *Config) { c.Log.Output = "file"; c.Log.FilePath = "" }, "file_path"},
		{"bad process", func(c *Config) { c.Engine.Process = "round_robin" }, "process"},
		{"bad failure policy", func(c *Config) { c.Engine.FailurePolicy = "ignore" }, "failure policy"},
		{"negative parallel", func(c *Config) { c.Engine.MaxParallel = -1 }, "max_parallel"},
		{"zero steps", func(c *Config) { c.Engine.MaxSteps = 0 }, "max_steps"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "gemini" }, "llm provider"},
		{"bad memory backend", func(c *Config) { c.Memory.Backend = "mongo" }, "memory backend"},
		{"bad vector index", func(c *Config) { c.Memory.VectorIndex = "milvus" }, "vector index"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database driver"},
		{"bad qdrant port", func(c *Config) { c.Qdrant.Port = 0 }, "qdrant port"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config DatabaseConfig
		want   string
	}{
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				User: "u", Password: "p", Name: "crewflow", SSLMode: "disable",
			},
			want: "host=db port=5432 user=u password=p dbname=crewflow sslmode=disable",
		},
		{
			name: "mysql",
			config: DatabaseConfig{
				Driver: "mysql", Host: "db", Port: 3306,
				User: "u", Password: "p", Name: "crewflow",
			},
			want: "u:p@tcp(db:3306)/crewflow?parseTime=true",
		},
		{
			name:   "sqlite",
			config: DatabaseConfig{Driver: "sqlite", Name: "crewflow.db"},
			want:   "crewflow.db",
		},
		{
			name:   "override",
			config: DatabaseConfig{Driver: "postgres", DSNOverride: "postgres://x"},
			want:   "postgres://x",
		},
		{
			name:   "unknown",
			config: DatabaseConfig{Driver: "oracle"},
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}

func TestMustLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "crewflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log:\n  level: error\n"), 0644))

	cfg := MustLoad(configPath)
	assert.Equal(t, "error", cfg.Log.Level)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log:\n  level: loud\n"), 0644))
	assert.Panics(t, func() { MustLoad(bad) })
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("CREWFLOW_LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}
