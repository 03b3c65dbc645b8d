package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/BaSui01/crewflow/agent/persistence"
	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/internal/cache"
	"github.com/BaSui01/crewflow/internal/database"
	"github.com/BaSui01/crewflow/internal/metrics"
	"github.com/BaSui01/crewflow/internal/telemetry"
	"github.com/BaSui01/crewflow/internal/tlsutil"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/llm/providers/anthropic"
	"github.com/BaSui01/crewflow/llm/providers/openai"
	"github.com/BaSui01/crewflow/rag"
	"github.com/BaSui01/crewflow/workflow"
	"github.com/BaSui01/crewflow/workflow/dsl"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// =============================================================================
// 🔧 运行时装配
// =============================================================================

// engine 持有一次命令执行所需的全部依赖
type engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	completer llm.Completer
	embedder  llm.Embedder
	backend   memory.Backend
	index     memory.VectorIndex
	registry  *prometheus.Registry
	collector *metrics.Collector
	tracer    trace.Tracer
	cache     *cache.Manager
	db        *database.PoolManager

	closers []func(context.Context) error
}

type engineOptions struct {
	// needCache 为 true 时即使记忆后端不是 redis 也连接 Redis
	needCache bool
}

func newEngine(cfg *config.Config, logger *zap.Logger, opts engineOptions) (e *engine, err error) {
	e = &engine{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = e.Close(context.Background())
		}
	}()

	e.collector = metrics.NewCollector(cfg.Metrics.Namespace, e.registry, logger)

	providers, err := telemetry.Init(cfg.Telemetry, logger, telemetry.WithServiceVersion(Version))
	if err != nil {
		return e, fmt.Errorf("init telemetry: %w", err)
	}
	e.closers = append(e.closers, providers.Shutdown)
	e.tracer = providers.Tracer()

	if err := e.initLLM(); err != nil {
		return e, err
	}

	if cfg.Memory.Backend == string(persistence.TypeRedis) || opts.needCache {
		m, err := cache.NewManager(cache.FromRedisConfig(cfg.Redis), logger)
		if err != nil {
			return e, fmt.Errorf("connect redis: %w", err)
		}
		e.cache = m
		e.closers = append(e.closers, func(context.Context) error { return m.Close() })
	}
	if cfg.Memory.Backend == string(persistence.TypeSQL) {
		pm, err := database.Open(cfg.Database, logger)
		if err != nil {
			return e, fmt.Errorf("open database: %w", err)
		}
		e.db = pm
		e.closers = append(e.closers, func(context.Context) error { return pm.Close() })
	}

	deps := persistence.Deps{Logger: logger}
	if e.cache != nil {
		deps.Redis = e.cache.Client()
	}
	if e.db != nil {
		deps.DB = e.db.DB()
		deps.Transact = e.db.Transactor(cfg.Database.TxMaxRetries)
	}
	e.backend, err = persistence.NewBackend(persistence.Config{
		Type:             persistence.Type(cfg.Memory.Backend),
		MaxItemsPerAgent: cfg.Memory.MaxItems,
		KeyPrefix:        cfg.Memory.KeyPrefix,
		TableName:        cfg.Memory.TableName,
	}, deps)
	if err != nil {
		return e, fmt.Errorf("init memory backend: %w", err)
	}

	qc := rag.DefaultQdrantConfig()
	qc.Host = cfg.Qdrant.Host
	qc.Port = cfg.Qdrant.Port
	qc.APIKey = cfg.Qdrant.APIKey
	qc.UseTLS = cfg.Qdrant.UseTLS
	if cfg.Qdrant.Collection != "" {
		qc.Collection = cfg.Qdrant.Collection
	}
	e.index, err = rag.NewIndex(rag.IndexConfig{
		Type:      rag.IndexType(cfg.Memory.VectorIndex),
		Dimension: cfg.Qdrant.Dimension,
		Qdrant:    qc,
	}, logger)
	if err != nil {
		return e, fmt.Errorf("init vector index: %w", err)
	}
	if c, ok := e.index.(io.Closer); ok {
		e.closers = append(e.closers, func(context.Context) error { return c.Close() })
	}
	return e, nil
}

// initLLM 组装 provider → 弹性装饰 → 指标装饰
func (e *engine) initLLM() error {
	lc := e.cfg.LLM
	httpClient := tlsutil.HTTPClient(0)
	var provider llm.Completer
	switch lc.Provider {
	case "openai":
		p := openai.New(openai.Config{
			APIKey:         lc.APIKey,
			BaseURL:        lc.BaseURL,
			EmbeddingModel: lc.EmbeddingModel,
			MaxTokens:      lc.MaxTokens,
			Timeout:        lc.Timeout,
			HTTPClient:     httpClient,
		}, e.logger)
		provider = p
		if lc.EmbeddingModel != "" {
			e.embedder = p
		}
	case "anthropic":
		provider = anthropic.New(anthropic.Config{
			APIKey:     lc.APIKey,
			BaseURL:    lc.BaseURL,
			MaxTokens:  lc.MaxTokens,
			Timeout:    lc.Timeout,
			HTTPClient: httpClient,
		}, e.logger)
	default:
		return fmt.Errorf("unsupported llm provider %q", lc.Provider)
	}

	rc := llm.DefaultResilienceConfig()
	rc.MaxRetries = lc.MaxRetries
	rc.RequestsPerSecond = lc.RequestsPerSecond
	if lc.Burst > 0 {
		rc.Burst = lc.Burst
	}
	rc.BreakerFailures = lc.BreakerThreshold
	if lc.BreakerTimeout > 0 {
		rc.BreakerTimeout = lc.BreakerTimeout
	}
	resilient := llm.NewResilient(provider, rc, e.logger)
	e.completer = e.collector.InstrumentCompleter(resilient, lc.Provider)
	return nil
}

// parser 返回接入记忆、指标与追踪的 DSL 解析器
func (e *engine) parser(inputs map[string]string) *dsl.Parser {
	ec := e.cfg.Engine
	return dsl.NewParser(e.completer,
		dsl.WithInputs(inputs),
		dsl.WithLogger(e.logger),
		dsl.WithDefaults(dsl.Defaults{
			Model:         e.cfg.LLM.Model,
			Process:       ec.Process,
			MaxParallel:   ec.MaxParallel,
			FailurePolicy: ec.FailurePolicy,
			RetryFailed:   ec.RetryFailed,
			MaxRetries:    ec.MaxRetries,
			RetryInterval: ec.RetryInterval,
			CrewTimeout:   ec.CrewTimeout,
			MaxSteps:      ec.MaxSteps,
			MemoryTTL:     e.cfg.Memory.TTL,
		}),
		dsl.WithCrewOption(func(b *crews.Builder) {
			b.MemoryBackend(e.backend).
				VectorIndex(e.index).
				Listener(e.collector).
				Tracer(e.tracer)
			if e.embedder != nil {
				b.Embedder(e.embedder)
			}
		}),
		dsl.WithFlowOption(func(b *workflow.FlowBuilder) {
			b.Listener(e.collector).Tracer(e.tracer)
		}),
	)
}

// recordPoolStats 把连接池状态写入指标
func (e *engine) recordPoolStats() {
	if e.db == nil {
		return
	}
	stats := e.db.GetStats()
	e.collector.RecordDBConnections(e.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
}

// writeMetrics 以 textfile 格式导出本次运行的指标
func (e *engine) writeMetrics(path string) error {
	if path == "" || !e.cfg.Metrics.Enabled {
		return nil
	}
	e.recordPoolStats()
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Close 逆序释放资源
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	_ = e.logger.Sync()
	return errors.Join(errs...)
}
