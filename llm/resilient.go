package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ResilienceConfig 弹性包装配置
type ResilienceConfig struct {
	// MaxRetries 单次调用的最大重试次数（不含首次）
	MaxRetries int
	// InitialInterval 首次退避间隔
	InitialInterval time.Duration
	// MaxInterval 最大退避间隔
	MaxInterval time.Duration
	// RequestsPerSecond 本地限流速率，<=0 表示不限流
	RequestsPerSecond float64
	// Burst 令牌桶容量
	Burst int
	// BreakerFailures 连续失败多少次后熔断，0 表示不启用熔断
	BreakerFailures uint32
	// BreakerTimeout 熔断打开后进入半开状态的等待时间
	BreakerTimeout time.Duration
}

// DefaultResilienceConfig 返回默认配置
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Burst:           1,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Resilient 为 Completer 增加限流、重试与熔断能力
// 遵循装饰器模式：增强原有 Completer 而不修改其代码
type Resilient struct {
	next    Completer
	cfg     ResilienceConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewResilient 创建弹性 Completer
func NewResilient(next Completer, cfg ResilienceConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "llm_resilient"))

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	r := &Resilient{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}

	if cfg.BreakerFailures > 0 {
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "completion",
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			// 调用方取消与模型不存在不计入熔断
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || KindOf(err) == KindInvalidModel
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}
	return r
}

// Complete 实现 Completer
func (r *Resilient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	attempt := 0

	op := func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		out, err := r.call(ctx, req)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(&Error{Kind: KindProviderError, Message: "circuit open", Cause: err})
			}
			if ctx.Err() != nil || !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	}

	err := backoff.RetryNotify(op, r.policy(ctx), func(err error, wait time.Duration) {
		r.logger.Debug("retrying completion",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *Resilient) call(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if r.breaker == nil {
		return r.next.Complete(ctx, req)
	}
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.next.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*CompletionResponse), nil
}

func (r *Resilient) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := r.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// State 返回熔断器当前状态，未启用熔断时返回 closed
func (r *Resilient) State() gobreaker.State {
	if r.breaker == nil {
		return gobreaker.StateClosed
	}
	return r.breaker.State()
}
