package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/internal/cache"
	"go.uber.org/zap"
)

// RedisSink 通过 Redis 投递作业结果
type RedisSink struct {
	cache  *cache.Manager
	queue  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisSink 创建 Redis 结果投递
func NewRedisSink(m *cache.Manager, cfg config.JobsConfig, logger *zap.Logger) *RedisSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	queue := cfg.ResultQueue
	if queue == "" {
		queue = config.DefaultJobsConfig().ResultQueue
	}
	return &RedisSink{
		cache:  m,
		queue:  queue,
		ttl:    cfg.ResultTTL,
		logger: logger.With(zap.String("component", "job_sink")),
	}
}

// Queue 返回结果队列名
func (s *RedisSink) Queue() string { return s.queue }

func (s *RedisSink) key(jobID string) string { return s.queue + ":" + jobID }

// Publish 写入结果并把作业 id 追加到队列. 同一作业重复投递只覆盖结果, 不重复入队.
// 设置了保留时间时队列本身的过期时间随每次投递顺延.
func (s *RedisSink) Publish(ctx context.Context, result *Result) error {
	key := s.key(result.JobID)
	n, err := s.cache.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check job result: %w", err)
	}
	if err := s.cache.SetJSON(ctx, key, result, s.ttl); err != nil {
		return fmt.Errorf("store job result: %w", err)
	}
	if n > 0 {
		s.logger.Debug("job result replaced", zap.String("job_id", result.JobID))
		return nil
	}
	if err := s.cache.Push(ctx, s.queue, result.JobID); err != nil {
		return fmt.Errorf("enqueue job result: %w", err)
	}
	if s.ttl > 0 {
		if err := s.cache.Expire(ctx, s.queue, s.ttl); err != nil {
			return fmt.Errorf("expire job queue: %w", err)
		}
	}
	s.logger.Debug("job result published", zap.String("job_id", result.JobID), zap.String("queue", s.queue))
	return nil
}

// Get 读取已投递的结果. 不存在或已过期时返回 cache.ErrCacheMiss.
func (s *RedisSink) Get(ctx context.Context, jobID string) (*Result, error) {
	var res Result
	if err := s.cache.GetJSON(ctx, s.key(jobID), &res); err != nil {
		return nil, err
	}
	return &res, nil
}
