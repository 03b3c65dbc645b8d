package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures RedisBackend.
type RedisOptions struct {
	KeyPrefix        string
	MaxItemsPerAgent int
	Now              func() time.Time
}

// RedisBackend is a Redis-based implementation of memory.Backend.
// Snippets are JSON strings; a sorted set per agent orders them by creation
// time, a second one by last access, and entity sets index them by entity.
type RedisBackend struct {
	client   redis.UniversalClient
	prefix   string
	maxItems int
	now      func() time.Time
	logger   *zap.Logger
}

// NewRedisBackend creates a Redis memory backend on an existing client.
func NewRedisBackend(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) *RedisBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "crewflow:"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &RedisBackend{
		client:   client,
		prefix:   prefix + "memory:",
		maxItems: opts.MaxItemsPerAgent,
		now:      now,
		logger:   logger.With(zap.String("component", "memory_backend_redis")),
	}
}

func (b *RedisBackend) dataKey(id string) string        { return b.prefix + "data:" + id }
func (b *RedisBackend) indexKey(agentID string) string  { return b.prefix + "agent:" + agentID }
func (b *RedisBackend) accessKey(agentID string) string { return b.prefix + "access:" + agentID }
func (b *RedisBackend) countKey(agentID string) string  { return b.prefix + "count:" + agentID }

func (b *RedisBackend) entityKey(agentID, entity string) string {
	return b.prefix + "entity:" + agentID + ":" + normalizeEntity(entity)
}

func score(t time.Time) float64 { return float64(t.UnixMicro()) }

// Put implements memory.Backend.
func (b *RedisBackend) Put(ctx context.Context, agentID string, snippet memory.Snippet) error {
	if agentID == "" {
		return fmt.Errorf("%w: agent id is required", ErrInvalidInput)
	}
	now := b.now()
	if snippet.ID == "" {
		snippet.ID = uuid.NewString()
	}
	if snippet.CreatedAt.IsZero() {
		snippet.CreatedAt = now
	}
	snippet.AgentID = agentID
	snippet.LastAccessed = snippet.CreatedAt

	var ttl time.Duration
	if !snippet.ExpiresAt.IsZero() {
		ttl = snippet.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return nil
		}
	}

	data, err := json.Marshal(snippet)
	if err != nil {
		return fmt.Errorf("failed to marshal snippet: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.dataKey(snippet.ID), data, ttl)
	pipe.ZAdd(ctx, b.indexKey(agentID), redis.Z{Score: score(snippet.CreatedAt), Member: snippet.ID})
	pipe.ZAdd(ctx, b.accessKey(agentID), redis.Z{Score: score(snippet.CreatedAt), Member: snippet.ID})
	for _, e := range snippet.Entities {
		if normalizeEntity(e) == "" {
			continue
		}
		pipe.SAdd(ctx, b.entityKey(agentID, e), snippet.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store snippet: %w", err)
	}

	return b.evict(ctx, agentID)
}

// evict 超出容量时淘汰最久未访问的条目
func (b *RedisBackend) evict(ctx context.Context, agentID string) error {
	if b.maxItems <= 0 {
		return nil
	}
	n, err := b.client.ZCard(ctx, b.indexKey(agentID)).Result()
	if err != nil {
		return fmt.Errorf("failed to count snippets: %w", err)
	}
	over := n - int64(b.maxItems)
	if over <= 0 {
		return nil
	}
	victims, err := b.client.ZRange(ctx, b.accessKey(agentID), 0, over-1).Result()
	if err != nil {
		return fmt.Errorf("failed to select eviction victims: %w", err)
	}
	b.logger.Debug("evicting snippets", zap.String("agent_id", agentID), zap.Int("count", len(victims)))
	return b.remove(ctx, agentID, victims)
}

func (b *RedisBackend) remove(ctx context.Context, agentID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	snippets, err := b.load(ctx, ids)
	if err != nil {
		// 实体索引无法清理, 仍删除数据与排序集合
		b.logger.Warn("failed to load snippets for entity cleanup",
			zap.String("agent_id", agentID), zap.Int("count", len(ids)), zap.Error(err))
	}

	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = b.dataKey(id)
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, b.indexKey(agentID), members...)
	pipe.ZRem(ctx, b.accessKey(agentID), members...)
	pipe.HDel(ctx, b.countKey(agentID), ids...)
	for _, s := range snippets {
		if s == nil {
			continue
		}
		for _, e := range s.Entities {
			pipe.SRem(ctx, b.entityKey(agentID, e), s.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove snippets: %w", err)
	}
	return nil
}

// load 返回与 ids 对齐的快照，缺失（已过期）的位置为 nil
func (b *RedisBackend) load(ctx context.Context, ids []string) ([]*memory.Snippet, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.dataKey(id)
	}
	vals, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*memory.Snippet, len(ids))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s memory.Snippet
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			b.logger.Warn("dropping undecodable snippet", zap.String("id", ids[i]), zap.Error(err))
			continue
		}
		out[i] = &s
	}
	return out, nil
}

// Get implements memory.Backend. Results are most-recent-first.
func (b *RedisBackend) Get(ctx context.Context, agentID string, query memory.Query) ([]memory.Snippet, error) {
	ids, err := b.client.ZRevRange(ctx, b.indexKey(agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if len(query.Entities) > 0 {
		keys := make([]string, 0, len(query.Entities))
		for _, e := range query.Entities {
			keys = append(keys, b.entityKey(agentID, e))
		}
		members, err := b.client.SUnion(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read entity index: %w", err)
		}
		ids = keepMembers(ids, members)
	}
	if len(query.IDs) > 0 {
		ids = keepMembers(ids, query.IDs)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	snippets, err := b.load(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load snippets: %w", err)
	}

	now := b.now()
	var stale []string
	out := make([]memory.Snippet, 0, len(snippets))
	for i, s := range snippets {
		if s == nil || s.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		if query.Limit > 0 && len(out) >= query.Limit {
			continue
		}
		out = append(out, *s)
	}
	if len(stale) > 0 {
		if err := b.remove(ctx, agentID, stale); err != nil {
			b.logger.Warn("failed to prune expired snippets", zap.Error(err))
		}
	}
	if len(out) == 0 {
		return nil, nil
	}

	pipe := b.client.TxPipeline()
	counts := make([]*redis.IntCmd, len(out))
	for i := range out {
		pipe.ZAdd(ctx, b.accessKey(agentID), redis.Z{Score: score(now), Member: out[i].ID})
		counts[i] = pipe.HIncrBy(ctx, b.countKey(agentID), out[i].ID, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to record access: %w", err)
	}
	for i := range out {
		out[i].LastAccessed = now
		out[i].AccessCount = int(counts[i].Val())
	}
	return out, nil
}

// keepMembers 保留 ids 中属于 members 的元素, 顺序不变
func keepMembers(ids, members []string) []string {
	allowed := make(map[string]bool, len(members))
	for _, m := range members {
		allowed[m] = true
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if allowed[id] {
			kept = append(kept, id)
		}
	}
	return kept
}

// Len returns the number of indexed snippets for an agent.
func (b *RedisBackend) Len(ctx context.Context, agentID string) (int64, error) {
	return b.client.ZCard(ctx, b.indexKey(agentID)).Result()
}
