package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type InMemoryBackendConfig struct {
	// MaxItemsPerAgent 是每个智能体的条目上限，超出时淘汰最久未访问的条目。
	// 0表示无限.
	MaxItemsPerAgent int

	// 现在用于测试。 默认时间 。 现在。
	Now func() time.Time
}

type backendEntry struct {
	snippet Snippet
	seq     uint64
}

// InMemoryBackend 是支持 TTL 与容量淘汰的进程内 Backend 实现.
// 它用于运行期记忆、地方发展、测试和小规模部署。
type InMemoryBackend struct {
	mu       sync.Mutex
	entries  map[string][]*backendEntry
	seq      uint64
	maxItems int
	now      func() time.Time
	logger   *zap.Logger
}

func NewInMemoryBackend(config InMemoryBackendConfig, logger *zap.Logger) *InMemoryBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &InMemoryBackend{
		entries:  make(map[string][]*backendEntry),
		maxItems: config.MaxItemsPerAgent,
		now:      now,
		logger:   logger.With(zap.String("component", "memory_backend_inmemory")),
	}
}

func (b *InMemoryBackend) Put(ctx context.Context, agentID string, snippet Snippet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if snippet.ID == "" {
		snippet.ID = uuid.NewString()
	}
	if snippet.CreatedAt.IsZero() {
		snippet.CreatedAt = now
	}
	snippet.AgentID = agentID
	snippet.LastAccessed = snippet.CreatedAt
	snippet.Entities = append([]string(nil), snippet.Entities...)

	b.seq++
	b.entries[agentID] = append(b.entries[agentID], &backendEntry{snippet: snippet, seq: b.seq})

	b.cleanupExpiredLocked(agentID, now)
	b.evictIfNeededLocked(agentID)
	return nil
}

// Get returns non-expired matches most-recent-first and marks them accessed.
func (b *InMemoryBackend) Get(ctx context.Context, agentID string, query Query) ([]Snippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.cleanupExpiredLocked(agentID, now)

	var ids map[string]bool
	if len(query.IDs) > 0 {
		ids = make(map[string]bool, len(query.IDs))
		for _, id := range query.IDs {
			ids[id] = true
		}
	}

	matched := make([]*backendEntry, 0, len(b.entries[agentID]))
	for _, ent := range b.entries[agentID] {
		if ids != nil && !ids[ent.snippet.ID] {
			continue
		}
		if matchesEntities(ent.snippet.Entities, query.Entities) {
			matched = append(matched, ent)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return newerThan(matched[i], matched[j])
	})
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	out := make([]Snippet, 0, len(matched))
	for _, ent := range matched {
		ent.snippet.LastAccessed = now
		ent.snippet.AccessCount++
		out = append(out, ent.snippet)
	}
	return out, nil
}

// Len returns the number of live snippets stored for an agent.
func (b *InMemoryBackend) Len(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanupExpiredLocked(agentID, b.now())
	return len(b.entries[agentID])
}

func (b *InMemoryBackend) cleanupExpiredLocked(agentID string, now time.Time) {
	list := b.entries[agentID]
	kept := list[:0]
	for _, ent := range list {
		if !ent.snippet.Expired(now) {
			kept = append(kept, ent)
		}
	}
	b.entries[agentID] = kept
}

// evictIfNeededLocked 淘汰最久未访问的条目
func (b *InMemoryBackend) evictIfNeededLocked(agentID string) {
	list := b.entries[agentID]
	if b.maxItems <= 0 || len(list) <= b.maxItems {
		return
	}

	victims := append([]*backendEntry(nil), list...)
	sort.Slice(victims, func(i, j int) bool {
		ai, aj := victims[i].snippet.LastAccessed, victims[j].snippet.LastAccessed
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return victims[i].seq < victims[j].seq
	})

	evict := make(map[*backendEntry]bool, len(list)-b.maxItems)
	for _, ent := range victims[:len(list)-b.maxItems] {
		evict[ent] = true
	}
	kept := list[:0]
	for _, ent := range list {
		if !evict[ent] {
			kept = append(kept, ent)
		}
	}
	b.entries[agentID] = kept
	b.logger.Debug("evicted memory snippets", zap.String("agent_id", agentID), zap.Int("evicted", len(evict)))
}

func newerThan(a, b *backendEntry) bool {
	if !a.snippet.CreatedAt.Equal(b.snippet.CreatedAt) {
		return a.snippet.CreatedAt.After(b.snippet.CreatedAt)
	}
	return a.seq > b.seq
}

func matchesEntities(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
