package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type InMemoryIndexConfig struct {
	// 尺寸在 > 0时验证存储/搜索向量。
	Dimension int
}

// InMemoryIndex 是基于余弦相似度的进程内 VectorIndex 实现.
type InMemoryIndex struct {
	mu        sync.RWMutex
	items     map[string]map[string]Snippet
	dimension int
	logger    *zap.Logger
}

func NewInMemoryIndex(config InMemoryIndexConfig, logger *zap.Logger) *InMemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryIndex{
		items:     make(map[string]map[string]Snippet),
		dimension: config.Dimension,
		logger:    logger.With(zap.String("component", "vector_index_inmemory")),
	}
}

func (x *InMemoryIndex) Upsert(ctx context.Context, agentID string, snippet Snippet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snippet.ID == "" {
		return fmt.Errorf("snippet id is required")
	}
	if snippet.Embedding == nil {
		return fmt.Errorf("embedding is required")
	}
	if x.dimension > 0 && len(snippet.Embedding) != x.dimension {
		return fmt.Errorf("vector dimension mismatch: got %d want %d", len(snippet.Embedding), x.dimension)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	bucket, ok := x.items[agentID]
	if !ok {
		bucket = make(map[string]Snippet)
		x.items[agentID] = bucket
	}
	snippet.Embedding = append([]float32(nil), snippet.Embedding...)
	bucket[snippet.ID] = snippet
	return nil
}

func (x *InMemoryIndex) Search(ctx context.Context, agentID string, vector []float32, k int) ([]ScoredSnippet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vector == nil {
		return nil, fmt.Errorf("query vector is required")
	}
	if x.dimension > 0 && len(vector) != x.dimension {
		return nil, fmt.Errorf("query vector dimension mismatch: got %d want %d", len(vector), x.dimension)
	}
	if k <= 0 {
		return []ScoredSnippet{}, nil
	}

	x.mu.RLock()
	candidates := make([]Snippet, 0, len(x.items[agentID]))
	for _, s := range x.items[agentID] {
		candidates = append(candidates, s)
	}
	x.mu.RUnlock()

	return RankBySimilarity(vector, candidates, k), nil
}
