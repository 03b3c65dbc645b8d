package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/crewflow/llm"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deps are the collaborators a policy store reads and writes through.
type Deps struct {
	Backend   Backend
	Index     VectorIndex
	Embedder  llm.Embedder
	Extractor EntityExtractor
	Logger    *zap.Logger
	Now       func() time.Time
}

// PolicyStore implements Store for one agent under one Policy.
type PolicyStore struct {
	agentID   string
	cfg       Config
	backend   Backend
	index     VectorIndex
	embedder  llm.Embedder
	extractor EntityExtractor
	now       func() time.Time
	logger    *zap.Logger
}

// New creates the store for agentID. A nil Backend gets a fresh in-memory one.
func New(agentID string, cfg Config, deps Deps) (*PolicyStore, error) {
	if !cfg.Policy.Valid() || cfg.Policy == Disabled {
		return nil, fmt.Errorf("invalid memory policy %q", cfg.Policy)
	}
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	backend := deps.Backend
	if backend == nil {
		backend = NewInMemoryBackend(InMemoryBackendConfig{MaxItemsPerAgent: cfg.Limit(), Now: now}, logger)
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = CapitalizedExtractor{}
	}

	return &PolicyStore{
		agentID:   agentID,
		cfg:       cfg,
		backend:   backend,
		index:     deps.Index,
		embedder:  deps.Embedder,
		extractor: extractor,
		now:       now,
		logger: logger.With(
			zap.String("component", "memory"),
			zap.String("agent_id", agentID),
			zap.String("policy", string(cfg.Policy)),
		),
	}, nil
}

// Config returns the store's configuration.
func (s *PolicyStore) Config() Config { return s.cfg }

func (s *PolicyStore) ranked() bool {
	return s.cfg.UseEmbeddings && s.embedder != nil && s.cfg.Policy != Episodic
}

// Record stores a new snippet. Episodic snippets always get a fresh ID so the
// sequence stays append-only.
func (s *PolicyStore) Record(ctx context.Context, snippet Snippet) error {
	now := s.now()
	if snippet.ID == "" || s.cfg.Policy == Episodic {
		snippet.ID = uuid.NewString()
	}
	if snippet.CreatedAt.IsZero() {
		snippet.CreatedAt = now
	}
	if s.cfg.TTL > 0 {
		snippet.ExpiresAt = snippet.CreatedAt.Add(s.cfg.TTL)
	}
	snippet.AgentID = s.agentID

	if s.cfg.Policy == Entity {
		snippet.Entities = mergeEntities(snippet.Entities, s.extractor.Extract(snippet.Content))
		if len(snippet.Entities) == 0 {
			s.logger.Debug("snippet has no entities, not recorded")
			return nil
		}
	}

	if s.ranked() {
		vec, err := s.embedder.Embed(ctx, snippet.Content)
		if err != nil {
			return fmt.Errorf("embed snippet: %w", err)
		}
		snippet.Embedding = vec
	}

	if err := s.backend.Put(ctx, s.agentID, snippet); err != nil {
		return fmt.Errorf("put snippet: %w", err)
	}
	if s.ranked() && s.index != nil {
		if err := s.index.Upsert(ctx, s.agentID, snippet); err != nil {
			return fmt.Errorf("index snippet: %w", err)
		}
	}
	return nil
}

// Retrieve returns at most MaxItems snippets relevant to query.
func (s *PolicyStore) Retrieve(ctx context.Context, query string) ([]Snippet, error) {
	q := Query{Text: query}
	if s.cfg.Policy == Entity {
		q.Entities = s.extractor.Extract(query)
		if len(q.Entities) == 0 {
			return nil, nil
		}
	}

	if !s.ranked() {
		q.Limit = s.cfg.Limit()
		return s.backend.Get(ctx, s.agentID, q)
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var hits []ScoredSnippet
	if s.index != nil && s.cfg.Policy != Entity {
		hits, err = s.searchIndex(ctx, vec)
		if err != nil {
			return nil, err
		}
	} else {
		candidates, err := s.backend.Get(ctx, s.agentID, q)
		if err != nil {
			return nil, err
		}
		hits = RankBySimilarity(vec, candidates, s.cfg.Limit())
	}

	now := s.now()
	out := make([]Snippet, 0, len(hits))
	for _, h := range hits {
		if h.Snippet.Expired(now) {
			continue
		}
		out = append(out, h.Snippet)
	}
	return out, nil
}

// maxIndexFetch bounds how far searchIndex widens k, as a multiple of the limit.
const maxIndexFetch = 8

// searchIndex 以后端为准确认索引命中: 后端已淘汰或过期的片段被丢弃,
// 确认查询同时刷新被返回片段的访问记录.
func (s *PolicyStore) searchIndex(ctx context.Context, vec []float32) ([]ScoredSnippet, error) {
	limit := s.cfg.Limit()
	out := make([]ScoredSnippet, 0, limit)
	checked := make(map[string]bool)
	for k := limit; ; k *= 2 {
		hits, err := s.index.Search(ctx, s.agentID, vec, k)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}
		SortScored(hits)

		pending := make([]ScoredSnippet, 0, len(hits))
		for _, h := range hits {
			if !checked[h.Snippet.ID] {
				pending = append(pending, h)
			}
		}
		for len(pending) > 0 && len(out) < limit {
			n := min(limit-len(out), len(pending))
			live, err := s.confirm(ctx, pending[:n], checked)
			if err != nil {
				return nil, err
			}
			out = append(out, live...)
			pending = pending[n:]
		}

		if len(out) >= limit || len(hits) < k || k >= limit*maxIndexFetch {
			break
		}
	}
	SortScored(out)
	return out, nil
}

// confirm 返回 batch 中后端仍持有的命中, 内容取自后端
func (s *PolicyStore) confirm(ctx context.Context, batch []ScoredSnippet, checked map[string]bool) ([]ScoredSnippet, error) {
	ids := make([]string, len(batch))
	for i, h := range batch {
		ids[i] = h.Snippet.ID
		checked[h.Snippet.ID] = true
	}
	live, err := s.backend.Get(ctx, s.agentID, Query{IDs: ids})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Snippet, len(live))
	for _, sn := range live {
		byID[sn.ID] = sn
	}

	out := make([]ScoredSnippet, 0, len(live))
	for _, h := range batch {
		sn, ok := byID[h.Snippet.ID]
		if !ok {
			continue
		}
		if sn.Embedding == nil {
			sn.Embedding = h.Snippet.Embedding
		}
		out = append(out, ScoredSnippet{Snippet: sn, Score: h.Score})
	}
	if stale := len(batch) - len(out); stale > 0 {
		s.logger.Debug("dropped index hits missing from backend", zap.Int("count", stale))
	}
	return out, nil
}

func mergeEntities(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, e := range list {
			if e == "" || seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
