package memory

import (
	"context"
	"time"
)

// Policy selects how an agent retains context.
type Policy string

const (
	// Disabled means the agent neither retrieves nor records memory.
	Disabled  Policy = ""
	ShortTerm Policy = "short_term"
	LongTerm  Policy = "long_term"
	Entity    Policy = "entity"
	Episodic  Policy = "episodic"
)

// DefaultMaxItems bounds retrieval and per-agent capacity when unset.
const DefaultMaxItems = 1000

// Config 智能体记忆配置
type Config struct {
	Policy        Policy        `json:"policy" yaml:"policy"`
	MaxItems      int           `json:"max_items" yaml:"max_items"`
	UseEmbeddings bool          `json:"use_embeddings" yaml:"use_embeddings"`
	TTL           time.Duration `json:"ttl" yaml:"ttl"`
	Persist       bool          `json:"persist" yaml:"persist"`
}

// Enabled reports whether memory is active.
func (c Config) Enabled() bool { return c.Policy != Disabled }

// Limit returns MaxItems or the default.
func (c Config) Limit() int {
	if c.MaxItems <= 0 {
		return DefaultMaxItems
	}
	return c.MaxItems
}

// RunScoped reports whether the store is discarded when a crew run ends.
// Only long-term, entity and episodic memory with Persist set outlive a run.
func (c Config) RunScoped() bool {
	return c.Policy == ShortTerm || !c.Persist
}

// Valid reports whether the policy is one of the known values.
func (p Policy) Valid() bool {
	switch p {
	case Disabled, ShortTerm, LongTerm, Entity, Episodic:
		return true
	}
	return false
}

// Snippet is one remembered piece of context.
type Snippet struct {
	ID           string            `json:"id"`
	AgentID      string            `json:"agent_id"`
	Content      string            `json:"content"`
	Entities     []string          `json:"entities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Embedding    []float32         `json:"embedding,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	ExpiresAt    time.Time         `json:"expires_at,omitempty"`
	LastAccessed time.Time         `json:"last_accessed,omitempty"`
	AccessCount  int               `json:"access_count,omitempty"`
}

// Expired reports whether the snippet's TTL has elapsed at now.
func (s Snippet) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Query filters a backend read.
type Query struct {
	Text     string
	Entities []string // match any; empty matches all
	IDs      []string // restrict to these snippet ids; empty matches all
	Limit    int      // 0 = unlimited
}

// Store is the per-agent memory contract.
type Store interface {
	Retrieve(ctx context.Context, query string) ([]Snippet, error)
	Record(ctx context.Context, snippet Snippet) error
}

// Backend persists snippets keyed by agent. Get returns matches most-recent-first.
// Implementations must serialize concurrent writers.
type Backend interface {
	Get(ctx context.Context, agentID string, query Query) ([]Snippet, error)
	Put(ctx context.Context, agentID string, snippet Snippet) error
}

// ScoredSnippet is a similarity search hit.
type ScoredSnippet struct {
	Snippet Snippet
	Score   float64
}

// VectorIndex is the vector similarity capability.
type VectorIndex interface {
	Upsert(ctx context.Context, agentID string, snippet Snippet) error
	Search(ctx context.Context, agentID string, vector []float32, k int) ([]ScoredSnippet, error)
}

// EntityExtractor finds named entities in text.
type EntityExtractor interface {
	Extract(text string) []string
}

// EntityExtractorFunc adapts a function to EntityExtractor.
type EntityExtractorFunc func(text string) []string

// Extract implements EntityExtractor.
func (f EntityExtractorFunc) Extract(text string) []string { return f(text) }
