package rag

import (
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/agent/memory"
	"go.uber.org/zap"
)

// IndexType selects a vector index implementation.
type IndexType string

const (
	IndexInMemory IndexType = "inmemory"
	IndexQdrant   IndexType = "qdrant"
)

// IndexConfig is the vector index section of the engine configuration.
type IndexConfig struct {
	Type      IndexType    `yaml:"type" json:"type"`
	Dimension int          `yaml:"dimension" json:"dimension"`
	Qdrant    QdrantConfig `yaml:"qdrant" json:"qdrant"`
}

// NewIndex creates the configured memory.VectorIndex. An empty type means in-memory.
func NewIndex(cfg IndexConfig, logger *zap.Logger) (memory.VectorIndex, error) {
	switch IndexType(strings.ToLower(string(cfg.Type))) {
	case "", IndexInMemory:
		return memory.NewInMemoryIndex(memory.InMemoryIndexConfig{Dimension: cfg.Dimension}, logger), nil
	case IndexQdrant:
		q := cfg.Qdrant
		if q.VectorSize == 0 {
			q.VectorSize = cfg.Dimension
		}
		return NewQdrantIndex(q, logger)
	default:
		return nil, fmt.Errorf("unsupported vector index type: %s", cfg.Type)
	}
}
