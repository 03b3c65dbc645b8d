package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

const (
	payloadContent = "content"
	payloadAgentID = "agent_id"
	payloadSnippet = "snippet"
)

// QdrantConfig configures QdrantIndex.
type QdrantConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	APIKey     string `yaml:"api_key" json:"api_key,omitempty"`
	UseTLS     bool   `yaml:"use_tls" json:"use_tls"`
	Collection string `yaml:"collection" json:"collection"`
	VectorName string `yaml:"vector_name" json:"vector_name"` // 命名向量, 默认 "text"
	// VectorSize 为 0 时取首次写入向量的长度
	VectorSize           int  `yaml:"vector_size" json:"vector_size,omitempty"`
	AutoCreateCollection bool `yaml:"auto_create_collection" json:"auto_create_collection"`
}

// DefaultQdrantConfig returns the gRPC defaults of a local Qdrant.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:                 "localhost",
		Port:                 6334,
		Collection:           "crew_memories",
		VectorName:           "text",
		AutoCreateCollection: true,
	}
}

// qdrantAPI is the subset of *qdrant.Client used by QdrantIndex.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantIndex implements memory.VectorIndex on a Qdrant collection.
type QdrantIndex struct {
	cfg    QdrantConfig
	client qdrantAPI
	logger *zap.Logger

	ensureMu sync.Mutex
	ensured  bool
}

var _ memory.VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	cfg = cfg.withDefaults()
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return newQdrantIndex(cfg, client, logger), nil
}

func newQdrantIndex(cfg QdrantConfig, client qdrantAPI, logger *zap.Logger) *QdrantIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &QdrantIndex{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "qdrant_index"), zap.String("collection", cfg.Collection)),
	}
}

func (c QdrantConfig) withDefaults() QdrantConfig {
	d := DefaultQdrantConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port == 0 {
		c.Port = d.Port
	}
	if strings.TrimSpace(c.Collection) == "" {
		c.Collection = d.Collection
	}
	if c.VectorName == "" {
		c.VectorName = d.VectorName
	}
	return c
}

// Close releases the underlying gRPC connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}

var qdrantNamespace = uuid.MustParse("6f1c2b8e-93a4-4d0e-a1f7-3c5e8b2d9a40")

// 同一 agent 的同一片段总是映射到同一个点
func pointID(agentID, snippetID string) string {
	return uuid.NewSHA1(qdrantNamespace, []byte(agentID+"\x00"+snippetID)).String()
}

func (x *QdrantIndex) ensureCollection(ctx context.Context, vectorSize int) error {
	if !x.cfg.AutoCreateCollection {
		return nil
	}
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if x.ensured {
		return nil
	}

	exists, err := x.client.CollectionExists(ctx, x.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if !exists {
		size := x.cfg.VectorSize
		if size <= 0 {
			size = vectorSize
		}
		if size <= 0 {
			return fmt.Errorf("qdrant vector size must be > 0")
		}
		err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: x.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				x.cfg.VectorName: {
					Size:     uint64(size),
					Distance: qdrant.Distance_Cosine,
				},
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant create collection: %w", err)
		}
		x.logger.Info("collection created", zap.Int("vector_size", size))
	}
	x.ensured = true
	return nil
}

func (x *QdrantIndex) Upsert(ctx context.Context, agentID string, snippet memory.Snippet) error {
	if snippet.ID == "" {
		return fmt.Errorf("snippet id is required")
	}
	if len(snippet.Embedding) == 0 {
		return fmt.Errorf("embedding is required")
	}
	if x.cfg.VectorSize > 0 && len(snippet.Embedding) != x.cfg.VectorSize {
		return fmt.Errorf("vector dimension mismatch: got %d want %d", len(snippet.Embedding), x.cfg.VectorSize)
	}
	if err := x.ensureCollection(ctx, len(snippet.Embedding)); err != nil {
		return err
	}

	point, err := x.toPoint(agentID, snippet)
	if err != nil {
		return err
	}
	wait := true
	_, err = x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.cfg.Collection,
		Wait:           &wait,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (x *QdrantIndex) toPoint(agentID string, snippet memory.Snippet) (*qdrant.PointStruct, error) {
	// 向量单独存放, payload 中不重复保存
	body := snippet
	body.Embedding = nil
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal snippet: %w", err)
	}
	return &qdrant.PointStruct{
		Id: qdrant.NewID(pointID(agentID, snippet.ID)),
		Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
			x.cfg.VectorName: qdrant.NewVectorDense(snippet.Embedding),
		}),
		Payload: map[string]*qdrant.Value{
			payloadContent: qdrant.NewValueString(snippet.Content),
			payloadAgentID: qdrant.NewValueString(agentID),
			payloadSnippet: qdrant.NewValueString(string(raw)),
		},
	}, nil
}

func (x *QdrantIndex) Search(ctx context.Context, agentID string, vector []float32, k int) ([]memory.ScoredSnippet, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if k <= 0 {
		return []memory.ScoredSnippet{}, nil
	}
	if err := x.ensureCollection(ctx, len(vector)); err != nil {
		return nil, err
	}

	results, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.cfg.Collection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(x.cfg.VectorName),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(payloadAgentID, agentID),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	return x.parseResults(agentID, results), nil
}

func (x *QdrantIndex) parseResults(agentID string, results []*qdrant.ScoredPoint) []memory.ScoredSnippet {
	hits := make([]memory.ScoredSnippet, 0, len(results))
	for _, r := range results {
		payload := r.GetPayload()
		var snippet memory.Snippet
		if v, ok := payload[payloadSnippet]; ok {
			if err := json.Unmarshal([]byte(v.GetStringValue()), &snippet); err != nil {
				x.logger.Warn("skip malformed payload", zap.String("point", r.GetId().GetUuid()), zap.Error(err))
				continue
			}
		} else {
			// 外部写入的点只有 content
			snippet = memory.Snippet{ID: r.GetId().GetUuid(), AgentID: agentID}
			if c, ok := payload[payloadContent]; ok {
				snippet.Content = c.GetStringValue()
			}
		}
		hits = append(hits, memory.ScoredSnippet{Snippet: snippet, Score: float64(r.GetScore())})
	}
	memory.SortScored(hits)
	return hits
}
