package rag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BaSui01/crewflow/agent/memory"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeQdrant 记录请求, 并按 agent_id 过滤返回已写入的点
type fakeQdrant struct {
	mu          sync.Mutex
	exists      bool
	created     []*qdrant.CreateCollection
	points      map[string]*qdrant.PointStruct
	queries     []*qdrant.QueryPoints
	queryScores []float32
	queryErr    error
	closed      bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{points: make(map[string]*qdrant.PointStruct)}
}

func (f *fakeQdrant) CollectionExists(_ context.Context, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	f.exists = true
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range req.GetPoints() {
		f.points[p.GetId().GetUuid()] = p
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	agentID := req.GetFilter().GetMust()[0].GetField().GetMatch().GetKeyword()
	var out []*qdrant.ScoredPoint
	i := 0
	for _, p := range f.points {
		if p.GetPayload()[payloadAgentID].GetStringValue() != agentID {
			continue
		}
		score := float32(0.5)
		if i < len(f.queryScores) {
			score = f.queryScores[i]
		}
		i++
		out = append(out, &qdrant.ScoredPoint{Id: p.GetId(), Payload: p.GetPayload(), Score: score})
	}
	return out, nil
}

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func TestQdrantIndex_UpsertCreatesCollectionOnce(t *testing.T) {
	fake := newFakeQdrant()
	idx := newQdrantIndex(QdrantConfig{AutoCreateCollection: true}, fake, zaptest.NewLogger(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		err := idx.Upsert(ctx, "researcher", memory.Snippet{ID: id, Content: "note " + id, Embedding: []float32{1, 0, 0}})
		require.NoError(t, err)
	}

	require.Len(t, fake.created, 1)
	assert.Equal(t, "crew_memories", fake.created[0].GetCollectionName())
	params := fake.created[0].GetVectorsConfig().GetParamsMap().GetMap()["text"]
	require.NotNil(t, params)
	assert.Equal(t, uint64(3), params.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params.GetDistance())
	assert.Len(t, fake.points, 2)
}

func TestQdrantIndex_PointIDIsStable(t *testing.T) {
	fake := newFakeQdrant()
	idx := newQdrantIndex(QdrantConfig{}, fake, nil)
	ctx := context.Background()

	s := memory.Snippet{ID: "same", Content: "v1", Embedding: []float32{1, 0}}
	require.NoError(t, idx.Upsert(ctx, "agent", s))
	s.Content = "v2"
	require.NoError(t, idx.Upsert(ctx, "agent", s))
	require.NoError(t, idx.Upsert(ctx, "other", s))

	assert.Len(t, fake.points, 2)
	assert.Equal(t, pointID("agent", "same"), pointID("agent", "same"))
	assert.NotEqual(t, pointID("agent", "same"), pointID("other", "same"))
	// 未开启自动建表时不触碰 collection
	assert.Empty(t, fake.created)
}

func TestQdrantIndex_SearchFiltersByAgentAndSorts(t *testing.T) {
	fake := newFakeQdrant()
	idx := newQdrantIndex(QdrantConfig{Collection: "mem"}, fake, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, "writer", memory.Snippet{ID: "w1", AgentID: "writer", Content: "draft", Entities: []string{"Go"}, Embedding: []float32{0, 1}}))
	require.NoError(t, idx.Upsert(ctx, "researcher", memory.Snippet{ID: "r1", AgentID: "researcher", Content: "facts", Embedding: []float32{1, 0}}))

	hits, err := idx.Search(ctx, "writer", []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "w1", hits[0].Snippet.ID)
	assert.Equal(t, "draft", hits[0].Snippet.Content)
	assert.Equal(t, []string{"Go"}, hits[0].Snippet.Entities)
	assert.Nil(t, hits[0].Snippet.Embedding)

	q := fake.queries[0]
	assert.Equal(t, "mem", q.GetCollectionName())
	assert.Equal(t, uint64(5), q.GetLimit())
	assert.Equal(t, "text", q.GetUsing())
}

func TestQdrantIndex_ParseResultsOrdersByScore(t *testing.T) {
	idx := newQdrantIndex(QdrantConfig{}, newFakeQdrant(), nil)
	results := []*qdrant.ScoredPoint{
		{Id: qdrant.NewID("p1"), Score: 0.2, Payload: map[string]*qdrant.Value{payloadContent: qdrant.NewValueString("low")}},
		{Id: qdrant.NewID("p2"), Score: 0.9, Payload: map[string]*qdrant.Value{payloadContent: qdrant.NewValueString("high")}},
		{Id: qdrant.NewID("p3"), Score: 0.5, Payload: map[string]*qdrant.Value{payloadSnippet: qdrant.NewValueString("{not json")}},
	}

	hits := idx.parseResults("agent", results)
	require.Len(t, hits, 2)
	assert.Equal(t, "high", hits[0].Snippet.Content)
	assert.Equal(t, "p2", hits[0].Snippet.ID)
	assert.Equal(t, "agent", hits[1].Snippet.AgentID)
}

func TestQdrantIndex_Validation(t *testing.T) {
	fake := newFakeQdrant()
	idx := newQdrantIndex(QdrantConfig{VectorSize: 3}, fake, nil)
	ctx := context.Background()

	assert.Error(t, idx.Upsert(ctx, "a", memory.Snippet{Embedding: []float32{1, 2, 3}}))
	assert.Error(t, idx.Upsert(ctx, "a", memory.Snippet{ID: "x"}))
	assert.Error(t, idx.Upsert(ctx, "a", memory.Snippet{ID: "x", Embedding: []float32{1}}))

	_, err := idx.Search(ctx, "a", nil, 3)
	assert.Error(t, err)

	hits, err := idx.Search(ctx, "a", []float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	fake.queryErr = errors.New("unavailable")
	_, err = idx.Search(ctx, "a", []float32{1, 0, 0}, 2)
	assert.ErrorContains(t, err, "unavailable")

	require.NoError(t, idx.Close())
	assert.True(t, fake.closed)
}

func TestNewIndex(t *testing.T) {
	idx, err := NewIndex(IndexConfig{Dimension: 4}, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.InMemoryIndex{}, idx)

	_, err = NewIndex(IndexConfig{Type: "faiss"}, nil)
	assert.Error(t, err)
}
