// =============================================================================
// 🧠 MockEmbedder - 向量化模拟实现
// =============================================================================
// 按关键词轴生成确定性向量，便于断言相似度排序
//
// 使用方法:
//
//	emb := mocks.NewMockEmbedder("database", "network", "frontend")
//	vec, _ := emb.Embed(ctx, "database migration") // [1 0 0]
// =============================================================================
package mocks

import (
	"context"
	"strings"
	"sync"
)

// MockEmbedder 每个关键词对应一个维度，文本包含该关键词则该维为 1
type MockEmbedder struct {
	mu    sync.Mutex
	axes  []string
	err   error
	calls int
}

// NewMockEmbedder 创建 MockEmbedder
func NewMockEmbedder(axes ...string) *MockEmbedder {
	return &MockEmbedder{axes: axes}
}

// WithError 设置 Embed 的错误
func (m *MockEmbedder) WithError(err error) *MockEmbedder {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Embed 实现 llm.Embedder
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(m.axes))
	for i, axis := range m.axes {
		if strings.Contains(lower, axis) {
			vec[i] = 1
		}
	}
	return vec, nil
}

// Dimension 返回向量维度
func (m *MockEmbedder) Dimension() int { return len(m.axes) }

// GetCallCount 获取调用次数
func (m *MockEmbedder) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
