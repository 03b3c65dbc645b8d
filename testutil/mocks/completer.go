// MockCompleter 是补全后端的测试模拟实现。
//
// 支持固定响应、按提示词路由的脚本响应、延迟与错误注入场景。
package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/crewflow/llm"
)

// --- MockCompleter 结构 ---

// Rule 当提示词（或系统提示词）包含 Match 时返回 Response 或 Err
type Rule struct {
	Match    string
	Response string
	Err      error
	Delay    time.Duration
}

// MockCompleter 是 llm.Completer 的模拟实现
type MockCompleter struct {
	mu sync.RWMutex

	// 响应配置
	response string
	err      error
	rules    []Rule

	// 调用记录
	calls          []MockCompleterCall
	completionFunc func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error)

	// 行为控制
	delay     time.Duration
	failAfter int // 在第 N 次调用后失败
	callCount int
}

// MockCompleterCall 记录单次调用
type MockCompleterCall struct {
	Request  *llm.CompletionRequest
	Response *llm.CompletionResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockCompleter 创建新的 MockCompleter
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{response: "Mock response"}
}

// WithResponse 设置默认响应内容
func (m *MockCompleter) WithResponse(response string) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置默认错误
func (m *MockCompleter) WithError(err error) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithRule 追加一条路由规则，按添加顺序匹配
func (m *MockCompleter) WithRule(rule Rule) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
	return m
}

// On 是 WithRule 的简写
func (m *MockCompleter) On(match, response string) *MockCompleter {
	return m.WithRule(Rule{Match: match, Response: response})
}

// OnError 匹配时返回错误
func (m *MockCompleter) OnError(match string, err error) *MockCompleter {
	return m.WithRule(Rule{Match: match, Err: err})
}

// WithDelay 设置响应延迟，延迟期间响应 ctx 取消
func (m *MockCompleter) WithDelay(d time.Duration) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockCompleter) WithFailAfter(n int) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompletionFunc 设置自定义 Complete 函数
func (m *MockCompleter) WithCompletionFunc(fn func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error)) *MockCompleter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// --- Completer 接口实现 ---

// Complete 生成响应
func (m *MockCompleter) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	fn := m.completionFunc
	delay := m.delay
	text, err := m.response, m.err
	for _, r := range m.rules {
		if strings.Contains(req.Prompt, r.Match) || strings.Contains(req.System, r.Match) {
			text, err = r.Response, r.Err
			if r.Delay > 0 {
				delay = r.Delay
			}
			break
		}
	}
	if m.failAfter > 0 && n > m.failAfter {
		err = llm.NewError(llm.KindProviderError, "mock", "configured to fail after N calls")
	}
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			m.record(req, nil, ctx.Err())
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if fn != nil {
		resp, err := fn(ctx, req)
		m.record(req, resp, err)
		return resp, err
	}
	if err != nil {
		m.record(req, nil, err)
		return nil, err
	}

	resp := &llm.CompletionResponse{Text: text, Model: req.Model, Provider: "mock"}
	m.record(req, resp, nil)
	return resp, nil
}

func (m *MockCompleter) record(req *llm.CompletionRequest, resp *llm.CompletionResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCompleterCall{Request: req, Response: resp, Error: err})
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockCompleter) GetCalls() []MockCompleterCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockCompleterCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockCompleter) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// PromptsContaining 返回包含 substr 的提示词
func (m *MockCompleter) PromptsContaining(substr string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, c := range m.calls {
		if strings.Contains(c.Request.Prompt, substr) {
			out = append(out, c.Request.Prompt)
		}
	}
	return out
}

// Reset 重置所有状态
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
}

// --- 预设工厂 ---

// NewSuccessCompleter 创建总是成功的 Completer
func NewSuccessCompleter(response string) *MockCompleter {
	return NewMockCompleter().WithResponse(response)
}

// NewErrorCompleter 创建总是失败的 Completer
func NewErrorCompleter(err error) *MockCompleter {
	return NewMockCompleter().WithError(err)
}

// NewFlakeyCompleter 创建不稳定的 Completer（N 次后失败）
func NewFlakeyCompleter(failAfter int, response string) *MockCompleter {
	return NewMockCompleter().WithResponse(response).WithFailAfter(failAfter)
}
