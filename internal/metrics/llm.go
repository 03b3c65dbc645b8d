package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/crewflow/llm"
)

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// InstrumentCompleter 包装 next, 为每次补全记录 LLM 指标
func (c *Collector) InstrumentCompleter(next llm.Completer, provider string) llm.Completer {
	return &instrumentedCompleter{next: next, provider: provider, collector: c}
}

type instrumentedCompleter struct {
	next      llm.Completer
	provider  string
	collector *Collector
}

func (ic *instrumentedCompleter) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := ic.next.Complete(ctx, req)

	model := req.Model
	var usage llm.Usage
	if resp != nil {
		if resp.Model != "" {
			model = resp.Model
		}
		usage = resp.Usage
	}
	ic.collector.RecordLLMRequest(ic.provider, model, requestStatus(err), time.Since(start),
		usage.PromptTokens, usage.CompletionTokens)
	return resp, err
}

// requestStatus 将补全错误归类为指标标签
func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	if kind := llm.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}
