package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/crewflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL}, zaptest.NewLogger(t))
}

func TestProvider_Complete(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "text", "text": "draft "}, {"type": "text", "text": "article"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 4}
		}`))
	})

	resp, err := p.Complete(context.Background(), &llm.CompletionRequest{
		Model:       "claude-3-5-sonnet-20241022",
		System:      "You are a writer.",
		Prompt:      "write",
		Temperature: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "draft article", resp.Text)
	assert.Equal(t, 20, resp.Usage.PromptTokens)

	assert.Equal(t, "claude-3-5-sonnet-20241022", got["model"])
	assert.EqualValues(t, defaultMaxTokens, got["max_tokens"])
	system := got["system"].([]any)
	require.Len(t, system, 1)
	assert.Equal(t, "You are a writer.", system[0].(map[string]any)["text"])
}

func TestProvider_CompleteMapsOverload(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`))
	})

	_, err := p.Complete(context.Background(), &llm.CompletionRequest{Model: "claude", Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, llm.KindRateLimited, llm.KindOf(err))
}
