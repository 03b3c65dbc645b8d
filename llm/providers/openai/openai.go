// Package openai adapts the OpenAI Chat Completions and Embeddings APIs to
// llm.Completer and llm.Embedder.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BaSui01/crewflow/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const providerName = "openai"

// Config configures the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	MaxTokens      int64
	MaxRetries     int
	Timeout        time.Duration
	// HTTPClient 为空时使用 SDK 默认客户端
	HTTPClient *http.Client
}

// Provider wraps the official OpenAI client.
type Provider struct {
	client *openai.Client
	cfg    Config
	logger *zap.Logger
}

// New creates an OpenAI provider. Retries inside the SDK default to off; wrap
// the provider in llm.Resilient for retry policy.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}

	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	client := openai.NewClient(opts...)

	return &Provider{
		client: &client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "openai")),
	}
}

// Complete implements llm.Completer.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewError(llm.KindProviderError, providerName, "empty choices in response")
	}

	p.logger.Debug("completion finished",
		zap.String("model", resp.Model),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &llm.CompletionResponse{
		Text:     resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: providerName,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (p *Provider) buildParams(req *llm.CompletionRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       req.Model,
		Temperature: openai.Float(req.Temperature),
	}
	switch {
	case req.MaxTokens > 0:
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	case p.cfg.MaxTokens > 0:
		params.MaxCompletionTokens = openai.Int(p.cfg.MaxTokens)
	}

	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tool := range req.Tools {
		parameters := tool.Parameters
		if parameters == nil {
			parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(parameters),
			},
		}
	}
	params.Tools = tools
	return params
}

// Embed implements llm.Embedder.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Data) == 0 {
		return nil, llm.NewError(llm.KindProviderError, providerName, "empty embedding response")
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.FromHTTPStatus(apiErr.StatusCode, providerName, apiErr.Error(), err)
	}
	return llm.FromTransport(err, providerName)
}
