package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestResilient_RetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	next := CompleterFunc(func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
		if calls.Add(1) < 3 {
			return nil, NewError(KindRateLimited, "test", "429")
		}
		return &CompletionResponse{Text: "ok"}, nil
	})

	r := NewResilient(next, fastConfig(), zap.NewNop())
	resp, err := r.Complete(context.Background(), &CompletionRequest{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResilient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	next := CompleterFunc(func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
		calls.Add(1)
		return nil, NewError(KindProviderError, "test", "500")
	})

	r := NewResilient(next, fastConfig(), nil)
	_, err := r.Complete(context.Background(), &CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, KindProviderError, KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestResilient_DoesNotRetryInvalidModel(t *testing.T) {
	var calls atomic.Int32
	next := CompleterFunc(func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
		calls.Add(1)
		return nil, NewError(KindInvalidModel, "test", "unknown model")
	})

	r := NewResilient(next, fastConfig(), nil)
	_, err := r.Complete(context.Background(), &CompletionRequest{})
	assert.Equal(t, KindInvalidModel, KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResilient_CancelledContextIsReturnedAsIs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResilient(CompleterFunc(func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
		t.Fatal("should not be called")
		return nil, nil
	}), fastConfig(), nil)

	_, err := r.Complete(ctx, &CompletionRequest{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResilient_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	next := CompleterFunc(func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
		calls.Add(1)
		return nil, NewError(KindProviderError, "test", "down")
	})

	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Minute
	r := NewResilient(next, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := r.Complete(context.Background(), &CompletionRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, r.State())

	_, err := r.Complete(context.Background(), &CompletionRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}
