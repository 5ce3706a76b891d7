package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"underwriter/pkg/llm/llmerrors"
)

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return clock }

	inner := &fakeClient{err: errors.New("503 service unavailable")}
	client := Chain(inner, CircuitBreaker(b))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.Complete(ctx, CompletionRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, b.State())

	_, err := client.Complete(ctx, CompletionRequest{})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable))
	assert.Equal(t, 2, inner.calls, "open circuit must not reach the provider")

	clock = clock.Add(2 * time.Minute)
	inner.err = nil
	inner.content = "ok"
	resp, err := client.Complete(ctx, CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, CircuitClosed, b.State())
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(1, time.Minute)
	b.now = func() time.Time { return clock }

	b.Record(false)
	require.Equal(t, CircuitOpen, b.State())

	clock = clock.Add(time.Minute)
	require.True(t, b.Allow())
	assert.Equal(t, CircuitHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one trial call while half-open")

	b.Record(false)
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	inner := &fakeClient{content: "ok"}
	assert.Same(t, LLMClient(inner), CircuitBreaker(NewBreaker(0, time.Minute))(inner))
	assert.Same(t, LLMClient(inner), CircuitBreaker(nil)(inner))
}
