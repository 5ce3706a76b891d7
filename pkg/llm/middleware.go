package llm

import (
	"context"
	"strings"
	"time"

	"underwriter/pkg/llm/llmerrors"
)

// Recorder receives one observation per completion call.
type Recorder interface {
	ObserveLLMRequest(provider, outcome string, duration time.Duration)
}

// Timeout bounds every Complete call.
func Timeout(d time.Duration) Middleware {
	return func(next LLMClient) LLMClient {
		if d <= 0 {
			return next
		}
		return WrapClient(next, func(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Complete(ctx, in)
		})
	}
}

// Classify converts raw provider failures into llmerrors.Error values and
// treats an empty completion as a failure.
func Classify() Middleware {
	return func(next LLMClient) LLMClient {
		return WrapClient(next, func(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
			resp, err := next.Complete(ctx, in)
			if err != nil {
				return resp, llmerrors.Classify(err)
			}
			if strings.TrimSpace(resp.Content) == "" {
				return resp, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty completion from "+next.GetModelName())
			}
			return resp, nil
		})
	}
}

// Metrics reports the outcome of every call to rec, labeled by provider.
// Outcome is "success" or the llmerrors type name.
func Metrics(rec Recorder, provider string) Middleware {
	return func(next LLMClient) LLMClient {
		if rec == nil {
			return next
		}
		return WrapClient(next, func(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
			start := time.Now()
			resp, err := next.Complete(ctx, in)
			outcome := "success"
			if err != nil {
				outcome = llmerrors.TypeOf(err).String()
			}
			rec.ObserveLLMRequest(provider, outcome, time.Since(start))
			return resp, err
		})
	}
}
