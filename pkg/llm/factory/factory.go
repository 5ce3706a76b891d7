// Package factory builds provider clients for a model name and wraps them in
// the standard middleware chain.
package factory

import (
	"fmt"
	"os"
	"time"

	"underwriter/pkg/config"
	"underwriter/pkg/llm"
	"underwriter/pkg/llm/internal/llmimpl/anthropic"
	"underwriter/pkg/llm/internal/llmimpl/google"
	"underwriter/pkg/llm/internal/llmimpl/ollama"
	"underwriter/pkg/llm/internal/llmimpl/openai"
)

// Options tune the middleware applied around a raw provider client.
type Options struct {
	Timeout  time.Duration
	Recorder llm.Recorder
	Breaker  *llm.Breaker
}

// New returns a client for model. Credentials come from the decrypted
// secrets file or the environment.
func New(model string, opts Options) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, err
	}

	var raw llm.LLMClient
	switch provider {
	case config.ProviderOllama:
		raw = ollama.NewClientWithModel(os.Getenv(config.EnvOllamaHost), model)
	default:
		key, keyErr := config.GetAPIKey(provider)
		if keyErr != nil {
			return nil, fmt.Errorf("model %s: %w", model, keyErr)
		}
		raw, err = newKeyed(provider, key, model)
		if err != nil {
			return nil, err
		}
	}

	return Wrap(raw, provider, opts), nil
}

func newKeyed(provider, key, model string) (llm.LLMClient, error) {
	switch provider {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClientWithModel(key, model), nil
	case config.ProviderOpenAI:
		return openai.NewClientWithModel(key, model), nil
	case config.ProviderGoogle:
		return google.NewGeminiClientWithModel(key, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}

// Wrap applies metrics, circuit breaker, classification and timeout
// middleware to raw. Metrics is outermost so it observes the classified
// outcome, including calls the breaker rejected.
func Wrap(raw llm.LLMClient, provider string, opts Options) llm.LLMClient {
	return llm.Chain(raw,
		llm.Metrics(opts.Recorder, provider),
		llm.CircuitBreaker(opts.Breaker),
		llm.Classify(),
		llm.Timeout(opts.Timeout),
	)
}
