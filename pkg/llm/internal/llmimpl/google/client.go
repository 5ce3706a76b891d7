// Package google adapts the Gemini API to llm.LLMClient.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"underwriter/pkg/llm"
	"underwriter/pkg/llm/llmerrors"
)

// GeminiClient wraps the Google GenAI client. The SDK client needs a context
// to construct, so it is created on first use.
type GeminiClient struct {
	mu     sync.Mutex
	client *genai.Client
	apiKey string
	model  string
}

// NewGeminiClientWithModel creates a raw client; middleware is applied by the factory.
func NewGeminiClientWithModel(apiKey, model string) llm.LLMClient {
	return &GeminiClient{apiKey: apiKey, model: model}
}

func (g *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	g.client = client
	return client, nil
}

// BuildContents converts messages to Gemini contents plus a system instruction.
func BuildContents(messages []llm.CompletionMessage) ([]*genai.Content, string) {
	system, rest := llm.SplitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		role := "user"
		if rest[i].Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: rest[i].Content}},
		})
	}
	return contents, system
}

// Complete implements llm.LLMClient.
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := g.sdk(ctx)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}

	contents, system := BuildContents(in.Messages)
	if len(contents) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	temperature := in.Temperature
	//nolint:gosec // MaxTokens is bounded by config validation
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(fmt.Errorf("gemini completion: %w", err))
	}
	if result == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	stop := ""
	if len(result.Candidates) > 0 && result.Candidates[0] != nil {
		stop = string(result.Candidates[0].FinishReason)
	}
	return llm.CompletionResponse{Content: result.Text(), StopReason: stop}, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}
