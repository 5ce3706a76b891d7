// Package openai adapts the OpenAI Responses API to llm.LLMClient.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"underwriter/pkg/config"
	"underwriter/pkg/llm"
	"underwriter/pkg/llm/llmerrors"
)

// Client wraps the official OpenAI Go client.
type Client struct {
	client openai.Client
	model  string
}

// NewClientWithModel creates a raw client; middleware is applied by the factory.
func NewClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// FlattenInput renders the conversation as the single text input the
// Responses API accepts.
func FlattenInput(messages []llm.CompletionMessage) string {
	system, rest := llm.SplitSystem(messages)
	var sb strings.Builder
	if system != "" {
		fmt.Fprintf(&sb, "System: %s\n\n", system)
	}
	for i := range rest {
		if rest[i].Role == llm.RoleAssistant {
			fmt.Fprintf(&sb, "Assistant: %s\n\n", rest[i].Content)
			continue
		}
		sb.WriteString(rest[i].Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	input := FlattenInput(in.Messages)
	if input == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "empty input")
	}

	// Cap to the model's output limit.
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	if info, ok := config.KnownModels[c.model]; ok && info.MaxOutputTokens > 0 && maxTokens > info.MaxOutputTokens {
		maxTokens = info.MaxOutputTokens
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(fmt.Errorf("openai completion: %w", err))
	}
	return llm.CompletionResponse{
		Content:    resp.OutputText(),
		StopReason: string(resp.Status),
	}, nil
}

// GetModelName returns the model name for this client.
func (c *Client) GetModelName() string {
	return c.model
}
