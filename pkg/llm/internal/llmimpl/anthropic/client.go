// Package anthropic adapts the Anthropic Messages API to llm.LLMClient.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"underwriter/pkg/llm"
	"underwriter/pkg/llm/llmerrors"
)

// ClaudeClient wraps the Anthropic API client.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClientWithModel creates a raw client; middleware is applied by the factory.
func NewClaudeClientWithModel(apiKey, model string, opts ...option.RequestOption) llm.LLMClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

// BuildParams converts a completion request into Messages API parameters.
// System messages move to the system parameter.
func BuildParams(model anthropic.Model, in llm.CompletionRequest) (anthropic.MessageNewParams, error) {
	system, rest := llm.SplitSystem(in.Messages)
	if len(rest) == 0 {
		return anthropic.MessageNewParams{}, fmt.Errorf("no user or assistant messages")
	}

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for i := range rest {
		role := anthropic.MessageParamRoleUser
		if rest[i].Role == llm.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(rest[i].Content)},
		})
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}
	return params, nil
}

// Complete implements llm.LLMClient.
func (c *ClaudeClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	params, err := BuildParams(c.model, in)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(fmt.Errorf("claude completion: %w", err))
	}

	var content string
	for i := range resp.Content {
		block := resp.Content[i]
		if block.Type == "text" {
			content += block.AsText().Text
		}
	}
	return llm.CompletionResponse{
		Content:    content,
		StopReason: string(resp.StopReason),
	}, nil
}

// GetModelName returns the model name for this client.
func (c *ClaudeClient) GetModelName() string {
	return string(c.model)
}
