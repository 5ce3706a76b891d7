// Package ollama adapts a local Ollama server to llm.LLMClient.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"underwriter/pkg/llm"
	"underwriter/pkg/llm/llmerrors"
)

// DefaultHost is used when no host is configured.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewClientWithModel creates a client for hostURL. An invalid URL falls back to DefaultHost.
// Model names may carry an "ollama:" prefix, which is stripped.
func NewClientWithModel(hostURL, model string) llm.LLMClient {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultHost)
		hostURL = DefaultHost
	}
	return &Client{
		client:  api.NewClient(parsed, http.DefaultClient),
		model:   strings.TrimPrefix(model, "ollama:"),
		hostURL: hostURL,
	}
}

// BuildRequest converts a completion request into a non-streaming chat request.
func BuildRequest(model string, in llm.CompletionRequest) *api.ChatRequest {
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}
	stream := false
	options := map[string]any{"temperature": in.Temperature}
	if in.MaxTokens > 0 {
		options["num_predict"] = in.MaxTokens
	}
	return &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}
}

// Complete implements llm.LLMClient.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, BuildRequest(o.model, in), func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(fmt.Errorf("ollama chat at %s: %w", o.hostURL, err))
	}
	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: response.DoneReason,
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}
