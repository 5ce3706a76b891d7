// Package llm provides the provider-neutral completion interface used by the
// router and report generator.
package llm

import (
	"context"
	"strings"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleSystem indicates a system message that provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser indicates a message from the caller.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message from the model.
	RoleAssistant CompletionRole = "assistant"
)

const (
	// TemperatureRouting keeps routing decisions close to deterministic.
	TemperatureRouting = 0.1

	// DefaultMaxTokens is used when a request does not set MaxTokens.
	DefaultMaxTokens = 1000
)

// CompletionMessage represents a message in a completion request.
type CompletionMessage struct {
	Role    CompletionRole
	Content string
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// LLMClient defines the interface for language model interactions.
type LLMClient interface { //nolint:revive // name shared with provider adapters
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewCompletionRequest creates a request with routing defaults.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureRouting,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// SplitSystem separates system messages from the conversation. Providers
// that take the system prompt as a separate parameter use this.
func SplitSystem(messages []CompletionMessage) (string, []CompletionMessage) {
	var system []string
	rest := make([]CompletionMessage, 0, len(messages))
	for i := range messages {
		if messages[i].Role == RoleSystem {
			system = append(system, messages[i].Content)
			continue
		}
		rest = append(rest, messages[i])
	}
	return strings.Join(system, "\n\n"), rest
}

// Middleware wraps an LLMClient with additional behavior.
type Middleware func(next LLMClient) LLMClient

// Chain applies middlewares so that the first one listed is outermost.
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	client := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] != nil {
			client = middlewares[i](client)
		}
	}
	return client
}

type clientFunc struct {
	complete func(ctx context.Context, in CompletionRequest) (CompletionResponse, error)
	model    func() string
}

func (f clientFunc) Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error) {
	return f.complete(ctx, in)
}

func (f clientFunc) GetModelName() string {
	return f.model()
}

// WrapClient builds an LLMClient from a completion function, delegating the
// model name to next.
func WrapClient(next LLMClient, complete func(ctx context.Context, in CompletionRequest) (CompletionResponse, error)) LLMClient {
	return clientFunc{complete: complete, model: next.GetModelName}
}
