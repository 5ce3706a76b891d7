package config

import (
	"fmt"
	"strings"
)

// LLM providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// API key environment variable names.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// ModelInfo is static information about a known model.
type ModelInfo struct {
	Provider         string
	MaxContextTokens int
	MaxOutputTokens  int
}

//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5":         {Provider: ProviderAnthropic, MaxContextTokens: 200000, MaxOutputTokens: 64000},
	"claude-3-5-haiku-20241022": {Provider: ProviderAnthropic, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	"gpt-4o":                    {Provider: ProviderOpenAI, MaxContextTokens: 128000, MaxOutputTokens: 4096},
	"gpt-4o-mini":               {Provider: ProviderOpenAI, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"o4-mini":                   {Provider: ProviderOpenAI, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gemini-2.0-flash":          {Provider: ProviderGoogle, MaxContextTokens: 1048576, MaxOutputTokens: 8192},
	"gemini-2.5-flash":          {Provider: ProviderGoogle, MaxContextTokens: 1048576, MaxOutputTokens: 65536},
	"llama3.1":                  {Provider: ProviderOllama, MaxContextTokens: 128000, MaxOutputTokens: 4096},
}

// ProviderPattern infers a provider from a model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"phi", ProviderOllama},
	{"ollama:", ProviderOllama},
}

// GetModelProvider returns the provider for model, from KnownModels first, then prefix patterns.
func GetModelProvider(model string) (string, error) {
	if info, ok := KnownModels[model]; ok {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(model, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", model)
}

// GetModelInfo returns the registry entry, or conservative defaults with an inferred provider.
func GetModelInfo(model string) (ModelInfo, bool) {
	if info, ok := KnownModels[model]; ok {
		return info, true
	}
	provider, _ := GetModelProvider(model)
	return ModelInfo{Provider: provider, MaxContextTokens: 32000, MaxOutputTokens: 4096}, false
}

// APIKeyEnv returns the environment variable holding the provider credential.
// For ollama it is the host URL.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderGoogle:
		return EnvGoogleAPIKey
	case ProviderOllama:
		return EnvOllamaHost
	default:
		return ""
	}
}
