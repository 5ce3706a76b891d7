package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"underwriter/pkg/llm"
	"underwriter/pkg/llm/llmerrors"
)

func TestBuildRequest(t *testing.T) {
	req := BuildRequest("llama3.1", llm.CompletionRequest{
		Messages:    []llm.CompletionMessage{llm.NewSystemMessage("s"), llm.NewUserMessage("u")},
		MaxTokens:   256,
		Temperature: 0.1,
	})
	assert.Equal(t, "llama3.1", req.Model)
	require.NotNil(t, req.Stream)
	assert.False(t, *req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, 256, req.Options["num_predict"])
}

func TestCompleteAgainstServer(t *testing.T) {
	var seen api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&seen)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.ChatResponse{
			Model:      "llama3.1",
			Message:    api.Message{Role: "assistant", Content: `{"action":"analyze-customer-data"}`},
			Done:       true,
			DoneReason: "stop",
		})
	}))
	defer srv.Close()

	client := NewClientWithModel(srv.URL, "ollama:llama3.1")
	assert.Equal(t, "llama3.1", client.GetModelName())

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.CompletionMessage{llm.NewUserMessage("next?")},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"analyze-customer-data"}`, resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, "llama3.1", seen.Model)
}

func TestCompleteEmptyMessages(t *testing.T) {
	_, err := NewClientWithModel("", "llama3.1").Complete(context.Background(), llm.CompletionRequest{})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeBadPrompt))
}
