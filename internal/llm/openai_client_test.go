package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
	"github.com/bio-xyz/bio-data-analysis/internal/jsonx"
)

func TestOpenAIClientComplete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, jsonx.Unmarshal(body, &captured))
		_, _ = w.Write([]byte(`{
			"model": "gpt-test",
			"choices": [{"message": {"content": "{\"answer\": \"4\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5}
		}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("gpt-test", Config{OpenAIAPIKey: "test-key", OpenAIBaseURL: server.URL})
	resp, err := client.Complete(context.Background(), CompletionRequest{
		System:   "answer tersely",
		Messages: []Message{{Role: "user", Content: "2+2?"}},
		JSONOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"answer": "4"}`, resp.Content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)

	// System prompt travels as the first message; JSON mode is requested.
	messages := captured["messages"].([]any)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	format := captured["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIClientProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("gpt-test", Config{OpenAIBaseURL: server.URL})
	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, agenterrors.IsProviderFailure(err))

	var pe *agenterrors.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

func TestAnthropicClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))
		_, _ = w.Write([]byte(`{
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"answer\": \"4\"}"}],
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	client := NewAnthropicClient("claude-test", Config{AnthropicAPIKey: "test-key", AnthropicBaseURL: server.URL})
	resp, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "2+2?"}},
		JSONOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"answer": "4"}`, resp.Content)
	assert.Equal(t, 10, resp.Usage.PromptTokens)
	assert.Equal(t, 4, resp.Usage.CompletionTokens)
}
