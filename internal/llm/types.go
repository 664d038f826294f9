// Package llm drives the language model side of the workflow: provider
// clients, per-node model selection and schema-validated structured output.
package llm

import (
	"context"
	"time"

	"github.com/bio-xyz/bio-data-analysis/internal/logging"
)

// Provider names accepted in node model configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config carries provider credentials and transport settings shared by all
// clients built from one gateway.
type Config struct {
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	Timeout          time.Duration
	Logger           logging.Logger
}

// Message is one turn of a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral chat completion request. JSONOnly
// asks the provider to constrain the reply to a single JSON object where the
// provider supports it.
type CompletionRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
	JSONOnly  bool
}

// TokenUsage reports provider-side token accounting for one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionResponse is the provider-neutral reply.
type CompletionResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// Client is one configured provider+model pair.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Provider() string
	Model() string
}
