package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
	"github.com/bio-xyz/bio-data-analysis/internal/jsonx"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com/v1"
	defaultAnthropicVersion   = "2023-06-01"
	anthropicVersionHeaderKey = "anthropic-version"
	anthropicKeyHeaderKey     = "x-api-key"
	defaultAnthropicMaxTokens = 4096
)

type anthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewAnthropicClient constructs a client for one model on the Anthropic
// messages API.
func NewAnthropicClient(model string, cfg Config) Client {
	baseURL := cfg.AnthropicBaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &anthropicClient{
		model:      model,
		apiKey:     cfg.AnthropicAPIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(cfg.Logger),
	}
}

func (c *anthropicClient) Provider() string { return ProviderAnthropic }
func (c *anthropicClient) Model() string    { return c.model }

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *anthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	messages := req.Messages
	if req.JSONOnly && len(messages) > 0 {
		// The messages API has no response_format; steer with an explicit
		// instruction on the final user turn instead.
		messages = append([]Message(nil), messages...)
		last := &messages[len(messages)-1]
		last.Content += "\n\nRespond with a single JSON object and nothing else."
	}

	payload := map[string]any{
		"model":      c.model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(anthropicVersionHeaderKey, defaultAnthropicVersion)
	if c.apiKey != "" {
		httpReq.Header.Set(anthropicKeyHeaderKey, c.apiKey)
	}

	c.logger.Debug("anthropic request: model=%s max_tokens=%d", c.model, maxTokens)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &agenterrors.TimeoutError{Op: "anthropic completion", Err: err}
		}
		return nil, &agenterrors.ProviderError{Provider: ProviderAnthropic, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &agenterrors.ProviderError{Provider: ProviderAnthropic, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &agenterrors.ProviderError{
			Provider:   ProviderAnthropic,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", truncateForError(data)),
		}
	}

	var parsed anthropicResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, &agenterrors.ProviderError{Provider: ProviderAnthropic, Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &agenterrors.ProviderError{Provider: ProviderAnthropic,
			Err: fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message)}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &agenterrors.ProviderError{Provider: ProviderAnthropic, Err: fmt.Errorf("no text content in response")}
	}

	return &CompletionResponse{
		Content: text.String(),
		Model:   parsed.Model,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}
