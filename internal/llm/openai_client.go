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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openaiClient speaks the OpenAI-compatible chat completions API.
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIClient constructs a client for one model on an OpenAI-compatible
// endpoint.
func NewOpenAIClient(model string, cfg Config) Client {
	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &openaiClient{
		model:      model,
		apiKey:     cfg.OpenAIAPIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(cfg.Logger),
	}
}

func (c *openaiClient) Provider() string { return ProviderOpenAI }
func (c *openaiClient) Model() string    { return c.model }

type openaiChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openaiResponse struct {
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   TokenUsage     `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *openaiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	payload := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.JSONOnly {
		payload["response_format"] = map[string]any{"type": "json_object"}
	}

	body, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("openai request: model=%s json_only=%v", c.model, req.JSONOnly)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &agenterrors.TimeoutError{Op: "openai completion", Err: err}
		}
		return nil, &agenterrors.ProviderError{Provider: ProviderOpenAI, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &agenterrors.ProviderError{Provider: ProviderOpenAI, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &agenterrors.ProviderError{
			Provider:   ProviderOpenAI,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", truncateForError(data)),
		}
	}

	var parsed openaiResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return nil, &agenterrors.ProviderError{Provider: ProviderOpenAI, Err: fmt.Errorf("decode response: %w", err)}
	}
	if parsed.Error != nil {
		return nil, &agenterrors.ProviderError{Provider: ProviderOpenAI,
			Err: fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &agenterrors.ProviderError{Provider: ProviderOpenAI, Err: fmt.Errorf("no choices in response")}
	}

	choice := parsed.Choices[0]
	c.logger.Debug("openai response: model=%s finish=%s tokens=%d/%d",
		parsed.Model, choice.FinishReason, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)

	return &CompletionResponse{
		Content: choice.Message.Content,
		Model:   parsed.Model,
		Usage:   parsed.Usage,
	}, nil
}

func truncateForError(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
