package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
	"github.com/bio-xyz/bio-data-analysis/internal/jsonx"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
	"github.com/bio-xyz/bio-data-analysis/internal/metrics"
	"github.com/bio-xyz/bio-data-analysis/internal/observation"
)

// Node keys for model selection; each workflow node may run on its own
// provider and model.
const (
	NodePlanning       = "planning"
	NodeCodePlanning   = "code_planning"
	NodeCodeGeneration = "code_generation"
	NodeAnswering      = "answering"
)

// NodeConfig selects the provider and model for one node.
type NodeConfig struct {
	Provider  string
	Model     string
	MaxTokens int
}

// ModelSelector resolves the NodeConfig for a node key.
type ModelSelector func(node string) NodeConfig

// contextTokenGuard is the smallest context window among the supported
// models; prompts approaching it are flagged before the call.
const contextTokenGuard = 128000

// Gateway turns workflow-node intents into schema-validated model output.
// Safe for concurrent use across tasks.
type Gateway struct {
	cfg     Config
	models  ModelSelector
	logger  logging.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[string]Client

	// newClient is swapped in tests.
	newClient func(provider, model string, cfg Config) (Client, error)
}

// NewGateway builds a Gateway. metrics may be nil.
func NewGateway(cfg Config, models ModelSelector, m *metrics.Metrics) *Gateway {
	return &Gateway{
		cfg:       cfg,
		models:    models,
		logger:    logging.OrNop(cfg.Logger),
		metrics:   m,
		clients:   make(map[string]Client),
		newClient: buildClient,
	}
}

func buildClient(provider, model string, cfg Config) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(model, cfg), nil
	case ProviderAnthropic:
		return NewAnthropicClient(model, cfg), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", provider)
}

func (g *Gateway) client(nc NodeConfig) (Client, error) {
	key := nc.Provider + "/" + nc.Model
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[key]; ok {
		return c, nil
	}
	c, err := g.newClient(nc.Provider, nc.Model, g.cfg)
	if err != nil {
		return nil, err
	}
	g.clients[key] = c
	return c, nil
}

// validator is implemented by every response schema.
type validator interface{ Validate() error }

// completeJSON runs one completion and decodes it into the schema type,
// repairing malformed JSON and re-asking once on a schema violation.
func completeJSON[T any, PT interface {
	*T
	validator
}](g *Gateway, ctx context.Context, node, system, user string) (*T, error) {
	nc := g.models(node)
	client, err := g.client(nc)
	if err != nil {
		return nil, err
	}

	promptTokens := CountTokens(system) + CountTokens(user)
	g.logger.Debug("llm call: node=%s model=%s/%s prompt_tokens~%d",
		node, nc.Provider, nc.Model, promptTokens)
	if nc.MaxTokens > 0 && promptTokens+nc.MaxTokens > contextTokenGuard {
		g.logger.Warn("prompt for node %s near the context limit: ~%d prompt tokens + %d completion budget",
			node, promptTokens, nc.MaxTokens)
	}

	messages := []Message{{Role: "user", Content: user}}
	out, err := g.ask(ctx, node, client, nc, system, messages)
	if err != nil {
		return nil, err
	}

	value, decodeErr := decodeInto[T, PT](out.Content)
	if decodeErr == nil {
		return value, nil
	}
	g.logger.Warn("llm output rejected for node %s, re-asking once: %v", node, decodeErr)

	// One schema-recovery attempt: show the model its reply and the error.
	messages = append(messages,
		Message{Role: "assistant", Content: out.Content},
		Message{Role: "user", Content: fmt.Sprintf(
			"Your reply did not match the required JSON schema: %v. Reply again with only the corrected JSON object.", decodeErr)},
	)
	out, err = g.ask(ctx, node, client, nc, system, messages)
	if err != nil {
		return nil, err
	}
	value, decodeErr = decodeInto[T, PT](out.Content)
	if decodeErr != nil {
		return nil, &agenterrors.SchemaError{Schema: node, Err: decodeErr}
	}
	return value, nil
}

func (g *Gateway) ask(ctx context.Context, node string, client Client, nc NodeConfig, system string, messages []Message) (*CompletionResponse, error) {
	start := time.Now()
	out, err := client.Complete(ctx, CompletionRequest{
		System:    system,
		Messages:  messages,
		MaxTokens: nc.MaxTokens,
		JSONOnly:  true,
	})
	if g.metrics != nil {
		g.metrics.LLMCallDuration.WithLabelValues(node, nc.Provider).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeInto[T any, PT interface {
	*T
	validator
}](content string) (*T, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	value := new(T)
	if err := jsonx.Unmarshal([]byte(raw), value); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if err := jsonx.Unmarshal([]byte(repaired), value); err != nil {
			return nil, fmt.Errorf("decode repaired: %w", err)
		}
	}
	if err := PT(value).Validate(); err != nil {
		return nil, err
	}
	return value, nil
}

// extractJSON strips prose and code fences around the first top-level JSON
// object in content.
func extractJSON(content string) (string, error) {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in model output")
	}
	return s[start : end+1], nil
}

// PlanningDecision classifies the request.
func (g *Gateway) PlanningDecision(ctx context.Context, tc *TaskContext) (*PlanningDecision, error) {
	return completeJSON[PlanningDecision](g, ctx, NodePlanning, planningSystemPrompt, tc.planningPrompt())
}

// CodePlanningDecision chooses the next step-loop move.
func (g *Gateway) CodePlanningDecision(ctx context.Context, tc *TaskContext, currentGoal string, stepAttempts int) (*CodePlanningDecision, error) {
	return completeJSON[CodePlanningDecision](g, ctx, NodeCodePlanning, codePlanningSystemPrompt,
		tc.codePlanningPrompt(currentGoal, stepAttempts))
}

// StepCode produces the code blob for the current step.
func (g *Gateway) StepCode(ctx context.Context, tc *TaskContext, goal, description, lastError string) (*PythonCode, error) {
	return completeJSON[PythonCode](g, ctx, NodeCodeGeneration, codeGenerationSystemPrompt,
		tc.codeGenerationPrompt(goal, description, lastError))
}

// ObserveExecution extracts observations from an execution transcript.
func (g *Gateway) ObserveExecution(ctx context.Context, tc *TaskContext, goal, transcript, execError string) (*ExecutionObserverDecision, error) {
	return completeJSON[ExecutionObserverDecision](g, ctx, NodeCodePlanning, observerSystemPrompt,
		tc.observerPrompt(goal, transcript, execError))
}

// Reflect merges step observations into the world view. The caller applies
// the store's merge contract on the result.
func (g *Gateway) Reflect(ctx context.Context, current, world []observation.StepObservation) (*ReflectionDecision, error) {
	return completeJSON[ReflectionDecision](g, ctx, NodeCodePlanning, reflectionSystemPrompt,
		reflectionPrompt(current, world))
}

// Clarification asks the user for missing detail.
func (g *Gateway) Clarification(ctx context.Context, tc *TaskContext) (*ClarificationResponse, error) {
	return completeJSON[ClarificationResponse](g, ctx, NodeAnswering, clarificationSystemPrompt, tc.planningPrompt())
}

// GeneralAnswer answers without code execution.
func (g *Gateway) GeneralAnswer(ctx context.Context, tc *TaskContext) (*GeneralAnswerResponse, error) {
	return completeJSON[GeneralAnswerResponse](g, ctx, NodeAnswering, generalAnswerSystemPrompt, tc.planningPrompt())
}

// TaskAnswer synthesizes the final report.
func (g *Gateway) TaskAnswer(ctx context.Context, tc *TaskContext, failed bool, failureReason, workingTree string) (*TaskAnswer, error) {
	return completeJSON[TaskAnswer](g, ctx, NodeAnswering, taskAnswerSystemPrompt,
		tc.taskAnswerPrompt(failed, failureReason, workingTree))
}
