package agent

import (
	"context"
	"fmt"

	"github.com/bio-xyz/bio-data-analysis/internal/llm"
	"github.com/bio-xyz/bio-data-analysis/internal/logging"
	"github.com/bio-xyz/bio-data-analysis/internal/metrics"
	"github.com/bio-xyz/bio-data-analysis/internal/observation"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
)

// LLMGateway is the slice of the model gateway the engine drives.
// *llm.Gateway satisfies it.
type LLMGateway interface {
	PlanningDecision(ctx context.Context, tc *llm.TaskContext) (*llm.PlanningDecision, error)
	CodePlanningDecision(ctx context.Context, tc *llm.TaskContext, currentGoal string, stepAttempts int) (*llm.CodePlanningDecision, error)
	StepCode(ctx context.Context, tc *llm.TaskContext, goal, description, lastError string) (*llm.PythonCode, error)
	ObserveExecution(ctx context.Context, tc *llm.TaskContext, goal, transcript, execError string) (*llm.ExecutionObserverDecision, error)
	Reflect(ctx context.Context, current, world []observation.StepObservation) (*llm.ReflectionDecision, error)
	Clarification(ctx context.Context, tc *llm.TaskContext) (*llm.ClarificationResponse, error)
	GeneralAnswer(ctx context.Context, tc *llm.TaskContext) (*llm.GeneralAnswerResponse, error)
	TaskAnswer(ctx context.Context, tc *llm.TaskContext, failed bool, failureReason, workingTree string) (*llm.TaskAnswer, error)
}

// Config bounds and parameterizes one engine instance.
type Config struct {
	MaxStepRetries   int
	MaxCodeRetries   int
	MaxGraphSteps    int
	MaxOutputChars   int
	OutputSplitRatio float64
	WorkingDirectory string
	NotebookFilename string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxStepRetries <= 0 {
		out.MaxStepRetries = 3
	}
	if out.MaxCodeRetries <= 0 {
		out.MaxCodeRetries = 5
	}
	if out.MaxGraphSteps <= 0 {
		out.MaxGraphSteps = 250
	}
	if out.MaxOutputChars <= 0 {
		out.MaxOutputChars = 25000
	}
	if out.OutputSplitRatio <= 0 || out.OutputSplitRatio >= 1 {
		out.OutputSplitRatio = 0.6
	}
	if out.WorkingDirectory == "" {
		out.WorkingDirectory = "/home/user"
	}
	if out.NotebookFilename == "" {
		out.NotebookFilename = "analysis.ipynb"
	}
	return out
}

// Engine runs the workflow state machine for tasks. One Engine serves many
// tasks; each Run call owns its State exclusively.
type Engine struct {
	llm     LLMGateway
	sandbox sandbox.Gateway
	cfg     Config
	logger  logging.Logger
	metrics *metrics.Metrics

	// heartbeat is invoked on every node entry to keep the task's registry
	// record fresh. May be nil.
	heartbeat func(taskID string)
}

// NewEngine builds an engine. metrics and heartbeat may be nil.
func NewEngine(gw LLMGateway, sb sandbox.Gateway, cfg Config, logger logging.Logger, m *metrics.Metrics, heartbeat func(taskID string)) *Engine {
	return &Engine{
		llm:       gw,
		sandbox:   sb,
		cfg:       cfg.withDefaults(),
		logger:    logging.OrNop(logger),
		metrics:   m,
		heartbeat: heartbeat,
	}
}

// Run drives the state machine to termination. Internal task failures (step
// budget, sandbox trouble) terminate with a failure TaskAnswer and a nil
// error; LLM gateway errors abort the run and are returned to the caller.
func (e *Engine) Run(ctx context.Context, state *State) (*llm.TaskAnswer, error) {
	node := NodePlanning
	for visits := 0; node != nodeEnd; visits++ {
		if visits >= e.cfg.MaxGraphSteps {
			// Forced landing: the answering node still runs, once.
			e.logger.Warn("task %s: graph step budget exhausted after %d visits", state.TaskID, visits)
			state.Signal = SignalTaskFailed
			state.FailureReason = "graph step budget exhausted"
			if err := e.runAnswering(ctx, state); err != nil {
				return nil, err
			}
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e.enterNode(state, node)
		next, err := e.runNode(ctx, node, state)
		if err != nil {
			return nil, err
		}
		node = next
	}
	return state.TaskAnswer, nil
}

func (e *Engine) enterNode(state *State, node Node) {
	if e.heartbeat != nil {
		e.heartbeat(state.TaskID)
	}
	if e.metrics != nil {
		e.metrics.NodeVisits.WithLabelValues(string(node)).Inc()
	}
	e.logger.Debug("task %s: node %s (step=%d attempts=%d gen=%d)",
		state.TaskID, node, state.StepNumber, state.StepAttempts, state.CodeGenerationAttempts)
}

func (e *Engine) runNode(ctx context.Context, node Node, state *State) (Node, error) {
	switch node {
	case NodePlanning:
		return e.runPlanning(ctx, state)
	case NodeCodePlanning:
		return e.runCodePlanning(ctx, state)
	case NodeCodeGeneration:
		return e.runCodeGeneration(ctx, state)
	case NodeCodeExecution:
		return e.runCodeExecution(ctx, state)
	case NodeExecutionObserver:
		return e.runExecutionObserver(ctx, state)
	case NodeReflection:
		return e.runReflection(ctx, state)
	case NodeAnswering:
		if err := e.runAnswering(ctx, state); err != nil {
			return nodeEnd, err
		}
		return nodeEnd, nil
	}
	return nodeEnd, fmt.Errorf("unknown workflow node %q", node)
}
