package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bio-xyz/bio-data-analysis/internal/llm"
	"github.com/bio-xyz/bio-data-analysis/internal/observation"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
)

// scriptedGateway replays canned decisions in order. Each queue keeps
// returning its last element once exhausted, so loop scenarios stay scripted.
type scriptedGateway struct {
	planning     []*llm.PlanningDecision
	codePlanning []*llm.CodePlanningDecision
	code         []*llm.PythonCode
	observe      []*llm.ExecutionObserverDecision
	reflect      []*llm.ReflectionDecision
	clarify      []*llm.ClarificationResponse
	general      []*llm.GeneralAnswerResponse
	answer       []*llm.TaskAnswer

	observeCalls int
	answerCalls  int
	lastTree     string
}

func pop[T any](queue *[]*T) *T {
	if len(*queue) == 0 {
		return nil
	}
	head := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return head
}

func (g *scriptedGateway) PlanningDecision(context.Context, *llm.TaskContext) (*llm.PlanningDecision, error) {
	return pop(&g.planning), nil
}

func (g *scriptedGateway) CodePlanningDecision(context.Context, *llm.TaskContext, string, int) (*llm.CodePlanningDecision, error) {
	return pop(&g.codePlanning), nil
}

func (g *scriptedGateway) StepCode(context.Context, *llm.TaskContext, string, string, string) (*llm.PythonCode, error) {
	return pop(&g.code), nil
}

func (g *scriptedGateway) ObserveExecution(context.Context, *llm.TaskContext, string, string, string) (*llm.ExecutionObserverDecision, error) {
	g.observeCalls++
	return pop(&g.observe), nil
}

func (g *scriptedGateway) Reflect(context.Context, []observation.StepObservation, []observation.StepObservation) (*llm.ReflectionDecision, error) {
	return pop(&g.reflect), nil
}

func (g *scriptedGateway) Clarification(context.Context, *llm.TaskContext) (*llm.ClarificationResponse, error) {
	return pop(&g.clarify), nil
}

func (g *scriptedGateway) GeneralAnswer(context.Context, *llm.TaskContext) (*llm.GeneralAnswerResponse, error) {
	return pop(&g.general), nil
}

func (g *scriptedGateway) TaskAnswer(_ context.Context, _ *llm.TaskContext, _ bool, _ string, tree string) (*llm.TaskAnswer, error) {
	g.answerCalls++
	g.lastTree = tree
	return pop(&g.answer), nil
}

func newTestEngine(gw *scriptedGateway, sb sandbox.Gateway, cfg Config) *Engine {
	return NewEngine(gw, sb, cfg, nil, nil, nil)
}

func TestDirectAnswer(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalGeneralAnswer, Rationale: "arithmetic"}},
		general:  []*llm.GeneralAnswerResponse{{Answer: "4"}},
	}
	sb := sandbox.NewMockGateway()
	engine := newTestEngine(gw, sb, Config{})

	state := NewState("t1", "What is 2+2?", "sbx-1", nil)
	answer, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, "4", answer.Answer)
	assert.True(t, answer.Success)
	assert.Empty(t, answer.Artifacts)
	assert.Empty(t, sb.ExecutedCode, "no code runs for a direct answer")
}

func TestClarification(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalClarification, Rationale: "ambiguous"}},
		clarify:  []*llm.ClarificationResponse{{Questions: "Which dataset do you mean?"}},
	}
	engine := newTestEngine(gw, sandbox.NewMockGateway(), Config{})

	state := NewState("t1", "analyze it", "sbx-1", nil)
	answer, err := engine.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "Which dataset")
	assert.False(t, answer.Success, "a task that still needs clarification did not complete")
}

func TestSingleStepSuccess(t *testing.T) {
	printed := observation.StepObservation{
		Title: "printed", Summary: "hello", Kind: observation.KindObservation,
		Source: observation.SourceData, Importance: 3, Relevance: 5,
	}
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning, Rationale: "needs code"}},
		codePlanning: []*llm.CodePlanningDecision{
			{Signal: llm.SignalIterateCurrent, Goal: "print hello"},
			{Signal: llm.SignalTaskCompleted},
		},
		code:    []*llm.PythonCode{{Code: "print('hello')"}},
		observe: []*llm.ExecutionObserverDecision{{ExecutionSuccess: true, Observations: []observation.StepObservation{printed}}},
		reflect: []*llm.ReflectionDecision{{DataObservations: []observation.StepObservation{printed}}},
		answer:  []*llm.TaskAnswer{{Answer: "The code printed hello.", Success: true, NotebookDescription: "hello run"}},
	}
	sb := sandbox.NewMockGateway()
	sb.ExecuteResults = []*sandbox.ExecutionResult{{Stdout: []string{"hello"}}}
	sb.Tree = "analysis.ipynb"
	engine := newTestEngine(gw, sb, Config{})

	state := NewState("t1", "print hello", "sbx-1", nil)
	answer, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, answer.Success)
	assert.Contains(t, answer.Answer, "hello")

	require.Len(t, state.CompletedSteps, 1)
	step := state.CompletedSteps[0]
	assert.Equal(t, "print hello", step.Goal)
	assert.True(t, step.Success)
	require.Len(t, step.Observations, 1)

	// The notebook lands in the sandbox and is attached as a FILE artifact.
	require.Len(t, answer.Artifacts, 1)
	assert.Equal(t, llm.ArtifactFile, answer.Artifacts[0].Type)
	assert.Equal(t, "hello run", answer.Artifacts[0].Description)
	require.Len(t, sb.SavedNotebooks, 1)

	// The reflected observation survived into the world view.
	world := state.Observations.World()
	require.Len(t, world, 1)
	assert.Equal(t, "printed", world[0].Title)
}

func TestRetryThenSucceed(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning}},
		codePlanning: []*llm.CodePlanningDecision{
			{Signal: llm.SignalIterateCurrent, Goal: "do the thing"},
			{Signal: llm.SignalTaskCompleted},
		},
		code: []*llm.PythonCode{
			{Code: "broken()"},
			{Code: "fixed()"},
		},
		observe: []*llm.ExecutionObserverDecision{{ExecutionSuccess: true}},
		reflect: []*llm.ReflectionDecision{{}},
		answer:  []*llm.TaskAnswer{{Answer: "done", Success: true}},
	}
	sb := sandbox.NewMockGateway()
	sb.ExecuteResults = []*sandbox.ExecutionResult{
		{Error: &sandbox.ExecutionError{Name: "NameError", Value: "broken is not defined"}},
		{Stdout: []string{"ok"}},
	}
	engine := newTestEngine(gw, sb, Config{})

	state := NewState("t1", "task", "sbx-1", nil)
	answer, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, answer.Success)
	assert.Equal(t, 2, state.CodeGenerationAttempts)
	require.Len(t, state.CompletedSteps, 1)
	assert.True(t, state.CompletedSteps[0].Success)
	assert.Len(t, sb.ExecutedCode, 2)
}

func TestStepBudgetExhausted(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning}},
		// The planner never moves on; the queue keeps replaying ITERATE.
		codePlanning: []*llm.CodePlanningDecision{{Signal: llm.SignalIterateCurrent, Goal: "same goal"}},
		code:         []*llm.PythonCode{{Code: "pass"}},
		observe:      []*llm.ExecutionObserverDecision{{ExecutionSuccess: false}},
		answer:       []*llm.TaskAnswer{{Answer: "report", Success: true}},
	}
	engine := newTestEngine(gw, sandbox.NewMockGateway(), Config{MaxStepRetries: 3})

	state := NewState("t1", "task", "sbx-1", nil)
	answer, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	assert.False(t, answer.Success, "engine overrides the model's success flag on failure")
	assert.True(t, strings.HasPrefix(state.FailureReason, "Exceeded maximum attempts"), state.FailureReason)
	assert.Equal(t, 4, state.StepAttempts, "attempts == max is still allowed; max+1 fails")
}

func TestGraphStepBudget(t *testing.T) {
	gw := &scriptedGateway{
		planning:     []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning}},
		codePlanning: []*llm.CodePlanningDecision{{Signal: llm.SignalIterateCurrent, Goal: "loop"}},
		code:         []*llm.PythonCode{{Code: "pass"}},
		observe:      []*llm.ExecutionObserverDecision{{ExecutionSuccess: false}},
		answer:       []*llm.TaskAnswer{{Answer: "report", Success: true}},
	}
	engine := newTestEngine(gw, sandbox.NewMockGateway(), Config{
		MaxStepRetries: 1000,
		MaxGraphSteps:  10,
	})

	state := NewState("t1", "task", "sbx-1", nil)
	answer, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	assert.False(t, answer.Success)
	assert.Equal(t, "graph step budget exhausted", state.FailureReason)
}

func TestMaxCodeRetriesRoutesToObserver(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning}},
		codePlanning: []*llm.CodePlanningDecision{
			{Signal: llm.SignalIterateCurrent, Goal: "doomed"},
			{Signal: llm.SignalTaskFailed, FailureReason: "cannot execute"},
		},
		code:    []*llm.PythonCode{{Code: "broken()"}},
		observe: []*llm.ExecutionObserverDecision{{ExecutionSuccess: false}},
		answer:  []*llm.TaskAnswer{{Answer: "report", Success: true}},
	}
	sb := sandbox.NewMockGateway()
	sb.ExecuteErr = assert.AnError
	engine := newTestEngine(gw, sb, Config{MaxCodeRetries: 2})

	state := NewState("t1", "task", "sbx-1", nil)
	answer, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	assert.False(t, answer.Success)
	assert.Equal(t, "cannot execute", state.FailureReason)
	// Two generation attempts, then the failing execution goes to the
	// observer instead of back to generation.
	assert.Len(t, sb.ExecutedCode, 2)
	assert.Equal(t, 1, gw.observeCalls)
}

func TestSandboxErrorRecordedNotRaised(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning}},
		codePlanning: []*llm.CodePlanningDecision{
			{Signal: llm.SignalIterateCurrent, Goal: "g"},
			{Signal: llm.SignalTaskFailed},
		},
		code:    []*llm.PythonCode{{Code: "x"}},
		observe: []*llm.ExecutionObserverDecision{{ExecutionSuccess: false}},
		answer:  []*llm.TaskAnswer{{Answer: "report"}},
	}
	sb := sandbox.NewMockGateway()
	sb.ExecuteErr = assert.AnError
	engine := newTestEngine(gw, sb, Config{MaxCodeRetries: 1})

	state := NewState("t1", "task", "sbx-1", nil)
	_, err := engine.Run(context.Background(), state)
	require.NoError(t, err, "sandbox errors are recorded in state, not raised")
	assert.NotEmpty(t, state.LastExecutionError)
}

func TestIterateRecordsPreviousGoal(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning}},
		codePlanning: []*llm.CodePlanningDecision{
			{Signal: llm.SignalIterateCurrent, Goal: "first"},
			{Signal: llm.SignalIterateCurrent, Goal: "second"},
			{Signal: llm.SignalTaskCompleted},
		},
		code:    []*llm.PythonCode{{Code: "pass"}},
		observe: []*llm.ExecutionObserverDecision{{ExecutionSuccess: false}},
		answer:  []*llm.TaskAnswer{{Answer: "done", Success: true}},
	}
	engine := newTestEngine(gw, sandbox.NewMockGateway(), Config{MaxStepRetries: 5})

	state := NewState("t1", "task", "sbx-1", nil)
	_, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	// The replaced goal is history; the one in flight is not.
	assert.Equal(t, []string{"first"}, state.GoalHistory)
	require.Len(t, state.CompletedSteps, 1)
	assert.Equal(t, "second", state.CompletedSteps[0].Goal)
}

func TestProceedAdvancesStepNumber(t *testing.T) {
	gw := &scriptedGateway{
		planning: []*llm.PlanningDecision{{Signal: llm.SignalCodePlanning}},
		codePlanning: []*llm.CodePlanningDecision{
			{Signal: llm.SignalIterateCurrent, Goal: "first"},
			{Signal: llm.SignalProceedToNext, Goal: "second"},
			{Signal: llm.SignalTaskCompleted},
		},
		code:    []*llm.PythonCode{{Code: "pass"}},
		observe: []*llm.ExecutionObserverDecision{{ExecutionSuccess: true}},
		reflect: []*llm.ReflectionDecision{{}},
		answer:  []*llm.TaskAnswer{{Answer: "done", Success: true}},
	}
	engine := newTestEngine(gw, sandbox.NewMockGateway(), Config{})

	state := NewState("t1", "task", "sbx-1", nil)
	_, err := engine.Run(context.Background(), state)
	require.NoError(t, err)

	require.Len(t, state.CompletedSteps, 2)
	assert.Equal(t, 0, state.CompletedSteps[0].StepNumber)
	assert.Equal(t, 1, state.CompletedSteps[1].StepNumber)
	assert.Equal(t, "first", state.CompletedSteps[0].Goal)
	assert.Equal(t, "second", state.CompletedSteps[1].Goal)
	// Goal history resets when a step closes.
	assert.Equal(t, []string{"second"}, state.GoalHistory)
}
