package agent

import (
	"github.com/bio-xyz/bio-data-analysis/internal/llm"
	"github.com/bio-xyz/bio-data-analysis/internal/observation"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
)

// CompletedStep is one archived step. Immutable once appended.
type CompletedStep struct {
	StepNumber      int
	Goal            string
	Description     string
	Code            string
	ExecutionResult *sandbox.ExecutionResult
	Success         bool
	Observations    []observation.StepObservation
}

// State is the mutable task state threaded through the workflow nodes. It is
// owned by exactly one engine run; nothing in it is shared across goroutines.
type State struct {
	TaskID          string
	TaskDescription string
	// DataFiles are sandbox paths of the uploaded inputs.
	DataFiles []string
	SandboxID string

	TaskRationale string
	Signal        ActionSignal

	CurrentStepGoal        string
	CurrentStepDescription string
	// GoalHistory lists the goals already tried for the current step, in
	// insertion order; a replaced goal joins it when the planner iterates.
	// Reset when a step closes.
	GoalHistory    []string
	StepNumber     int
	StepAttempts   int
	CompletedSteps []CompletedStep

	GeneratedCode          string
	CodeGenerationAttempts int

	ExecutionResult     *sandbox.ExecutionResult
	LastExecutionOutput string
	LastExecutionError  string

	CurrentStepSuccess bool
	Observations       *observation.Store

	FailureReason string
	TaskAnswer    *llm.TaskAnswer
}

// NewState builds the initial state for one task run.
func NewState(taskID, taskDescription, sandboxID string, dataFiles []string) *State {
	return &State{
		TaskID:          taskID,
		TaskDescription: taskDescription,
		SandboxID:       sandboxID,
		DataFiles:       dataFiles,
		Observations:    observation.NewStore(),
	}
}

// recordGoal appends goal to the history, deduplicated by insertion. An empty
// goal (no step in flight yet) is not history.
func (s *State) recordGoal(goal string) {
	if goal == "" {
		return
	}
	for _, g := range s.GoalHistory {
		if g == goal {
			return
		}
	}
	s.GoalHistory = append(s.GoalHistory, goal)
}

// archiveCurrentStep closes the step in flight as a CompletedStep and clears
// the per-step observation buffer. A step with no goal is nothing to archive.
func (s *State) archiveCurrentStep() {
	if s.CurrentStepGoal == "" {
		return
	}
	s.CompletedSteps = append(s.CompletedSteps, CompletedStep{
		StepNumber:      s.StepNumber,
		Goal:            s.CurrentStepGoal,
		Description:     s.CurrentStepDescription,
		Code:            s.GeneratedCode,
		ExecutionResult: s.ExecutionResult,
		Success:         s.LastExecutionError == "",
		Observations:    s.Observations.Snapshot(),
	})
	s.Observations.Reset()
}

// resetCodeState clears generation and execution residue when a step begins
// or retries with a fresh goal.
func (s *State) resetCodeState() {
	s.CodeGenerationAttempts = 0
	s.GeneratedCode = ""
	s.ExecutionResult = nil
	s.LastExecutionOutput = ""
	s.LastExecutionError = ""
}

// taskContext renders the state for prompt building.
func (s *State) taskContext() *llm.TaskContext {
	steps := make([]llm.StepSummary, 0, len(s.CompletedSteps))
	for _, cs := range s.CompletedSteps {
		steps = append(steps, llm.StepSummary{
			StepNumber:  cs.StepNumber,
			Goal:        cs.Goal,
			Description: cs.Description,
			Code:        cs.Code,
			Success:     cs.Success,
			Output:      cs.ExecutionResult.CombinedOutput(),
		})
	}
	return &llm.TaskContext{
		TaskDescription: s.TaskDescription,
		Rationale:       s.TaskRationale,
		DataFiles:       s.DataFiles,
		CompletedSteps:  steps,
		GoalHistory:     s.GoalHistory,
		World:           s.Observations.World(),
	}
}
