package agent

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/bio-xyz/bio-data-analysis/internal/llm"
	"github.com/bio-xyz/bio-data-analysis/internal/notebook"
	"github.com/bio-xyz/bio-data-analysis/internal/textutil"
)

func (e *Engine) runPlanning(ctx context.Context, state *State) (Node, error) {
	decision, err := e.llm.PlanningDecision(ctx, state.taskContext())
	if err != nil {
		return nodeEnd, err
	}
	state.TaskRationale = decision.Rationale
	state.Signal = ActionSignal(decision.Signal)

	if state.Signal == SignalCodePlanning {
		return NodeCodePlanning, nil
	}
	return NodeAnswering, nil
}

func (e *Engine) runCodePlanning(ctx context.Context, state *State) (Node, error) {
	if state.StepAttempts > e.cfg.MaxStepRetries {
		state.archiveCurrentStep()
		state.Signal = SignalTaskFailed
		state.FailureReason = fmt.Sprintf(
			"Exceeded maximum attempts for %s. Try simplifying the task or breaking it into smaller steps.",
			state.CurrentStepGoal)
		return NodeAnswering, nil
	}

	decision, err := e.llm.CodePlanningDecision(ctx, state.taskContext(), state.CurrentStepGoal, state.StepAttempts)
	if err != nil {
		return nodeEnd, err
	}
	state.Signal = ActionSignal(decision.Signal)

	switch state.Signal {
	case SignalIterateCurrent:
		state.StepAttempts++
		// History keeps the goals already tried, not the new one.
		state.recordGoal(state.CurrentStepGoal)
		state.CurrentStepGoal = decision.Goal
		state.CurrentStepDescription = decision.Description
		state.resetCodeState()
		return NodeCodeGeneration, nil

	case SignalProceedToNext:
		hadStep := state.CurrentStepGoal != ""
		state.archiveCurrentStep()
		if hadStep {
			state.StepNumber++
		}
		state.StepAttempts = 0
		state.GoalHistory = nil
		state.CurrentStepGoal = decision.Goal
		state.CurrentStepDescription = decision.Description
		state.recordGoal(decision.Goal)
		state.resetCodeState()
		return NodeCodeGeneration, nil

	case SignalTaskCompleted:
		state.archiveCurrentStep()
		return NodeAnswering, nil

	case SignalTaskFailed:
		state.archiveCurrentStep()
		state.FailureReason = decision.FailureReason
		if state.FailureReason == "" {
			state.FailureReason = "The planner determined the task cannot be completed."
		}
		return NodeAnswering, nil
	}
	return nodeEnd, fmt.Errorf("unexpected code planning signal %q", decision.Signal)
}

func (e *Engine) runCodeGeneration(ctx context.Context, state *State) (Node, error) {
	code, err := e.llm.StepCode(ctx, state.taskContext(),
		state.CurrentStepGoal, state.CurrentStepDescription, state.LastExecutionError)
	if err != nil {
		return nodeEnd, err
	}
	state.GeneratedCode = code.Code
	state.CodeGenerationAttempts++
	state.Signal = SignalExecuteCode
	return NodeCodeExecution, nil
}

func (e *Engine) runCodeExecution(ctx context.Context, state *State) (Node, error) {
	result, err := e.sandbox.ExecuteCode(ctx, state.SandboxID, state.GeneratedCode)
	if err != nil {
		// Gateway trouble is a step failure, never an engine abort.
		e.logger.Warn("task %s: sandbox execution error: %v", state.TaskID, err)
		e.countSandboxCall("execute", "error")
		state.ExecutionResult = nil
		state.LastExecutionOutput = ""
		state.LastExecutionError = e.truncate(err.Error())
		state.Signal = SignalExecuteFailed
	} else {
		state.ExecutionResult = result
		state.LastExecutionOutput = e.truncate(result.CombinedOutput())
		if result.Failed() {
			e.countSandboxCall("execute", "failed")
			state.LastExecutionError = e.truncate(result.Error.String())
			state.Signal = SignalExecuteFailed
		} else {
			e.countSandboxCall("execute", "ok")
			state.LastExecutionError = ""
			state.Signal = SignalExecuteSuccess
		}
	}

	if state.Signal == SignalExecuteSuccess {
		return NodeExecutionObserver, nil
	}
	if state.CodeGenerationAttempts >= e.cfg.MaxCodeRetries {
		// Out of generation retries: let the observer see the failure so the
		// planner can escalate.
		return NodeExecutionObserver, nil
	}
	return NodeCodeGeneration, nil
}

func (e *Engine) runExecutionObserver(ctx context.Context, state *State) (Node, error) {
	decision, err := e.llm.ObserveExecution(ctx, state.taskContext(),
		state.CurrentStepGoal, state.LastExecutionOutput, state.LastExecutionError)
	if err != nil {
		return nodeEnd, err
	}
	obs := decision.Observations
	for i := range obs {
		if obs[i].StepNumber == 0 {
			obs[i].StepNumber = state.StepNumber
		}
		if obs[i].RawOutput == "" {
			obs[i].RawOutput = state.LastExecutionOutput
		}
	}
	state.Observations.AppendCurrent(obs)
	state.CurrentStepSuccess = decision.ExecutionSuccess

	if state.CurrentStepSuccess {
		return NodeReflection, nil
	}
	return NodeCodePlanning, nil
}

func (e *Engine) runReflection(ctx context.Context, state *State) (Node, error) {
	decision, err := e.llm.Reflect(ctx, state.Observations.Snapshot(), state.Observations.World())
	if err != nil {
		return nodeEnd, err
	}
	state.Observations.ApplyReflection(decision.Proposed())
	return NodeCodePlanning, nil
}

func (e *Engine) runAnswering(ctx context.Context, state *State) error {
	switch state.Signal {
	case SignalClarification:
		resp, err := e.llm.Clarification(ctx, state.taskContext())
		if err != nil {
			return err
		}
		// A task that needs clarification did not complete.
		state.TaskAnswer = &llm.TaskAnswer{Answer: resp.Questions, Success: false}

	case SignalGeneralAnswer:
		resp, err := e.llm.GeneralAnswer(ctx, state.taskContext())
		if err != nil {
			return err
		}
		state.TaskAnswer = &llm.TaskAnswer{Answer: resp.Answer, Success: true}

	default:
		failed := state.Signal == SignalTaskFailed
		tree, treeErr := e.sandbox.ListTree(ctx, state.SandboxID, e.cfg.WorkingDirectory)
		if treeErr != nil {
			e.logger.Warn("task %s: working directory listing unavailable: %v", state.TaskID, treeErr)
			tree = ""
		}
		answer, err := e.llm.TaskAnswer(ctx, state.taskContext(), failed, state.FailureReason, tree)
		if err != nil {
			return err
		}
		if failed {
			answer.Success = false
		}
		for i := range answer.Artifacts {
			answer.Artifacts[i].FullPath = e.absPath(answer.Artifacts[i].FullPath)
		}
		e.attachNotebook(ctx, state, answer)
		state.TaskAnswer = answer
	}

	state.Signal = SignalFinalAnswer
	return nil
}

// attachNotebook renders the step transcript as a notebook, stores it in the
// sandbox and appends it as an extra FILE artifact. Failures are logged and
// skipped; the answer stands without the notebook.
func (e *Engine) attachNotebook(ctx context.Context, state *State, answer *llm.TaskAnswer) {
	if len(state.CompletedSteps) == 0 {
		return
	}
	b := notebook.New(state.TaskDescription, state.TaskRationale)
	for i, cs := range state.CompletedSteps {
		b.AddStep(i+1, cs.Goal, cs.Description, cs.Code, cs.ExecutionResult)
	}
	data, err := b.JSON()
	if err != nil {
		e.logger.Warn("task %s: notebook rendering failed: %v", state.TaskID, err)
		return
	}
	savedPath, err := e.sandbox.SaveNotebook(ctx, state.SandboxID, data, e.cfg.NotebookFilename)
	if err != nil {
		e.logger.Warn("task %s: notebook save failed: %v", state.TaskID, err)
		return
	}
	description := answer.NotebookDescription
	if description == "" {
		description = "Notebook with the executed analysis steps"
	}
	answer.Artifacts = append(answer.Artifacts, llm.ArtifactDecision{
		Type:        llm.ArtifactFile,
		Description: description,
		FullPath:    savedPath,
	})
}

func (e *Engine) truncate(text string) string {
	return textutil.TruncateOutput(text, e.cfg.MaxOutputChars, e.cfg.OutputSplitRatio)
}

func (e *Engine) absPath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return path.Join(e.cfg.WorkingDirectory, p)
}

func (e *Engine) countSandboxCall(op, outcome string) {
	if e.metrics != nil {
		e.metrics.SandboxCalls.WithLabelValues(op, outcome).Inc()
	}
}
