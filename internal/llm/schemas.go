package llm

import (
	"fmt"
	"strings"

	"github.com/bio-xyz/bio-data-analysis/internal/observation"
)

// Signal values the model may emit from the planning nodes. The engine owns
// the transition table; these constants only gate schema validation.
const (
	SignalCodePlanning   = "CODE_PLANNING"
	SignalGeneralAnswer  = "GENERAL_ANSWER"
	SignalClarification  = "CLARIFICATION"
	SignalIterateCurrent = "ITERATE_CURRENT_STEP"
	SignalProceedToNext  = "PROCEED_TO_NEXT_STEP"
	SignalTaskCompleted  = "TASK_COMPLETED"
	SignalTaskFailed     = "TASK_FAILED"
)

// Artifact types the answering model may reference.
const (
	ArtifactFile   = "FILE"
	ArtifactFolder = "FOLDER"
)

// PlanningDecision classifies the incoming request.
type PlanningDecision struct {
	Signal    string `json:"signal"`
	Rationale string `json:"rationale"`
}

func (d *PlanningDecision) Validate() error {
	switch d.Signal {
	case SignalCodePlanning, SignalGeneralAnswer, SignalClarification:
		return nil
	}
	return fmt.Errorf("planning signal %q not in closed set", d.Signal)
}

// CodePlanningDecision chooses the next move for the step loop.
type CodePlanningDecision struct {
	Signal        string `json:"signal"`
	Goal          string `json:"goal,omitempty"`
	Description   string `json:"description,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (d *CodePlanningDecision) Validate() error {
	switch d.Signal {
	case SignalIterateCurrent, SignalProceedToNext:
		if strings.TrimSpace(d.Goal) == "" {
			return fmt.Errorf("signal %s requires a goal", d.Signal)
		}
		return nil
	case SignalTaskCompleted, SignalTaskFailed:
		return nil
	}
	return fmt.Errorf("code planning signal %q not in closed set", d.Signal)
}

// PythonCode is a single executable code blob.
type PythonCode struct {
	Code string `json:"code"`
}

func (d *PythonCode) Validate() error {
	if strings.TrimSpace(d.Code) == "" {
		return fmt.Errorf("empty code blob")
	}
	return nil
}

// ExecutionObserverDecision is the model's reading of an execution transcript.
type ExecutionObserverDecision struct {
	ExecutionSuccess bool                          `json:"execution_success"`
	Observations     []observation.StepObservation `json:"observations"`
}

func (d *ExecutionObserverDecision) Validate() error { return nil }

// ReflectionDecision is the proposed consolidated world view. The observation
// store enforces the merge contract on top of whatever the model proposes.
type ReflectionDecision struct {
	Rules            []observation.StepObservation `json:"rules"`
	DataObservations []observation.StepObservation `json:"data_observations"`
}

func (d *ReflectionDecision) Validate() error { return nil }

// Proposed returns the reflection output as one flat list.
func (d *ReflectionDecision) Proposed() []observation.StepObservation {
	out := make([]observation.StepObservation, 0, len(d.Rules)+len(d.DataObservations))
	out = append(out, d.Rules...)
	out = append(out, d.DataObservations...)
	return out
}

// ClarificationResponse asks the user for missing detail.
type ClarificationResponse struct {
	Questions string `json:"questions"`
}

func (d *ClarificationResponse) Validate() error {
	if strings.TrimSpace(d.Questions) == "" {
		return fmt.Errorf("empty clarification")
	}
	return nil
}

// GeneralAnswerResponse answers the task without code execution.
type GeneralAnswerResponse struct {
	Answer string `json:"answer"`
}

func (d *GeneralAnswerResponse) Validate() error {
	if strings.TrimSpace(d.Answer) == "" {
		return fmt.Errorf("empty answer")
	}
	return nil
}

// ArtifactDecision references one file or folder produced in the sandbox.
type ArtifactDecision struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	FullPath    string `json:"full_path"`
}

// TaskAnswer is the final report produced by the answering node.
type TaskAnswer struct {
	NotebookDescription string             `json:"notebook_description"`
	Answer              string             `json:"answer"`
	Success             bool               `json:"success"`
	Artifacts           []ArtifactDecision `json:"artifacts"`
}

func (d *TaskAnswer) Validate() error {
	if strings.TrimSpace(d.Answer) == "" {
		return fmt.Errorf("empty answer")
	}
	for i, a := range d.Artifacts {
		if a.Type != ArtifactFile && a.Type != ArtifactFolder {
			return fmt.Errorf("artifact %d: type %q not in closed set", i, a.Type)
		}
		if strings.TrimSpace(a.FullPath) == "" {
			return fmt.Errorf("artifact %d: empty path", i)
		}
	}
	return nil
}
