package llm

import (
	"fmt"
	"strings"

	"github.com/bio-xyz/bio-data-analysis/internal/jsonx"
	"github.com/bio-xyz/bio-data-analysis/internal/observation"
)

// StepSummary is the prompt-facing view of one archived step.
type StepSummary struct {
	StepNumber  int
	Goal        string
	Description string
	Code        string
	Success     bool
	Output      string
}

// TaskContext carries everything the prompts render about the task in flight.
type TaskContext struct {
	TaskDescription string
	Rationale       string
	DataFiles       []string
	CompletedSteps  []StepSummary
	GoalHistory     []string
	World           []observation.StepObservation
}

const (
	planningSystemPrompt = `You are a data analysis planner. Classify the user's request:
- CODE_PLANNING if it needs code execution against data,
- GENERAL_ANSWER if you can answer directly from knowledge,
- CLARIFICATION if the request is too ambiguous to act on.
Reply as JSON: {"signal": "...", "rationale": "..."}.`

	codePlanningSystemPrompt = `You are driving an iterative data analysis. Given the work so far, decide the next move:
- ITERATE_CURRENT_STEP to retry the current step with a new, distinct goal,
- PROCEED_TO_NEXT_STEP to archive the current step and begin the next,
- TASK_COMPLETED when the task is fully answered by the completed steps,
- TASK_FAILED when no further step can help.
Reply as JSON: {"signal": "...", "goal": "...", "description": "...", "failure_reason": "..."}.
ITERATE and PROCEED require a goal; never repeat a goal from the goal history verbatim.`

	codeGenerationSystemPrompt = `You write one self-contained Python code blob for a Jupyter-style sandbox.
Prior cells have already run; their variables are in scope. Print or display what matters.
Reply as JSON: {"code": "..."}.`

	observerSystemPrompt = `You read a code execution transcript and extract evidence.
Each observation has title, summary, kind ("observation" or "rule"), source ("data", "spec" or "user"),
importance 1-5 and relevance 1-5. Rules are durable constraints; observations are findings.
Reply as JSON: {"execution_success": true|false, "observations": [...]}.`

	reflectionSystemPrompt = `You consolidate evidence across steps. Merge the new step observations into the
existing world view: deduplicate, keep every rule, prefer authoritative sources, drop only weak noise.
Reply as JSON: {"rules": [...], "data_observations": [...]} with the same observation fields.`

	clarificationSystemPrompt = `The request was too ambiguous to act on. Ask the user the minimal set of
questions needed to proceed. Reply as JSON: {"questions": "..."}.`

	generalAnswerSystemPrompt = `Answer the user's question directly in Markdown.
Reply as JSON: {"answer": "..."}.`

	taskAnswerSystemPrompt = `Write the final report for a completed or failed analysis task.
Summarize what was done and found, in Markdown. List artifacts worth returning to the user,
each with type FILE or FOLDER, a description and its full path in the working directory.
Reply as JSON: {"notebook_description": "...", "answer": "...", "success": true|false, "artifacts": [{"type": "...", "description": "...", "full_path": "..."}]}.`
)

func (tc *TaskContext) renderTask(b *strings.Builder) {
	b.WriteString("# Task\n")
	b.WriteString(tc.TaskDescription)
	b.WriteString("\n")
	if tc.Rationale != "" {
		fmt.Fprintf(b, "\n# Approach\n%s\n", tc.Rationale)
	}
	if len(tc.DataFiles) > 0 {
		b.WriteString("\n# Data files\n")
		for _, f := range tc.DataFiles {
			fmt.Fprintf(b, "- %s\n", f)
		}
	}
}

func (tc *TaskContext) renderSteps(b *strings.Builder) {
	if len(tc.CompletedSteps) == 0 {
		return
	}
	b.WriteString("\n# Completed steps\n")
	for _, s := range tc.CompletedSteps {
		status := "ok"
		if !s.Success {
			status = "failed"
		}
		fmt.Fprintf(b, "\n## Step %d (%s): %s\n", s.StepNumber, status, s.Goal)
		if s.Description != "" {
			b.WriteString(s.Description)
			b.WriteString("\n")
		}
		if s.Output != "" {
			fmt.Fprintf(b, "Output:\n%s\n", s.Output)
		}
	}
}

func (tc *TaskContext) renderWorld(b *strings.Builder) {
	rules, data := observation.Split(tc.World)
	if len(rules) > 0 {
		b.WriteString("\n# Rules\n")
		for _, o := range rules {
			fmt.Fprintf(b, "- [%s] %s: %s\n", o.Source, o.Title, o.Summary)
		}
	}
	if len(data) > 0 {
		b.WriteString("\n# Observations\n")
		for _, o := range data {
			fmt.Fprintf(b, "- [%s, i=%d r=%d] %s: %s\n", o.Source, o.Importance, o.Relevance, o.Title, o.Summary)
		}
	}
}

func (tc *TaskContext) planningPrompt() string {
	var b strings.Builder
	tc.renderTask(&b)
	return b.String()
}

func (tc *TaskContext) codePlanningPrompt(currentGoal string, stepAttempts int) string {
	var b strings.Builder
	tc.renderTask(&b)
	tc.renderSteps(&b)
	tc.renderWorld(&b)
	if currentGoal != "" {
		fmt.Fprintf(&b, "\n# Current step\nGoal: %s\nAttempts so far: %d\n", currentGoal, stepAttempts)
	}
	if len(tc.GoalHistory) > 0 {
		b.WriteString("\n# Goal history\n")
		for _, g := range tc.GoalHistory {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	return b.String()
}

func (tc *TaskContext) codeGenerationPrompt(goal, description, lastError string) string {
	var b strings.Builder
	tc.renderTask(&b)
	if transcript := tc.notebookTranscript(); transcript != "" {
		fmt.Fprintf(&b, "\n# Notebook so far\n```python\n%s\n```\n", transcript)
	}
	fmt.Fprintf(&b, "\n# Current step\nGoal: %s\n", goal)
	if description != "" {
		fmt.Fprintf(&b, "Description: %s\n", description)
	}
	if lastError != "" {
		fmt.Fprintf(&b, "\n# Previous attempt failed\n%s\nFix the problem and try again.\n", lastError)
	}
	return b.String()
}

// notebookTranscript concatenates the code of all completed steps, the way
// the cells would appear in the notebook.
func (tc *TaskContext) notebookTranscript() string {
	parts := make([]string, 0, len(tc.CompletedSteps))
	for _, s := range tc.CompletedSteps {
		if s.Code != "" {
			parts = append(parts, s.Code)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (tc *TaskContext) observerPrompt(goal, transcript, execError string) string {
	var b strings.Builder
	tc.renderTask(&b)
	fmt.Fprintf(&b, "\n# Step goal\n%s\n", goal)
	fmt.Fprintf(&b, "\n# Execution transcript\n%s\n", transcript)
	if execError != "" {
		fmt.Fprintf(&b, "\n# Execution error\n%s\n", execError)
	}
	return b.String()
}

func reflectionPrompt(current, world []observation.StepObservation) string {
	var b strings.Builder
	b.WriteString("# Existing world view\n")
	writeObservationsJSON(&b, world)
	b.WriteString("\n# New step observations\n")
	writeObservationsJSON(&b, current)
	return b.String()
}

func writeObservationsJSON(b *strings.Builder, obs []observation.StepObservation) {
	if len(obs) == 0 {
		b.WriteString("[]\n")
		return
	}
	data, err := jsonx.MarshalIndent(obs, "", " ")
	if err != nil {
		b.WriteString("[]\n")
		return
	}
	b.Write(data)
	b.WriteString("\n")
}

func (tc *TaskContext) taskAnswerPrompt(failed bool, failureReason, workingTree string) string {
	var b strings.Builder
	tc.renderTask(&b)
	tc.renderSteps(&b)
	tc.renderWorld(&b)
	if failed {
		b.WriteString("\n# Outcome\nThe task FAILED.\n")
		if failureReason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", failureReason)
		}
	} else {
		b.WriteString("\n# Outcome\nThe task completed.\n")
	}
	if workingTree != "" {
		fmt.Fprintf(&b, "\n# Working directory\n%s\n", workingTree)
	}
	return b.String()
}
