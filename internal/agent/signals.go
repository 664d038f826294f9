// Package agent implements the workflow engine: a deterministic state
// machine that drives planning, code generation, sandboxed execution,
// observation and reflection until the task terminates with an answer.
package agent

// Node identifies one state of the workflow machine.
type Node string

const (
	NodePlanning          Node = "PLANNING"
	NodeCodePlanning      Node = "CODE_PLANNING"
	NodeCodeGeneration    Node = "CODE_GENERATION"
	NodeCodeExecution     Node = "CODE_EXECUTION"
	NodeExecutionObserver Node = "EXECUTION_OBSERVER"
	NodeReflection        Node = "REFLECTION"
	NodeAnswering         Node = "ANSWERING"
	nodeEnd               Node = "END"
)

// ActionSignal is written by each node and, combined with counters in the
// state, fully determines the next node.
type ActionSignal string

const (
	SignalCodePlanning    ActionSignal = "CODE_PLANNING"
	SignalGeneralAnswer   ActionSignal = "GENERAL_ANSWER"
	SignalClarification   ActionSignal = "CLARIFICATION"
	SignalIterateCurrent  ActionSignal = "ITERATE_CURRENT_STEP"
	SignalProceedToNext   ActionSignal = "PROCEED_TO_NEXT_STEP"
	SignalTaskCompleted   ActionSignal = "TASK_COMPLETED"
	SignalTaskFailed      ActionSignal = "TASK_FAILED"
	SignalExecuteCode     ActionSignal = "EXECUTE_CODE"
	SignalExecuteSuccess  ActionSignal = "CODE_EXECUTION_SUCCESS"
	SignalExecuteFailed   ActionSignal = "CODE_EXECUTION_FAILED"
	SignalFinalAnswer     ActionSignal = "FINAL_ANSWER"
)
