// Package sandbox provides the gateway to isolated code-execution
// environments: lifecycle, file transfer, code execution and directory
// inspection. All operations are blocking from the engine's perspective.
package sandbox

import "strings"

// Result is one rich output produced by executed code, keyed by MIME kind.
// Image payloads are base64 encoded.
type Result struct {
	Text         string `json:"text,omitempty"`
	HTML         string `json:"html,omitempty"`
	Markdown     string `json:"markdown,omitempty"`
	PNG          string `json:"png,omitempty"`
	SVG          string `json:"svg,omitempty"`
	JSON         string `json:"json,omitempty"`
	IsMainResult bool   `json:"is_main_result,omitempty"`
}

// String renders the result for transcripts, preferring plain text.
func (r Result) String() string {
	switch {
	case r.Text != "":
		return r.Text
	case r.Markdown != "":
		return r.Markdown
	case r.JSON != "":
		return r.JSON
	case r.HTML != "":
		return r.HTML
	case r.PNG != "":
		return "<image/png>"
	case r.SVG != "":
		return "<image/svg+xml>"
	}
	return ""
}

// ExecutionError describes an exception raised by executed code.
type ExecutionError struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Traceback string `json:"traceback"`
}

func (e *ExecutionError) String() string {
	if e == nil {
		return ""
	}
	if e.Traceback != "" {
		return e.Traceback
	}
	return e.Name + ": " + e.Value
}

// ExecutionResult is the structured outcome of one code execution.
type ExecutionResult struct {
	Stdout         []string        `json:"stdout"`
	Stderr         []string        `json:"stderr"`
	Results        []Result        `json:"results"`
	Error          *ExecutionError `json:"error,omitempty"`
	ExecutionCount int             `json:"execution_count,omitempty"`
}

// Failed reports whether the execution raised an error.
func (r *ExecutionResult) Failed() bool {
	return r != nil && r.Error != nil
}

// CombinedOutput renders stdout, stderr and results as a single transcript.
func (r *ExecutionResult) CombinedOutput() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	if len(r.Stdout) > 0 {
		b.WriteString(strings.Join(r.Stdout, "\n"))
	}
	if len(r.Stderr) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(strings.Join(r.Stderr, "\n"))
	}
	if len(r.Results) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[results]\n")
		parts := make([]string, 0, len(r.Results))
		for _, res := range r.Results {
			parts = append(parts, res.String())
		}
		b.WriteString(strings.Join(parts, "\n"))
	}
	return b.String()
}

// File is an in-memory file staged for upload into a sandbox.
type File struct {
	Name        string
	Content     []byte
	Size        int64
	ContentType string
}
