// Package notebook renders executed analysis steps as a Jupyter notebook
// (nbformat 4) so the transcript of a task can be replayed and inspected.
package notebook

import (
	"fmt"
	"strings"

	"github.com/bio-xyz/bio-data-analysis/internal/jsonx"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
)

// cell mirrors the nbformat v4 cell object. Source lines keep their trailing
// newlines except the last, matching what jupyter itself writes.
type cell struct {
	CellType       string           `json:"cell_type"`
	Metadata       map[string]any   `json:"metadata"`
	Source         []string         `json:"source"`
	ExecutionCount *int             `json:"execution_count,omitempty"`
	Outputs        []map[string]any `json:"outputs,omitempty"`
}

type document struct {
	Cells         []cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// Builder accumulates cells for one task's notebook.
type Builder struct {
	cells []cell
}

// New returns a Builder seeded with an intro cell for the task.
func New(taskTitle, rationale string) *Builder {
	b := &Builder{}
	intro := "# Task: " + strings.TrimSpace(taskTitle)
	if rationale = strings.TrimSpace(rationale); rationale != "" {
		intro += "\n\n" + rationale
	}
	b.AddMarkdown(intro)
	return b
}

// AddMarkdown appends a markdown cell.
func (b *Builder) AddMarkdown(text string) {
	b.cells = append(b.cells, cell{
		CellType: "markdown",
		Metadata: map[string]any{},
		Source:   sourceLines(text),
	})
}

// AddStep appends the cells for one completed step: a heading, the step
// description, the code cell and its captured outputs.
func (b *Builder) AddStep(stepNumber int, goal, description, code string, result *sandbox.ExecutionResult) {
	b.AddMarkdown(fmt.Sprintf("## Step %d: %s", stepNumber, strings.TrimSpace(goal)))
	if description = strings.TrimSpace(description); description != "" {
		b.AddMarkdown(description)
	}
	b.AddCode(code, result)
}

// AddCode appends a code cell with the outputs of its execution. A nil result
// yields a cell with no outputs.
func (b *Builder) AddCode(code string, result *sandbox.ExecutionResult) {
	c := cell{
		CellType: "code",
		Metadata: map[string]any{},
		Source:   sourceLines(code),
		Outputs:  []map[string]any{},
	}
	if result != nil {
		count := result.ExecutionCount
		if count > 0 {
			c.ExecutionCount = &count
		}
		c.Outputs = outputs(result)
	}
	b.cells = append(b.cells, c)
}

// Build assembles the notebook document.
func (b *Builder) Build() document {
	return document{
		Cells: b.cells,
		Metadata: map[string]any{
			"kernelspec": map[string]any{
				"display_name": "Python 3",
				"language":     "python",
				"name":         "python3",
			},
			"language_info": map[string]any{
				"name":    "python",
				"version": "3",
			},
		},
		NBFormat:      4,
		NBFormatMinor: 5,
	}
}

// JSON renders the notebook as indented nbformat JSON.
func (b *Builder) JSON() ([]byte, error) {
	return jsonx.MarshalIndent(b.Build(), "", " ")
}

func outputs(result *sandbox.ExecutionResult) []map[string]any {
	out := []map[string]any{}
	for _, line := range result.Stdout {
		out = append(out, streamOutput("stdout", line))
	}
	for _, line := range result.Stderr {
		out = append(out, streamOutput("stderr", line))
	}
	for _, r := range result.Results {
		data := map[string]any{}
		if r.Text != "" {
			data["text/plain"] = sourceLines(r.Text)
		}
		if r.HTML != "" {
			data["text/html"] = sourceLines(r.HTML)
		}
		if r.Markdown != "" {
			data["text/markdown"] = sourceLines(r.Markdown)
		}
		if r.PNG != "" {
			data["image/png"] = r.PNG
		}
		if r.SVG != "" {
			data["image/svg+xml"] = sourceLines(r.SVG)
		}
		if r.JSON != "" {
			data["application/json"] = jsonx.RawMessage(r.JSON)
		}
		if len(data) == 0 {
			continue
		}
		outputType := "display_data"
		o := map[string]any{
			"output_type": outputType,
			"data":        data,
			"metadata":    map[string]any{},
		}
		if r.IsMainResult {
			o["output_type"] = "execute_result"
			count := result.ExecutionCount
			if count == 0 {
				count = 1
			}
			o["execution_count"] = count
		}
		out = append(out, o)
	}
	if result.Error != nil {
		out = append(out, map[string]any{
			"output_type": "error",
			"ename":       result.Error.Name,
			"evalue":      result.Error.Value,
			"traceback":   strings.Split(result.Error.Traceback, "\n"),
		})
	}
	return out
}

func streamOutput(name, line string) map[string]any {
	return map[string]any{
		"output_type": "stream",
		"name":        name,
		"text":        []string{line + "\n"},
	}
}

// sourceLines splits text into nbformat source lines, keeping the newline on
// every line but the last.
func sourceLines(text string) []string {
	if text == "" {
		return []string{}
	}
	parts := strings.Split(text, "\n")
	lines := make([]string, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			lines[i] = p + "\n"
		} else {
			lines[i] = p
		}
	}
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
