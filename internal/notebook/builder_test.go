package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bio-xyz/bio-data-analysis/internal/jsonx"
	"github.com/bio-xyz/bio-data-analysis/internal/sandbox"
)

func TestBuilderIntroCell(t *testing.T) {
	b := New("Analyze dataset", "We profile the data before modeling.")
	doc := b.Build()

	require.Len(t, doc.Cells, 1)
	assert.Equal(t, "markdown", doc.Cells[0].CellType)
	assert.Equal(t, "# Task: Analyze dataset\n", doc.Cells[0].Source[0])
	assert.Equal(t, 4, doc.NBFormat)
}

func TestBuilderStepCells(t *testing.T) {
	b := New("t", "")
	result := &sandbox.ExecutionResult{
		Stdout:         []string{"loaded 10 rows"},
		ExecutionCount: 1,
		Results: []sandbox.Result{
			{Text: "   a  b", IsMainResult: true},
		},
	}
	b.AddStep(1, "Load data", "Read the CSV into a frame.", "import pandas as pd\ndf = pd.read_csv('x.csv')", result)

	doc := b.Build()
	// intro + heading + description + code
	require.Len(t, doc.Cells, 4)

	code := doc.Cells[3]
	assert.Equal(t, "code", code.CellType)
	require.NotNil(t, code.ExecutionCount)
	assert.Equal(t, 1, *code.ExecutionCount)
	require.Len(t, code.Outputs, 2)
	assert.Equal(t, "stream", code.Outputs[0]["output_type"])
	assert.Equal(t, "execute_result", code.Outputs[1]["output_type"])
}

func TestBuilderErrorOutput(t *testing.T) {
	b := New("t", "")
	b.AddCode("1/0", &sandbox.ExecutionResult{
		Error: &sandbox.ExecutionError{
			Name:      "ZeroDivisionError",
			Value:     "division by zero",
			Traceback: "Traceback (most recent call last):\nZeroDivisionError: division by zero",
		},
	})

	doc := b.Build()
	code := doc.Cells[len(doc.Cells)-1]
	require.Len(t, code.Outputs, 1)
	assert.Equal(t, "error", code.Outputs[0]["output_type"])
	assert.Equal(t, "ZeroDivisionError", code.Outputs[0]["ename"])
}

func TestBuilderJSONRoundTrip(t *testing.T) {
	b := New("round trip", "")
	b.AddCode("print('hi')", &sandbox.ExecutionResult{Stdout: []string{"hi"}})

	data, err := b.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, jsonx.Unmarshal(data, &decoded))
	assert.EqualValues(t, 4, decoded["nbformat"])
	meta := decoded["metadata"].(map[string]any)
	kernel := meta["kernelspec"].(map[string]any)
	assert.Equal(t, "python3", kernel["name"])
}
