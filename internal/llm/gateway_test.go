package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/bio-xyz/bio-data-analysis/internal/errors"
	"github.com/bio-xyz/bio-data-analysis/internal/observation"
)

// stubClient replays canned replies and records requests.
type stubClient struct {
	replies  []string
	requests []CompletionRequest
	err      error
}

func (c *stubClient) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return &CompletionResponse{Content: reply}, nil
}

func (c *stubClient) Provider() string { return "stub" }
func (c *stubClient) Model() string    { return "stub-model" }

func newTestGateway(stub *stubClient) *Gateway {
	g := NewGateway(Config{}, func(string) NodeConfig {
		return NodeConfig{Provider: "stub", Model: "stub-model", MaxTokens: 512}
	}, nil)
	g.newClient = func(string, string, Config) (Client, error) { return stub, nil }
	return g
}

func TestGatewayDecodesCleanJSON(t *testing.T) {
	stub := &stubClient{replies: []string{`{"signal": "CODE_PLANNING", "rationale": "needs pandas"}`}}
	g := newTestGateway(stub)

	d, err := g.PlanningDecision(context.Background(), &TaskContext{TaskDescription: "profile data.csv"})
	require.NoError(t, err)
	assert.Equal(t, SignalCodePlanning, d.Signal)
	assert.Equal(t, "needs pandas", d.Rationale)
	assert.Len(t, stub.requests, 1)
}

func TestGatewayStripsCodeFences(t *testing.T) {
	stub := &stubClient{replies: []string{"Here you go:\n```json\n{\"answer\": \"42\"}\n```"}}
	g := newTestGateway(stub)

	d, err := g.GeneralAnswer(context.Background(), &TaskContext{TaskDescription: "q"})
	require.NoError(t, err)
	assert.Equal(t, "42", d.Answer)
}

func TestGatewayRepairsMalformedJSON(t *testing.T) {
	// Trailing comma: invalid JSON, recoverable by jsonrepair without a re-ask.
	stub := &stubClient{replies: []string{`{"code": "print(1)",}`}}
	g := newTestGateway(stub)

	d, err := g.StepCode(context.Background(), &TaskContext{TaskDescription: "t"}, "print 1", "", "")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", d.Code)
	assert.Len(t, stub.requests, 1)
}

func TestGatewayReasksOnceOnSchemaViolation(t *testing.T) {
	stub := &stubClient{replies: []string{
		`{"signal": "DO_SOMETHING"}`,
		`{"signal": "TASK_COMPLETED"}`,
	}}
	g := newTestGateway(stub)

	d, err := g.CodePlanningDecision(context.Background(), &TaskContext{TaskDescription: "t"}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, SignalTaskCompleted, d.Signal)

	require.Len(t, stub.requests, 2)
	// The recovery turn includes the rejected reply.
	recovery := stub.requests[1].Messages
	require.Len(t, recovery, 3)
	assert.Equal(t, "assistant", recovery[1].Role)
}

func TestGatewaySchemaErrorAfterFailedRecovery(t *testing.T) {
	stub := &stubClient{replies: []string{`not json at all`, `still not json`}}
	g := newTestGateway(stub)

	_, err := g.PlanningDecision(context.Background(), &TaskContext{TaskDescription: "t"})
	require.Error(t, err)
	assert.True(t, agenterrors.IsSchemaFailure(err))
}

func TestGatewayPropagatesProviderError(t *testing.T) {
	stub := &stubClient{err: &agenterrors.ProviderError{Provider: "stub", StatusCode: 503}}
	g := newTestGateway(stub)

	_, err := g.PlanningDecision(context.Background(), &TaskContext{TaskDescription: "t"})
	require.Error(t, err)
	assert.True(t, agenterrors.IsProviderFailure(err))
}

func TestReflectionProposedFlattens(t *testing.T) {
	d := &ReflectionDecision{
		Rules:            []observation.StepObservation{{Title: "r", Kind: observation.KindRule}},
		DataObservations: []observation.StepObservation{{Title: "o"}},
	}
	flat := d.Proposed()
	require.Len(t, flat, 2)
	assert.Equal(t, "r", flat[0].Title)
}

func TestCodePlanningValidation(t *testing.T) {
	d := &CodePlanningDecision{Signal: SignalIterateCurrent}
	assert.Error(t, d.Validate(), "iterate without a goal is rejected")

	d.Goal = "load the data"
	assert.NoError(t, d.Validate())
}

func TestTaskAnswerValidation(t *testing.T) {
	d := &TaskAnswer{Answer: "done", Artifacts: []ArtifactDecision{{Type: "LINK", FullPath: "/x"}}}
	assert.Error(t, d.Validate(), "artifact type outside the closed set is rejected")

	d.Artifacts[0].Type = ArtifactFile
	assert.NoError(t, d.Validate())
}
