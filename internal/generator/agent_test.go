package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentGeneratorDelegatesToSpecialist(t *testing.T) {
	up := &fakeUpstream{
		streams: [][]openai.ChatCompletionStreamResponse{
			toolCallChunks("call_1", ToolTechnicalSupport, `{"request":`, `"vm will not start"}`),
			textChunks("Restart ", "the VM."),
		},
		completions: []string{"Check the boot diagnostics."},
	}
	g := NewAgentGenerator(newFakeClient(t, up), "gpt-4o", AgentOptions{
		TriageInstructions: "triage",
		TechnicalSupport:   "tech",
		Escalation:         "esc",
	})

	var deltas []string
	th, err := g.Generate(context.Background(), Request{Message: "my vm is broken"}, collect(&deltas))
	require.NoError(t, err)

	assert.Equal(t, []string{"Restart ", "the VM."}, deltas)
	require.Equal(t, 4, th.Len())

	call := th.Messages[1]
	assert.Equal(t, models.RoleFunctionCall, call.Role)
	assert.Equal(t, TriageAgentName, call.AgentName)
	require.Len(t, call.Items, 1)
	fc := call.Items[0].(models.FunctionCall)
	assert.Equal(t, "call_1", fc.ID)
	assert.Equal(t, ToolTechnicalSupport, fc.Name)
	assert.JSONEq(t, `{"request":"vm will not start"}`, fc.Arguments)

	result := th.Messages[2]
	assert.Equal(t, models.RoleFunctionResult, result.Role)
	fr := result.Items[0].(models.FunctionResult)
	assert.Equal(t, "call_1", fr.CallID)
	assert.Equal(t, "Check the boot diagnostics.", fr.Result)

	assert.Equal(t, "Restart the VM.", th.Messages[3].Text())

	reqs := up.recorded()
	require.Len(t, reqs, 3)
	assert.Len(t, reqs[0].Tools, 2)
	// The specialist sees its own instructions and the restated request.
	assert.False(t, reqs[1].Stream)
	assert.Equal(t, "tech", reqs[1].Messages[0].Content)
	assert.Equal(t, "vm will not start", reqs[1].Messages[1].Content)
	// The second triage turn carries the tool exchange.
	last := reqs[2].Messages
	assert.Equal(t, openai.ChatMessageRoleTool, last[len(last)-1].Role)
}

func TestAgentGeneratorAnswersDirectly(t *testing.T) {
	up := &fakeUpstream{streams: [][]openai.ChatCompletionStreamResponse{textChunks("Hello")}}
	g := NewAgentGenerator(newFakeClient(t, up), "gpt-4o", AgentOptions{})

	th, err := g.Generate(context.Background(), Request{Message: "hi"}, func(string) error { return nil })
	require.NoError(t, err)
	require.Equal(t, 2, th.Len())
	assert.Equal(t, TriageAgentName, th.Messages[1].AgentName)
}

func TestAgentGeneratorTurnLimit(t *testing.T) {
	up := &fakeUpstream{
		streams: [][]openai.ChatCompletionStreamResponse{
			toolCallChunks("c1", ToolEscalation, `{"request":"a"}`),
			toolCallChunks("c2", ToolEscalation, `{"request":"b"}`),
		},
		completions: []string{"r1", "r2"},
	}
	g := NewAgentGenerator(newFakeClient(t, up), "gpt-4o", AgentOptions{MaxTurns: 2})

	th, err := g.Generate(context.Background(), Request{Message: "hi"}, func(string) error { return nil })
	assert.Nil(t, th)

	var agentErr *AgentError
	require.True(t, errors.As(err, &agentErr))
	assert.Equal(t, TriageAgentName, agentErr.Agent)
	assert.Equal(t, KindAgent, Classify(err))
}

func TestAgentGeneratorUnknownTool(t *testing.T) {
	up := &fakeUpstream{streams: [][]openai.ChatCompletionStreamResponse{toolCallChunks("c1", "delete_subscription", `{}`)}}
	g := NewAgentGenerator(newFakeClient(t, up), "gpt-4o", AgentOptions{})

	_, err := g.Generate(context.Background(), Request{Message: "hi"}, func(string) error { return nil })
	assert.Equal(t, KindAgent, Classify(err))
}

func TestToolCallAccumulatorOrdersByIndex(t *testing.T) {
	one, zero := 1, 0
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{Index: &one, ID: "b", Function: openai.FunctionCall{Name: ToolEscalation, Arguments: "{"}})
	acc.add(openai.ToolCall{Index: &zero, Function: openai.FunctionCall{Name: ToolTechnicalSupport, Arguments: "{}"}})
	acc.add(openai.ToolCall{Index: &one, Function: openai.FunctionCall{Arguments: "}"}})

	calls := acc.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ToolTechnicalSupport, calls[0].Name)
	assert.Equal(t, "call_0", calls[0].ID)
	assert.Equal(t, "b", calls[1].ID)
	assert.Equal(t, "{}", calls[1].Arguments)
}
