package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultMaxTurns bounds the triage loop when AgentOptions.MaxTurns is unset.
const DefaultMaxTurns = 5

// Tool names exposed to the triage agent.
const (
	ToolTechnicalSupport = "technical_support"
	ToolEscalation       = "escalation"
)

// delegateParameters is the JSON schema shared by every specialist tool.
var delegateParameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "request": {
      "type": "string",
      "description": "The user's problem restated with all relevant details"
    }
  },
  "required": ["request"]
}`)

// AgentOptions configures the triage agent and its specialists.
type AgentOptions struct {
	TriageInstructions string
	TechnicalSupport   string
	Escalation         string
	MaxTurns           int
}

type specialist struct {
	name         string
	instructions string
}

// AgentGenerator runs a triage agent that may call specialist agents as
// function tools before answering. Specialist calls are recorded in the
// thread as function call and function result messages.
type AgentGenerator struct {
	client      *openai.Client
	model       string
	triage      string
	specialists map[string]specialist
	tools       []openai.Tool
	maxTurns    int
}

// NewAgentGenerator creates the multi-agent generator.
func NewAgentGenerator(client *openai.Client, model string, opts AgentOptions) *AgentGenerator {
	g := &AgentGenerator{
		client:      client,
		model:       model,
		triage:      opts.TriageInstructions,
		specialists: make(map[string]specialist),
		maxTurns:    opts.MaxTurns,
	}
	if g.maxTurns <= 0 {
		g.maxTurns = DefaultMaxTurns
	}
	g.addSpecialist(ToolTechnicalSupport, TechnicalSupportAgentName, opts.TechnicalSupport,
		"Technical troubleshooting for Azure services: configuration, error messages, performance and best practices.")
	g.addSpecialist(ToolEscalation, EscalationAgentName, opts.Escalation,
		"Escalation to human support: billing, account, SLA, urgent or enterprise issues.")
	return g
}

func (g *AgentGenerator) addSpecialist(tool, name, instructions, description string) {
	t := openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        tool,
			Description: description,
			Parameters:  delegateParameters,
		},
	}
	g.specialists[tool] = specialist{name: name, instructions: instructions}
	g.tools = append(g.tools, t)
}

// Generate runs the triage loop: stream a triage turn, execute any requested
// specialist calls, and repeat until the triage agent answers without tool
// calls or the turn budget is spent.
func (g *AgentGenerator) Generate(ctx context.Context, req Request, emit EmitFunc) (*models.Thread, error) {
	th := req.Thread.Clone()
	th.Append(models.NewTextMessage(models.RoleUser, req.Message, ""))

	for turn := 0; turn < g.maxTurns; turn++ {
		text, calls, err := g.triageTurn(ctx, th, emit)
		if err != nil {
			return nil, err
		}

		if len(calls) == 0 {
			msg := models.NewTextMessage(models.RoleAssistant, text, TriageAgentName)
			msg.ModelID = g.model
			th.Append(msg)
			return th, nil
		}

		callMsg := models.Message{
			Role:      models.RoleFunctionCall,
			AgentName: TriageAgentName,
			ModelID:   g.model,
			CreatedAt: nowUTC(),
		}
		if text != "" {
			callMsg.Items = append(callMsg.Items, models.Text{Text: text})
		}
		for _, c := range calls {
			callMsg.Items = append(callMsg.Items, c)
		}
		th.Append(callMsg)

		resultMsg := models.Message{
			Role:      models.RoleFunctionResult,
			AgentName: TriageAgentName,
			ModelID:   g.model,
			CreatedAt: nowUTC(),
		}
		for _, c := range calls {
			result, err := g.delegate(ctx, c)
			if err != nil {
				return nil, err
			}
			resultMsg.Items = append(resultMsg.Items, models.FunctionResult{CallID: c.ID, Name: c.Name, Result: result})
		}
		th.Append(resultMsg)
	}

	return nil, &AgentError{
		Agent:  TriageAgentName,
		Reason: fmt.Sprintf("no final answer within %d turns", g.maxTurns),
	}
}

// triageTurn streams one triage completion, forwarding text deltas and
// assembling tool call fragments.
func (g *AgentGenerator) triageTurn(ctx context.Context, th *models.Thread, emit EmitFunc) (string, []models.FunctionCall, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: toChatMessages(g.triage, th, true),
		Tools:    g.tools,
		Stream:   true,
	})
	if err != nil {
		return "", nil, fmt.Errorf("triage completion: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	acc := newToolCallAccumulator()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("triage stream: %w", err)
		}
		for _, choice := range resp.Choices {
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc)
			}
			if delta := choice.Delta.Content; delta != "" {
				text.WriteString(delta)
				if err := emit(delta); err != nil {
					return "", nil, err
				}
			}
		}
	}
	return text.String(), acc.calls(), nil
}

// delegate runs the specialist behind a tool call as a non-streaming completion.
func (g *AgentGenerator) delegate(ctx context.Context, call models.FunctionCall) (string, error) {
	sp, ok := g.specialists[call.Name]
	if !ok {
		return "", &AgentError{Agent: TriageAgentName, Reason: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	request := call.Arguments
	var args struct {
		Request string `json:"request"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err == nil && args.Request != "" {
		request = args.Request
	}

	log.Debug().Str("agent", sp.name).Str("call_id", call.ID).Msg("Delegating to specialist agent")

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sp.instructions},
			{Role: openai.ChatMessageRoleUser, Content: request},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", &AgentError{Agent: sp.name, Reason: "specialist call failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &AgentError{Agent: sp.name, Reason: "specialist returned no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// toolCallAccumulator joins streamed tool call fragments by index.
type toolCallAccumulator struct {
	byIndex map[int]*models.FunctionCall
	args    map[int]*strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		byIndex: make(map[int]*models.FunctionCall),
		args:    make(map[int]*strings.Builder),
	}
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	idx := len(a.byIndex)
	if tc.Index != nil {
		idx = *tc.Index
	}
	fc, ok := a.byIndex[idx]
	if !ok {
		fc = &models.FunctionCall{}
		a.byIndex[idx] = fc
		a.args[idx] = &strings.Builder{}
	}
	if tc.ID != "" {
		fc.ID = tc.ID
	}
	if tc.Function.Name != "" {
		fc.Name = tc.Function.Name
	}
	a.args[idx].WriteString(tc.Function.Arguments)
}

func (a *toolCallAccumulator) calls() []models.FunctionCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	idxs := make([]int, 0, len(a.byIndex))
	for i := range a.byIndex {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	out := make([]models.FunctionCall, 0, len(idxs))
	for _, i := range idxs {
		fc := *a.byIndex[i]
		fc.Arguments = a.args[i].String()
		if fc.ID == "" {
			fc.ID = fmt.Sprintf("call_%d", i)
		}
		out = append(out, fc)
	}
	return out
}
