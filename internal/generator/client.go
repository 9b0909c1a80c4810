package generator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/microsoft/secure-azureai-agent/internal/config"
	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// NewAzureClient builds a go-openai client for an Azure OpenAI deployment.
// Every model name is mapped to the configured deployment.
func NewAzureClient(cfg config.OpenAIConfig, httpClient *http.Client) (*openai.Client, error) {
	var missing []string
	if cfg.APIKey == "" {
		missing = append(missing, "AZURE_OPENAI_API_KEY")
	}
	if cfg.Endpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrNotInitialized, strings.Join(missing, ", "))
	}

	oc := openai.DefaultAzureConfig(cfg.APIKey, strings.TrimRight(cfg.Endpoint, "/"))
	if cfg.APIVersion != "" {
		oc.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	oc.AzureModelMapperFunc = func(string) string { return deployment }
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(oc), nil
}

// New builds the selector from configuration. Missing credentials yield a
// degraded selector rather than an error so the server can still start.
func New(cfg *config.Config) *Selector {
	client, err := NewAzureClient(cfg.OpenAI, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Generation backend not initialized, running degraded")
		return Degraded(err, cfg.Agent.Enabled)
	}

	ins := cfg.Agent.Instructions
	chat := NewChatGenerator(client, cfg.OpenAI.Deployment, ins.Assistant)

	var agent Generator
	if cfg.Agent.Enabled {
		agent = NewAgentGenerator(client, cfg.OpenAI.Deployment, AgentOptions{
			TriageInstructions: ins.Triage,
			TechnicalSupport:   ins.TechnicalSupport,
			Escalation:         ins.Escalation,
			MaxTurns:           cfg.Agent.MaxTurns,
		})
	}

	log.Info().
		Str("endpoint_host", endpointHost(cfg.OpenAI.Endpoint)).
		Str("deployment", cfg.OpenAI.Deployment).
		Bool("agent_mode", cfg.Agent.Enabled).
		Msg("Generation backend initialized")

	return NewSelector(chat, agent, cfg.Agent.Enabled)
}

// toChatMessages converts a thread into completion messages. Function call
// and result messages are only included when withTools is set, since the
// upstream rejects tool messages without matching tool definitions.
func toChatMessages(system string, th *models.Thread, withTools bool) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, th.Len()+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	if th == nil {
		return msgs
	}
	for _, m := range th.Messages {
		switch m.Role {
		case models.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text()})
		case models.RoleAssistant:
			if text := m.Text(); text != "" {
				msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text})
			}
		case models.RoleFunctionCall:
			if !withTools {
				continue
			}
			out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text()}
			for _, it := range m.Items {
				if fc, ok := it.(models.FunctionCall); ok {
					out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
						ID:       fc.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: fc.Name, Arguments: fc.Arguments},
					})
				}
			}
			msgs = append(msgs, out)
		case models.RoleFunctionResult:
			if !withTools {
				continue
			}
			for _, it := range m.Items {
				if fr, ok := it.(models.FunctionResult); ok {
					msgs = append(msgs, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    fr.Result,
						Name:       fr.Name,
						ToolCallID: fr.CallID,
					})
				}
			}
		}
	}
	return msgs
}

func endpointHost(endpoint string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}
