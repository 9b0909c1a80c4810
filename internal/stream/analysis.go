package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/microsoft/secure-azureai-agent/internal/telemetry"
	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Detail types beyond the item kinds.
const (
	DetailUserMessage   = "user_message"
	DetailAgentResponse = "agent_response"
)

// Details flattens every item of every message into one entry. Message
// indexes start at 1.
func Details(th *models.Thread) []models.MessageDetail {
	if th == nil {
		return nil
	}
	var out []models.MessageDetail
	for i, m := range th.Messages {
		for _, it := range m.Items {
			d := models.MessageDetail{
				MessageIndex: i + 1,
				AgentName:    m.AgentName,
				ModelID:      m.ModelID,
				Timestamp:    m.CreatedAt,
			}
			switch item := it.(type) {
			case models.FunctionCall:
				d.Type = string(models.ItemFunctionCall)
				d.FunctionName = item.Name
				d.Arguments = item.Arguments
				d.Description = "[Function Calling] by " + orUnknown(m.ModelID)
			case models.FunctionResult:
				d.Type = string(models.ItemFunctionResult)
				d.FunctionName = item.Name
				d.Result = decodeResult(item.Result)
				d.Description = "[Function Result]"
			case models.Text:
				if m.Role == models.RoleUser {
					d.Type = DetailUserMessage
					d.Description = "[User Message]"
				} else {
					d.Type = DetailAgentResponse
					d.Description = "[Agent Response] from " + orUnknown(m.ModelID)
				}
				d.Content = item.Text
			case models.Unknown:
				d.Type = string(models.ItemUnknown)
				d.Content = item.Raw
				d.Description = fmt.Sprintf("[Unknown Item Type] (%s)", item.TypeName)
			}
			out = append(out, d)
		}
	}
	return out
}

// Summarize builds the session summary returned by the sessions endpoint.
func Summarize(sessionID string, th *models.Thread) models.ThreadSummary {
	details := Details(th)
	types := make(map[string]int)
	for _, d := range details {
		types[d.Type]++
	}
	if details == nil {
		details = []models.MessageDetail{}
	}
	return models.ThreadSummary{
		SessionID:           sessionID,
		TotalMessages:       th.Len(),
		MessageTypes:        types,
		AgentsUsed:          agentsUsed(th, 0),
		ConversationDetails: details,
	}
}

// ExtractTrace collects the last limit function calls and results among
// the messages from index from onward.
func ExtractTrace(th *models.Thread, from, limit int) *models.Trace {
	tr := &models.Trace{Events: []models.TraceEvent{}, AgentsUsed: agentsUsed(th, from)}
	if th == nil {
		return tr
	}
	if from < 0 {
		from = 0
	}
	for _, m := range th.Messages[min(from, len(th.Messages)):] {
		for _, it := range m.Items {
			switch item := it.(type) {
			case models.FunctionCall:
				tr.Events = append(tr.Events, models.TraceEvent{
					Type:         models.ItemFunctionCall,
					AgentName:    m.AgentName,
					CallID:       item.ID,
					FunctionName: item.Name,
					Arguments:    item.Arguments,
				})
			case models.FunctionResult:
				tr.Events = append(tr.Events, models.TraceEvent{
					Type:         models.ItemFunctionResult,
					AgentName:    m.AgentName,
					CallID:       item.CallID,
					FunctionName: item.Name,
					Result:       decodeResult(item.Result),
				})
			}
		}
	}
	if limit > 0 && len(tr.Events) > limit {
		tr.Events = tr.Events[len(tr.Events)-limit:]
	}
	return tr
}

// LogThread writes the thread details to the log and a thread_analysis
// span. Message content, arguments and results are only included when
// recordContent is set, and then with personal data masked.
func LogThread(ctx context.Context, sessionID string, th *models.Thread, recordContent bool) {
	details := Details(th)
	if recordContent {
		details = maskDetails(details)
	} else {
		details = redact(details)
	}

	_, span := telemetry.Tracer().Start(ctx, "thread_analysis", trace.WithAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("message_count", len(details)),
	))
	defer span.End()

	types := make(map[string]int)
	for _, d := range details {
		types[d.Type]++
	}
	for t, n := range types {
		span.SetAttributes(attribute.Int("message_type_"+t+"_count", n))
	}
	agents := agentsUsed(th, 0)
	span.SetAttributes(
		attribute.StringSlice("agents_used", agents),
		attribute.Int("unique_agent_count", len(agents)),
	)

	if flow, err := json.Marshal(details); err == nil {
		span.AddEvent("thread_conversation", trace.WithAttributes(attribute.String("conversation_flow", string(flow))))
	}

	log.Info().
		Str("session_id", sessionID).
		Int("messages", th.Len()).
		Strs("agents_used", agents).
		Msg("Thread details")
	for _, d := range details {
		log.Debug().
			Str("session_id", sessionID).
			Int("message_index", d.MessageIndex).
			Str("type", d.Type).
			Str("agent", d.AgentName).
			Str("function", d.FunctionName).
			Str("content", d.Content).
			Str("description", d.Description).
			Msg("Thread detail")
	}
}

func redact(details []models.MessageDetail) []models.MessageDetail {
	out := make([]models.MessageDetail, len(details))
	for i, d := range details {
		if d.Content != "" {
			d.Content = fmt.Sprintf("<%d chars>", len([]rune(d.Content)))
		}
		if d.Arguments != "" {
			d.Arguments = "<redacted>"
		}
		if d.Result != nil {
			d.Result = "<redacted>"
		}
		out[i] = d
	}
	return out
}

func agentsUsed(th *models.Thread, from int) []string {
	out := []string{}
	if th == nil {
		return out
	}
	seen := make(map[string]bool)
	for _, m := range th.Messages[min(max(from, 0), len(th.Messages)):] {
		if m.AgentName != "" && !seen[m.AgentName] {
			seen[m.AgentName] = true
			out = append(out, m.AgentName)
		}
	}
	sort.Strings(out)
	return out
}

// decodeResult returns the parsed JSON value of a function result, or the
// raw string when it is not JSON.
func decodeResult(raw string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
