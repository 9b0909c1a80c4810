// Package models defines the shared domain and wire types of the
// troubleshoot gateway: conversation threads, stream frames, chat requests
// and downstream process descriptors.
package models

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════
// ── Generation variants ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Mode selects which upstream strategy answers a request.
type Mode string

const (
	ModeChat  Mode = "chat"  // direct single-model completion
	ModeAgent Mode = "agent" // multi-step agent orchestration
)

// ParseMode converts a wire value into a Mode. The empty string maps to the
// empty Mode so callers can apply their own default.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeChat, ModeAgent:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// ══════════════════════════════════════════════════════════════
// ── Messages & Threads ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Role identifies who produced a Message.
type Role string

const (
	RoleUser           Role = "user"
	RoleAssistant      Role = "assistant"
	RoleFunctionCall   Role = "function_call"
	RoleFunctionResult Role = "function_result"
)

// ItemKind tags the variant of an Item.
type ItemKind string

const (
	ItemText           ItemKind = "text"
	ItemFunctionCall   ItemKind = "function_call"
	ItemFunctionResult ItemKind = "function_result"
	ItemUnknown        ItemKind = "unknown"
)

// Item is one piece of message content. The set of implementations is
// closed: Text, FunctionCall, FunctionResult and Unknown.
type Item interface {
	Kind() ItemKind
	isItem()
}

// Text is plain textual content.
type Text struct {
	Text string
}

// FunctionCall is a tool/function invocation requested by a model.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments as produced by the model
}

// FunctionResult is the output of a FunctionCall.
type FunctionResult struct {
	CallID string
	Name   string
	Result string
}

// Unknown carries provider content the gateway does not interpret.
type Unknown struct {
	TypeName string
	Raw      string
}

func (Text) Kind() ItemKind           { return ItemText }
func (FunctionCall) Kind() ItemKind   { return ItemFunctionCall }
func (FunctionResult) Kind() ItemKind { return ItemFunctionResult }
func (Unknown) Kind() ItemKind        { return ItemUnknown }

func (Text) isItem()           {}
func (FunctionCall) isItem()   {}
func (FunctionResult) isItem() {}
func (Unknown) isItem()        {}

// Message is an immutable entry of a Thread.
type Message struct {
	Role      Role
	Items     []Item
	AgentName string // attributed agent, empty for user messages
	ModelID   string
	CreatedAt time.Time
}

// NewTextMessage builds a single-item text message.
func NewTextMessage(role Role, text, agent string) Message {
	return Message{
		Role:      role,
		Items:     []Item{Text{Text: text}},
		AgentName: agent,
		CreatedAt: time.Now().UTC(),
	}
}

// Text concatenates all text items of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, it := range m.Items {
		if t, ok := it.(Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Thread is the accumulated conversation state of one session: the ordered
// message history plus opaque provider continuation state.
type Thread struct {
	Messages     []Message
	Continuation map[string]string
}

// NewThread returns an empty thread.
func NewThread() *Thread {
	return &Thread{}
}

// Clone returns a copy that can be appended to without touching t.
// Messages are immutable, so their items are shared.
func (t *Thread) Clone() *Thread {
	if t == nil {
		return NewThread()
	}
	cp := &Thread{Messages: make([]Message, len(t.Messages))}
	copy(cp.Messages, t.Messages)
	if t.Continuation != nil {
		cp.Continuation = make(map[string]string, len(t.Continuation))
		for k, v := range t.Continuation {
			cp.Continuation[k] = v
		}
	}
	return cp
}

// Append records messages at the end of the thread.
func (t *Thread) Append(msgs ...Message) {
	t.Messages = append(t.Messages, msgs...)
}

// Len returns the number of messages.
func (t *Thread) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Messages)
}

// ══════════════════════════════════════════════════════════════
// ── Wire types ───────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ChatRequest is the body of POST /chat/stream.
type ChatRequest struct {
	Message     string `json:"message" validate:"required"`
	SessionID   string `json:"session_id,omitempty" validate:"omitempty,max=256"`
	Mode        Mode   `json:"mode,omitempty" validate:"omitempty,oneof=chat agent"`
	EnableTrace bool   `json:"enable_trace,omitempty"`
}

// StreamFrame is one server-to-client event. Every frame of a request has
// IsDone=false except the last one.
type StreamFrame struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	IsDone    bool   `json:"is_done"`
	Mode      Mode   `json:"mode"`
	Trace     *Trace `json:"trace,omitempty"`
}

// Trace summarizes the last function calls of a completed exchange.
type Trace struct {
	Events     []TraceEvent `json:"events"`
	AgentsUsed []string     `json:"agents_used,omitempty"`
}

// TraceEvent is one function call or function result.
type TraceEvent struct {
	Type         ItemKind    `json:"type"`
	AgentName    string      `json:"agent_name,omitempty"`
	CallID       string      `json:"call_id,omitempty"`
	FunctionName string      `json:"function_name,omitempty"`
	Arguments    string      `json:"arguments,omitempty"`
	Result       interface{} `json:"result,omitempty"`
}

// MessageDetail is a flattened view of one message item, used for logging
// and the session summary endpoint.
type MessageDetail struct {
	MessageIndex int         `json:"message_index"`
	Type         string      `json:"type"`
	AgentName    string      `json:"agent_name,omitempty"`
	ModelID      string      `json:"ai_model_id,omitempty"`
	FunctionName string      `json:"function_name,omitempty"`
	Arguments    string      `json:"arguments,omitempty"`
	Result       interface{} `json:"result,omitempty"`
	Content      string      `json:"content,omitempty"`
	Description  string      `json:"description"`
	Timestamp    time.Time   `json:"timestamp"`
}

// ThreadSummary is the response of GET /sessions/{sessionID}.
type ThreadSummary struct {
	SessionID           string          `json:"session_id"`
	TotalMessages       int             `json:"total_messages"`
	MessageTypes        map[string]int  `json:"message_types"`
	AgentsUsed          []string        `json:"agents_used"`
	ConversationDetails []MessageDetail `json:"conversation_details"`
}

// ══════════════════════════════════════════════════════════════
// ── Downstream processes ─────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ProcessStatus describes the lifecycle of the supervised UI process.
type ProcessStatus string

const (
	ProcessStopped  ProcessStatus = "stopped"
	ProcessStarting ProcessStatus = "starting"
	ProcessRunning  ProcessStatus = "running"
	ProcessFailed   ProcessStatus = "failed"
)

// ProxyTarget describes a downstream process the gateway forwards to.
type ProxyTarget struct {
	Host   string        `json:"host"`
	Port   int           `json:"port"`
	Live   bool          `json:"live"`
	Status ProcessStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// Addr returns host:port.
func (t ProxyTarget) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}
