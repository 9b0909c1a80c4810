// Package generator wraps the upstream model calls behind a single streaming
// interface. Two variants exist: a direct chat completion and a triage agent
// that delegates to specialist agents through function calls.
package generator

import (
	"context"
	"time"

	"github.com/microsoft/secure-azureai-agent/pkg/models"
)

// Agent names attributed to generated messages.
const (
	AssistantAgentName        = "AzureAssistant"
	TriageAgentName           = "TriageAgent"
	TechnicalSupportAgentName = "TechnicalSupportAgent"
	EscalationAgentName       = "EscalationAgent"
)

// Request is one user turn.
type Request struct {
	SessionID string
	Message   string
	Thread    *models.Thread // prior conversation; never mutated
	Mode      models.Mode
	Trace     bool
}

// EmitFunc receives one content delta. A non-nil return stops generation and
// is returned from Generate unchanged.
type EmitFunc func(delta string) error

// Generator produces the reply for one turn. Deltas are passed to emit in
// upstream order. On success the returned thread is the prior thread plus
// the user message and everything produced for this turn; on error it is nil.
type Generator interface {
	Generate(ctx context.Context, req Request, emit EmitFunc) (*models.Thread, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request, emit EmitFunc) (*models.Thread, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request, emit EmitFunc) (*models.Thread, error) {
	return f(ctx, req, emit)
}

// Selector maps a requested mode to the Generator that serves it.
type Selector struct {
	chat         Generator
	agent        Generator
	agentEnabled bool
	initErr      error
}

// NewSelector builds a selector over already constructed generators. A nil
// chat generator means the backend is not initialized.
func NewSelector(chat, agent Generator, agentEnabled bool) *Selector {
	s := &Selector{chat: chat, agent: agent, agentEnabled: agentEnabled}
	if chat == nil {
		s.initErr = ErrNotInitialized
	}
	return s
}

// Degraded returns a selector whose every Select fails with err, which
// should wrap ErrNotInitialized.
func Degraded(err error, agentEnabled bool) *Selector {
	return &Selector{initErr: err, agentEnabled: agentEnabled}
}

// Select returns the generator for mode. The empty mode resolves to
// DefaultMode.
func (s *Selector) Select(mode models.Mode) (Generator, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	if mode == "" {
		mode = s.DefaultMode()
	}
	switch mode {
	case models.ModeChat:
		return s.chat, nil
	case models.ModeAgent:
		if !s.agentEnabled || s.agent == nil {
			return nil, ErrAgentDisabled
		}
		return s.agent, nil
	default:
		return nil, &UnknownModeError{Mode: string(mode)}
	}
}

// DefaultMode is agent when the agent variant is enabled, chat otherwise.
func (s *Selector) DefaultMode() models.Mode {
	if s.agentEnabled {
		return models.ModeAgent
	}
	return models.ModeChat
}

// Ready reports whether the generation backend initialized.
func (s *Selector) Ready() bool {
	return s.initErr == nil
}

// InitError returns the initialization failure, if any.
func (s *Selector) InitError() error {
	return s.initErr
}

// AgentEnabled reports whether the agent variant may be selected.
func (s *Selector) AgentEnabled() bool {
	return s.agentEnabled
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
