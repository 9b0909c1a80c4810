package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNotInitialized is returned when the generation backend could not be
	// set up, typically because credentials are missing.
	ErrNotInitialized = errors.New("generation backend not initialized")

	// ErrAgentDisabled is returned when agent mode is requested while the
	// agent variant is switched off.
	ErrAgentDisabled = errors.New("agent mode is disabled")

	// ErrUnknownMode is matched by UnknownModeError.
	ErrUnknownMode = errors.New("unknown generation mode")
)

// UnknownModeError reports a mode no generator serves.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown generation mode %q", e.Mode)
}

// Is matches ErrUnknownMode.
func (e *UnknownModeError) Is(target error) bool {
	return target == ErrUnknownMode
}

// AgentError is a failure of the agent orchestration itself, as opposed to
// plain connectivity: a specialist failing, an unknown tool, or the turn
// budget running out.
type AgentError struct {
	Agent  string
	Reason string
	Err    error
}

func (e *AgentError) Error() string {
	msg := fmt.Sprintf("agent %s: %s", e.Agent, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AgentError) Unwrap() error { return e.Err }

// Kind is the user-facing class of a generation failure.
type Kind string

const (
	KindUnavailable Kind = "unavailable" // connectivity, timeouts, throttling
	KindAuthConfig  Kind = "auth_config" // credentials, endpoint or deployment
	KindAgent       Kind = "agent"       // agent orchestration failure
	KindDisabled    Kind = "disabled"    // agent mode switched off
	KindCanceled    Kind = "canceled"    // client went away
	KindGeneric     Kind = "generic"
)

// connectivityKeywords is the last-resort heuristic over error text.
var connectivityKeywords = []string{
	"connection", "network", "timeout", "unreachable", "forbidden", "403", "404", "dns",
}

// Classify maps err onto a Kind. It returns the empty Kind for nil.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, ErrAgentDisabled) {
		return KindDisabled
	}
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return KindAgent
	}
	if errors.Is(err, ErrNotInitialized) {
		return KindAuthConfig
	}
	if k, ok := classifyStatus(err); ok {
		return k
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return KindUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindUnavailable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindUnavailable
	}

	text := strings.ToLower(err.Error())
	for _, kw := range connectivityKeywords {
		if strings.Contains(text, kw) {
			return KindUnavailable
		}
	}
	return KindGeneric
}

func classifyStatus(err error) (Kind, bool) {
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	default:
		return "", false
	}
	switch {
	case code == 401 || code == 403 || code == 404:
		return KindAuthConfig, true
	case code == 408 || code == 429 || code >= 500:
		return KindUnavailable, true
	}
	return "", false
}
