package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment tiers.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all configuration for the gateway and the chat backend.
// It is resolved once at startup and passed to the components that need it.
type Config struct {
	Port        int
	Environment string
	FrontendURL string
	AllowedHost string
	Locale      string

	UI        UIConfig
	OpenAI    OpenAIConfig
	Agent     AgentConfig
	Stream    StreamConfig
	Sessions  SessionConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type UIConfig struct {
	Host         string
	Port         int
	Managed      bool     // false: the UI is an external process we only forward to
	Command      []string // full command line; empty means the default chainlit invocation
	AppPath      string
	WorkDir      string
	StartGrace   time.Duration
	StopTimeout  time.Duration
	ProxyTimeout time.Duration
}

type OpenAIConfig struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

type AgentConfig struct {
	// Enabled selects the multi-agent orchestration variant (USE_AZURE_AI_AGENT).
	Enabled      bool
	MaxTurns     int
	Instructions AgentInstructions
}

// AgentInstructions are the system prompts of each agent. They can be
// overridden with a YAML file (AGENTS_FILE).
type AgentInstructions struct {
	Assistant        string `yaml:"assistant"`
	Triage           string `yaml:"triage"`
	TechnicalSupport string `yaml:"technical_support"`
	Escalation       string `yaml:"escalation"`
}

type StreamConfig struct {
	GenerationTimeout   time.Duration
	HealthTimeout       time.Duration
	TraceLimit          int
	SensitiveDiagnostic bool
	ContentRecording    bool
}

type SessionConfig struct {
	MaxEntries    int
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type LogConfig struct {
	Level  string
	Format string // "console" or "json"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envInt("PORT", 8000),
		Environment: strings.ToLower(envStr("ENVIRONMENT", EnvDevelopment)),
		FrontendURL: envStr("FRONTEND_URL", "http://localhost:8501"),
		AllowedHost: envStr("ALLOWED_HOST", "localhost"),
		Locale:      envStr("LOCALE", "ja"),
		UI: UIConfig{
			Host:         envStr("UI_HOST", "localhost"),
			Port:         envInt("CHAINLIT_PORT", 8501),
			Managed:      envBool("UI_MANAGED", true),
			Command:      strings.Fields(os.Getenv("UI_COMMAND")),
			AppPath:      envStr("UI_APP_PATH", "frontend/app.py"),
			WorkDir:      envStr("UI_WORKDIR", ""),
			StartGrace:   envDuration("UI_START_GRACE", 3*time.Second),
			StopTimeout:  envDuration("UI_STOP_TIMEOUT", 10*time.Second),
			ProxyTimeout: envDuration("UI_PROXY_TIMEOUT", 30*time.Second),
		},
		OpenAI: OpenAIConfig{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: envStr("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4"),
			APIVersion: envStr("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		},
		Agent: AgentConfig{
			Enabled:      envBool("USE_AZURE_AI_AGENT", false),
			MaxTurns:     envInt("AGENT_MAX_TURNS", 5),
			Instructions: DefaultInstructions(),
		},
		Stream: StreamConfig{
			GenerationTimeout:   envDuration("GENERATION_TIMEOUT", 60*time.Second),
			HealthTimeout:       envDuration("HEALTH_TIMEOUT", 5*time.Second),
			TraceLimit:          envInt("TRACE_LIMIT", 5),
			SensitiveDiagnostic: envBool("GENAI_SENSITIVE_DIAGNOSTICS", false),
			ContentRecording:    envBool("GENAI_CONTENT_RECORDING", false),
		},
		Sessions: SessionConfig{
			MaxEntries:    envInt("SESSION_MAX_ENTRIES", 10000),
			IdleTTL:       envDuration("SESSION_IDLE_TTL", 24*time.Hour),
			SweepInterval: envDuration("SESSION_SWEEP_INTERVAL", time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "troubleshoot-gateway"),
		},
		Log: LogConfig{
			Level:  envStr("LOG_LEVEL", "info"),
			Format: os.Getenv("LOG_FORMAT"),
		},
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.IsProduction() {
			cfg.Log.Format = "json"
		}
	}

	if path := os.Getenv("AGENTS_FILE"); path != "" {
		if err := cfg.Agent.Instructions.loadFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// IsProduction reports whether ENVIRONMENT=production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// AllowedOrigins is the CORS allow-list. Development adds the local UI origins.
func (c *Config) AllowedOrigins() []string {
	origins := []string{"http://localhost:8501"}
	if c.FrontendURL != "" {
		origins = []string{c.FrontendURL}
	}
	if !c.IsProduction() {
		origins = appendUnique(origins, "http://localhost:8501", "http://127.0.0.1:8501")
	}
	return origins
}

// TrustedHosts lists the Host header values accepted in production.
func (c *Config) TrustedHosts() []string {
	hosts := []string{c.AllowedHost}
	if u, err := url.Parse(c.FrontendURL); err == nil && u.Hostname() != "" {
		hosts = appendUnique(hosts, u.Hostname())
	}
	return hosts
}

// Validate returns the missing credential variables and production warnings.
// Neither is fatal: a backend without credentials runs degraded.
func (c *Config) Validate() (missing, warnings []string) {
	return c.MissingCredentials(), c.Warnings()
}

// MissingCredentials returns the names of unset required variables.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "AZURE_OPENAI_API_KEY")
	}
	if c.OpenAI.Endpoint == "" {
		missing = append(missing, "AZURE_OPENAI_ENDPOINT")
	}
	return missing
}

// Warnings returns configuration issues worth logging at startup.
func (c *Config) Warnings() []string {
	var out []string
	if !c.IsProduction() {
		return out
	}
	if c.Stream.SensitiveDiagnostic {
		out = append(out, "sensitive diagnostics are enabled in production; consider disabling them")
	}
	if c.Stream.ContentRecording {
		out = append(out, "conversation content recording is enabled in production; consider disabling it for privacy")
	}
	return out
}

// UIBackendURL is the base URL the UI process uses to reach the backend.
func (c *Config) UIBackendURL() string {
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

func (ai *AgentInstructions) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read agents file: %w", err)
	}
	var override AgentInstructions
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse agents file %s: %w", path, err)
	}
	if override.Assistant != "" {
		ai.Assistant = override.Assistant
	}
	if override.Triage != "" {
		ai.Triage = override.Triage
	}
	if override.TechnicalSupport != "" {
		ai.TechnicalSupport = override.TechnicalSupport
	}
	if override.Escalation != "" {
		ai.Escalation = override.Escalation
	}
	return nil
}

func appendUnique(list []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, have := range list {
			if have == v {
				found = true
				break
			}
		}
		if !found {
			list = append(list, v)
		}
	}
	return list
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envBool accepts true/1/yes/on (case-insensitive) as true.
func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return fallback
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
