package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 8501, cfg.UI.Port)
	assert.Equal(t, "localhost", cfg.UI.Host)
	assert.True(t, cfg.UI.Managed)
	assert.Equal(t, 3*time.Second, cfg.UI.StartGrace)
	assert.Equal(t, 10*time.Second, cfg.UI.StopTimeout)
	assert.Equal(t, 30*time.Second, cfg.UI.ProxyTimeout)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "gpt-4", cfg.OpenAI.Deployment)
	assert.False(t, cfg.Agent.Enabled)
	assert.Equal(t, 5, cfg.Agent.MaxTurns)
	assert.Equal(t, 60*time.Second, cfg.Stream.GenerationTimeout)
	assert.Equal(t, 5, cfg.Stream.TraceLimit)
	assert.Equal(t, "ja", cfg.Locale)
	assert.Equal(t, 10000, cfg.Sessions.MaxEntries)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.IdleTTL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NotEmpty(t, cfg.Agent.Instructions.Triage)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CHAINLIT_PORT", "9501")
	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("USE_AZURE_AI_AGENT", "yes")
	t.Setenv("GENERATION_TIMEOUT", "90")
	t.Setenv("UI_START_GRACE", "500ms")
	t.Setenv("UI_COMMAND", "node server.js --port 9501")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 9501, cfg.UI.Port)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Agent.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Stream.GenerationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.UI.StartGrace)
	assert.Equal(t, []string{"node", "server.js", "--port", "9501"}, cfg.UI.Command)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "YES": true, "on": true, "false": false, "0": false, "off": false}
	for raw, want := range cases {
		t.Setenv("FLAG_UNDER_TEST", raw)
		assert.Equal(t, want, envBool("FLAG_UNDER_TEST", !want), raw)
	}
	t.Setenv("FLAG_UNDER_TEST", "maybe")
	assert.True(t, envBool("FLAG_UNDER_TEST", true))
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{Environment: EnvDevelopment, FrontendURL: "https://chat.example.com"}
	assert.Equal(t, []string{"https://chat.example.com", "http://localhost:8501", "http://127.0.0.1:8501"}, cfg.AllowedOrigins())

	cfg.Environment = EnvProduction
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.AllowedOrigins())
}

func TestTrustedHosts(t *testing.T) {
	cfg := &Config{AllowedHost: "api.example.com", FrontendURL: "https://chat.example.com:8443"}
	assert.Equal(t, []string{"api.example.com", "chat.example.com"}, cfg.TrustedHosts())

	cfg.FrontendURL = "https://api.example.com"
	assert.Equal(t, []string{"api.example.com"}, cfg.TrustedHosts())
}

func TestValidate(t *testing.T) {
	cfg := &Config{Environment: EnvProduction}
	cfg.Stream.ContentRecording = true

	missing, warnings := cfg.Validate()
	assert.Equal(t, []string{"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT"}, missing)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "recording")

	cfg.Environment = EnvDevelopment
	cfg.OpenAI = OpenAIConfig{APIKey: "k", Endpoint: "https://x.openai.azure.com"}
	missing, warnings = cfg.Validate()
	assert.Empty(t, missing)
	assert.Empty(t, warnings)
}

func TestAgentsFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("triage: route everything\nescalation: call a human\n"), 0o600))
	t.Setenv("AGENTS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "route everything", cfg.Agent.Instructions.Triage)
	assert.Equal(t, "call a human", cfg.Agent.Instructions.Escalation)
	assert.Equal(t, DefaultInstructions().TechnicalSupport, cfg.Agent.Instructions.TechnicalSupport)
}

func TestAgentsFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("triage: [unterminated"), 0o600))
	t.Setenv("AGENTS_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}
