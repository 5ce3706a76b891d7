package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultAgentID, cfg.Orchestrator.AgentID)
	assert.Equal(t, 10, cfg.Orchestrator.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.Orchestrator.StepTimeout.Std())
	assert.Equal(t, RouterModeRules, cfg.Router.Mode)
	assert.InDelta(t, 0.1, cfg.Router.Temperature, 1e-9)
	assert.Equal(t, 1000, cfg.Router.MaxOutputTokens)
	assert.InDelta(t, 0.7, cfg.Review.FraudThreshold, 1e-9)
	assert.InDelta(t, 80.0, cfg.Review.RiskScoreThreshold, 1e-9)
	require.NoError(t, Validate(cfg))
}

func TestLoadYAMLWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_ROUTER_MODEL", "gemini-2.5-flash")

	path := filepath.Join(t.TempDir(), "underwriter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
orchestrator:
  max_steps: 12
  step_timeout: 5s
router:
  mode: llm
  model: ${TEST_ROUTER_MODEL}
  timeout: 1m
review:
  fraud_threshold: 0.6
storage:
  enabled: true
  database_path: /tmp/uw.db
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Orchestrator.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.StepTimeout.Std())
	assert.Equal(t, RouterModeLLM, cfg.Router.Mode)
	assert.Equal(t, "gemini-2.5-flash", cfg.Router.Model)
	assert.Equal(t, time.Minute, cfg.Router.Timeout.Std())
	assert.InDelta(t, 0.6, cfg.Review.FraudThreshold, 1e-9)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "gemini-2.5-flash", cfg.Reports.Model)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "underwriter.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"orchestrator":{"step_timeout":"2s"},"http":{"listen_addr":":9000"}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Orchestrator.StepTimeout.Std())
	assert.Equal(t, ":9000", cfg.HTTP.ListenAddr)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UNDERWRITER_ORCHESTRATOR_MAX_STEPS", "7")
	t.Setenv("UNDERWRITER_ORCHESTRATOR_STEP_TIMEOUT", "750ms")
	t.Setenv("UNDERWRITER_REVIEW_RISK_SCORE_THRESHOLD", "90")
	t.Setenv("UNDERWRITER_EVENTLOG_ENABLED", "true")

	cfg, err := Parse([]byte("router:\n  mode: rules\n"), "yaml")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Orchestrator.MaxSteps)
	assert.Equal(t, 750*time.Millisecond, cfg.Orchestrator.StepTimeout.Std())
	assert.InDelta(t, 90.0, cfg.Review.RiskScoreThreshold, 1e-9)
	assert.True(t, cfg.EventLog.Enabled)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"negative steps", "orchestrator:\n  max_steps: -1\n"},
		{"bad mode", "router:\n  mode: magic\n"},
		{"llm without model", "router:\n  mode: llm\n"},
		{"unknown model", "router:\n  mode: llm\n  model: mystery-9000\n"},
		{"fraud threshold", "review:\n  fraud_threshold: 1.5\n"},
		{"risk threshold", "review:\n  risk_score_threshold: 101\n"},
		{"bad duration", "orchestrator:\n  step_timeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "yaml")
			require.Error(t, err)
		})
	}

	_, err := Parse([]byte("router:\n  mode: magic\n"), "yaml")
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = Parse([]byte("{}"), "toml")
	assert.Error(t, err)
}

func TestGetModelProvider(t *testing.T) {
	tests := map[string]string{
		"claude-sonnet-4-5":   ProviderAnthropic,
		"claude-opus-future":  ProviderAnthropic,
		"gpt-4o":              ProviderOpenAI,
		"gemini-2.0-flash":    ProviderGoogle,
		"llama3.2":            ProviderOllama,
		"ollama:custom-model": ProviderOllama,
	}
	for model, want := range tests {
		got, err := GetModelProvider(model)
		require.NoError(t, err, model)
		assert.Equal(t, want, got, model)
	}

	_, err := GetModelProvider("unknown")
	assert.Error(t, err)

	info, known := GetModelInfo("qwen2.5")
	assert.False(t, known)
	assert.Equal(t, ProviderOllama, info.Provider)

	assert.Equal(t, EnvGoogleAPIKey, APIKeyEnv(ProviderGoogle))
	assert.Equal(t, "", APIKeyEnv("nope"))
}
