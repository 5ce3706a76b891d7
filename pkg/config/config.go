// Package config loads and validates the underwriter configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Router modes.
const (
	RouterModeRules = "rules"
	RouterModeLLM   = "llm"
)

// EnvPrefix prefixes environment overrides, e.g. UNDERWRITER_ROUTER_MODE.
const EnvPrefix = "UNDERWRITER_"

const (
	DefaultMaxSteps           = 10
	DefaultStepTimeout        = 30 * time.Second
	DefaultRouterTimeout      = 20 * time.Second
	DefaultCircuitFailures    = 3
	DefaultCircuitCooldown    = time.Minute
	DefaultRouterTemperature  = 0.1
	DefaultRouterMaxTokens    = 1000
	DefaultPromptTokenBudget  = 6000
	DefaultFraudThreshold     = 0.7
	DefaultRiskScoreThreshold = 80
	DefaultHighPriorityFraud  = 0.8
	DefaultDatabasePath       = "data/underwriter.db"
	DefaultEventLogDir        = "data/events"
	DefaultListenAddr         = ":8080"
	DefaultSecretsDir         = ".underwriter"
	DefaultAgentID            = "InsuranceOrchestrator"
)

// Duration decodes from strings such as "30s" in both YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string or nanoseconds: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Router       RouterConfig       `json:"router" yaml:"router"`
	Review       ReviewConfig       `json:"review" yaml:"review"`
	Reports      ReportsConfig      `json:"reports" yaml:"reports"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	EventLog     EventLogConfig     `json:"eventlog" yaml:"eventlog"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	HTTP         HTTPConfig         `json:"http" yaml:"http"`
	Secrets      SecretsConfig      `json:"secrets" yaml:"secrets"`
}

type OrchestratorConfig struct {
	AgentID     string   `json:"agent_id" yaml:"agent_id"`
	MaxSteps    int      `json:"max_steps" yaml:"max_steps"`
	StepTimeout Duration `json:"step_timeout" yaml:"step_timeout"`
}

// RouterConfig selects the decision source. Mode "llm" consults Model and
// falls back to the rules on any failure. After CircuitFailureThreshold
// consecutive model failures the model is skipped for CircuitCooldown; a
// negative threshold disables the breaker.
type RouterConfig struct {
	Mode                    string   `json:"mode" yaml:"mode"`
	Model                   string   `json:"model" yaml:"model"`
	Temperature             float64  `json:"temperature" yaml:"temperature"`
	MaxOutputTokens         int      `json:"max_output_tokens" yaml:"max_output_tokens"`
	PromptTokenBudget       int      `json:"prompt_token_budget" yaml:"prompt_token_budget"`
	Timeout                 Duration `json:"timeout" yaml:"timeout"`
	CircuitFailureThreshold int      `json:"circuit_failure_threshold" yaml:"circuit_failure_threshold"`
	CircuitCooldown         Duration `json:"circuit_cooldown" yaml:"circuit_cooldown"`
}

type ReviewConfig struct {
	FraudThreshold     float64 `json:"fraud_threshold" yaml:"fraud_threshold"`
	RiskScoreThreshold float64 `json:"risk_score_threshold" yaml:"risk_score_threshold"`
	HighPriorityFraud  float64 `json:"high_priority_fraud" yaml:"high_priority_fraud"`
}

type ReportsConfig struct {
	UseLLM bool   `json:"use_llm" yaml:"use_llm"`
	Model  string `json:"model" yaml:"model"`
}

type StorageConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
}

type EventLogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Dir     string `json:"dir" yaml:"dir"`
}

type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	PrometheusURL string `json:"prometheus_url" yaml:"prometheus_url"`
}

type HTTPConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

type SecretsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a YAML or JSON file (by extension), substitutes ${VAR}
// placeholders, applies env overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format)
}

// Parse decodes configuration bytes in the given format ("yaml" or "json").
func Parse(data []byte, format string) (*Config, error) {
	substituted := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		if value := os.Getenv(match[2 : len(match)-1]); value != "" {
			return value
		}
		return match
	})

	var cfg Config
	switch format {
	case "json":
		if err := json.Unmarshal([]byte(substituted), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		envKey := prefix + strings.ToUpper(strings.Split(tag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, envKey+"_")
			continue
		}
		if envValue := os.Getenv(envKey); envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

var durationType = reflect.TypeOf(Duration(0))

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		var d Duration
		if err := d.parse(envValue); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int64:
		if val, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			field.SetInt(val)
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Orchestrator.AgentID == "" {
		cfg.Orchestrator.AgentID = DefaultAgentID
	}
	if cfg.Orchestrator.MaxSteps == 0 {
		cfg.Orchestrator.MaxSteps = DefaultMaxSteps
	}
	if cfg.Orchestrator.StepTimeout == 0 {
		cfg.Orchestrator.StepTimeout = Duration(DefaultStepTimeout)
	}

	if cfg.Router.Mode == "" {
		cfg.Router.Mode = RouterModeRules
	}
	if cfg.Router.Temperature == 0 {
		cfg.Router.Temperature = DefaultRouterTemperature
	}
	if cfg.Router.MaxOutputTokens == 0 {
		cfg.Router.MaxOutputTokens = DefaultRouterMaxTokens
	}
	if cfg.Router.PromptTokenBudget == 0 {
		cfg.Router.PromptTokenBudget = DefaultPromptTokenBudget
	}
	if cfg.Router.Timeout == 0 {
		cfg.Router.Timeout = Duration(DefaultRouterTimeout)
	}
	if cfg.Router.CircuitFailureThreshold == 0 {
		cfg.Router.CircuitFailureThreshold = DefaultCircuitFailures
	}
	if cfg.Router.CircuitCooldown == 0 {
		cfg.Router.CircuitCooldown = Duration(DefaultCircuitCooldown)
	}

	if cfg.Review.FraudThreshold == 0 {
		cfg.Review.FraudThreshold = DefaultFraudThreshold
	}
	if cfg.Review.RiskScoreThreshold == 0 {
		cfg.Review.RiskScoreThreshold = DefaultRiskScoreThreshold
	}
	if cfg.Review.HighPriorityFraud == 0 {
		cfg.Review.HighPriorityFraud = DefaultHighPriorityFraud
	}

	if cfg.Reports.Model == "" {
		cfg.Reports.Model = cfg.Router.Model
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = DefaultDatabasePath
	}
	if cfg.EventLog.Dir == "" {
		cfg.EventLog.Dir = DefaultEventLogDir
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = DefaultListenAddr
	}
	if cfg.Secrets.Dir == "" {
		cfg.Secrets.Dir = DefaultSecretsDir
	}
}

// Validate checks cross-field constraints. Errors wrap ErrInvalidConfig.
func Validate(cfg *Config) error {
	if cfg.Orchestrator.MaxSteps < 1 {
		return fmt.Errorf("%w: orchestrator.max_steps must be positive, got %d", ErrInvalidConfig, cfg.Orchestrator.MaxSteps)
	}
	if cfg.Orchestrator.StepTimeout < 0 {
		return fmt.Errorf("%w: orchestrator.step_timeout must not be negative", ErrInvalidConfig)
	}

	switch cfg.Router.Mode {
	case RouterModeRules:
	case RouterModeLLM:
		if cfg.Router.Model == "" {
			return fmt.Errorf("%w: router.model is required when router.mode is %q", ErrInvalidConfig, RouterModeLLM)
		}
		if _, err := GetModelProvider(cfg.Router.Model); err != nil {
			return fmt.Errorf("%w: router.model: %v", ErrInvalidConfig, err)
		}
	default:
		return fmt.Errorf("%w: router.mode must be %q or %q, got %q", ErrInvalidConfig, RouterModeRules, RouterModeLLM, cfg.Router.Mode)
	}
	if cfg.Router.Temperature < 0 || cfg.Router.Temperature > 2 {
		return fmt.Errorf("%w: router.temperature out of range: %v", ErrInvalidConfig, cfg.Router.Temperature)
	}

	if cfg.Review.FraudThreshold < 0 || cfg.Review.FraudThreshold > 1 {
		return fmt.Errorf("%w: review.fraud_threshold must be within [0,1], got %v", ErrInvalidConfig, cfg.Review.FraudThreshold)
	}
	if cfg.Review.RiskScoreThreshold < 0 || cfg.Review.RiskScoreThreshold > 100 {
		return fmt.Errorf("%w: review.risk_score_threshold must be within [0,100], got %v", ErrInvalidConfig, cfg.Review.RiskScoreThreshold)
	}

	if cfg.Reports.UseLLM && cfg.Reports.Model == "" {
		return fmt.Errorf("%w: reports.model is required when reports.use_llm is set", ErrInvalidConfig)
	}
	return nil
}
