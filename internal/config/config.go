package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// ApexConfig holds every recognized runtime knob from the configuration
// table, loaded from YAML over the defaults (see Load for which
// environment variables apply).
type ApexConfig struct {
	Runtime       RuntimeConfig       `mapstructure:"runtime"`
	Budgets       BudgetsConfig       `mapstructure:"budgets"`
	Bandit        BanditConfig        `mapstructure:"bandit"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Server        ServerConfig        `mapstructure:"server"`
}

// StorageConfig covers the optional sqlite intent/decision log.
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CollaboratorsConfig covers the LLM client and filesystem tool adapter.
type CollaboratorsConfig struct {
	LLM struct {
		Enabled bool   `mapstructure:"enabled"`
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
		Model   string `mapstructure:"model"`
		Tier    string `mapstructure:"tier"`
	} `mapstructure:"llm"`
	Tool struct {
		Enabled bool   `mapstructure:"enabled"`
		Root    string `mapstructure:"root"`
	} `mapstructure:"tool"`
	GRPCHealthChecks []GRPCHealthCheckConfig `mapstructure:"grpc_health_checks"`
	RateLimits       RateLimitsWatchConfig   `mapstructure:"rate_limits"`
}

// RateLimitsWatchConfig points the hot-reload config manager at the
// directory holding models.yaml so provider/tier rate limit overrides
// take effect without a restart.
type RateLimitsWatchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ConfigDir string `mapstructure:"config_dir"`
}

// GRPCHealthCheckConfig names one grpc_health_v1-reachable collaborator.
type GRPCHealthCheckConfig struct {
	Name     string `mapstructure:"name"`
	Target   string `mapstructure:"target"`
	Service  string `mapstructure:"service"`
	Critical bool   `mapstructure:"critical"`
}

// ServerConfig covers the admin HTTP listener.
type ServerConfig struct {
	AdminAddr string `mapstructure:"admin_addr"`
}

// RuntimeConfig covers the Router/Switch Engine/Coordinator knobs.
type RuntimeConfig struct {
	QuiesceDeadlineMs        int `mapstructure:"quiesce_deadline_ms"`
	PrepareDeadlineMs        int `mapstructure:"prepare_deadline_ms"`
	DwellMinSteps            int `mapstructure:"dwell_min_steps"`
	CooldownSteps            int `mapstructure:"cooldown_steps"`
	QueueCapacityPerReceiver int `mapstructure:"queue_capacity_per_receiver"`
	MessageTTLSeconds        int `mapstructure:"message_ttl_s"`
	MaxAttempts              int `mapstructure:"max_attempts"`
	PayloadMaxBytes          int `mapstructure:"payload_max_bytes"`
	FlatFanoutLimit          int `mapstructure:"flat_fanout_limit"`
}

// BudgetsConfig covers the Budget Guard's scope budgets.
type BudgetsConfig struct {
	SafetyFactor      float64          `mapstructure:"safety_factor"`
	ReservationTTLSec int              `mapstructure:"reservation_ttl_s"`
	DailyTokens       int64            `mapstructure:"daily_tokens"`
	EpisodeTokens     int64            `mapstructure:"episode_tokens"`
	AgentTokens       map[string]int64 `mapstructure:"agent_tokens"`
	PerScopeRPS       float64          `mapstructure:"per_scope_rps"`
	PerScopeBurst     int              `mapstructure:"per_scope_burst"`
}

// BanditConfig covers the Switching Controller's epsilon schedule.
type BanditConfig struct {
	EpsilonStart     float64 `mapstructure:"epsilon_start"`
	EpsilonEnd       float64 `mapstructure:"epsilon_end"`
	EpsilonScheduleN int64   `mapstructure:"epsilon_schedule_n"`
	RidgeLambda      float64 `mapstructure:"ridge_lambda"`
	FeatureWindow    int     `mapstructure:"feature_window"`
}

// ObservabilityConfig covers logging/metrics ports, reused donor shape.
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Defaults returns the §6 configuration table defaults.
func Defaults() *ApexConfig {
	c := &ApexConfig{}
	c.Runtime.QuiesceDeadlineMs = 50
	c.Runtime.PrepareDeadlineMs = 20
	c.Runtime.DwellMinSteps = 2
	c.Runtime.CooldownSteps = 2
	c.Runtime.QueueCapacityPerReceiver = 10000
	c.Runtime.MessageTTLSeconds = 60
	c.Runtime.MaxAttempts = 5
	c.Runtime.PayloadMaxBytes = 524288
	c.Runtime.FlatFanoutLimit = 2
	c.Budgets.SafetyFactor = 1.2
	c.Budgets.ReservationTTLSec = 10
	c.Budgets.AgentTokens = map[string]int64{}
	c.Budgets.PerScopeRPS = 5
	c.Budgets.PerScopeBurst = 10
	c.Bandit.EpsilonStart = 0.20
	c.Bandit.EpsilonEnd = 0.05
	c.Bandit.EpsilonScheduleN = 5000
	c.Bandit.RidgeLambda = 1e-2
	c.Bandit.FeatureWindow = 5
	c.Observability.Metrics.Enabled = true
	c.Observability.Metrics.Port = 9090
	c.Observability.Logging.Level = "info"
	c.Observability.Logging.Format = "json"
	c.Storage.Enabled = true
	c.Storage.Path = "apex-intent-log.db"
	c.Collaborators.LLM.Model = "gpt-4o-mini"
	c.Collaborators.LLM.Tier = "standard"
	c.Collaborators.RateLimits.Enabled = true
	c.Collaborators.RateLimits.ConfigDir = "config"
	c.Server.AdminAddr = ":8090"
	return c
}

// Load reads apex.yaml from APEX_CONFIG (or the given path) over the
// defaults. APEX_-prefixed environment variables override only keys that
// the file sets, under the dotted key name upper-cased
// (APEX_RUNTIME.DWELL_MIN_STEPS); keys absent from the file are not read
// from the environment.
func Load(path string) (*ApexConfig, error) {
	if path == "" {
		path = os.Getenv("APEX_CONFIG")
	}

	cfg := Defaults()
	v := viper.New()
	v.SetEnvPrefix("APEX")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
