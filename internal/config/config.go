// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete promptforge configuration.
type Config struct {
	Version string `toml:"version"`

	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Limits     LimitsConfig     `toml:"limits"`
	Gate       GateConfig       `toml:"gate"`
	Registry   RegistryConfig   `toml:"registry"`
	KillSwitch KillSwitchConfig `toml:"killswitch"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Identity   IdentityConfig   `toml:"identity"`
	Billing    BillingConfig    `toml:"billing"`

	Providers []ProviderConfig `toml:"providers"`
	Pipelines []PipelineConfig `toml:"pipelines"`
	Routes    []RouteConfig    `toml:"routes"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr            string        `toml:"addr"`
	EngineVersion   string        `toml:"engine_version"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	CORSOrigins     []string      `toml:"cors_origins"`

	// Offline restricts provider traffic to loopback endpoints.
	Offline bool `toml:"offline"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level"`  // trace, debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// LimitsConfig contains request and execution limits.
type LimitsConfig struct {
	MaxTextRunes   int `toml:"max_text_runes"`
	MaxOutputRunes int `toml:"max_output_runes"`
	MaxTrace       int `toml:"max_trace"`
	MaxParallel    int `toml:"max_parallel"`

	// ExecutionOverhead is added to the sum of stage budgets to form the
	// overall request deadline.
	ExecutionOverhead time.Duration `toml:"execution_overhead"`

	// RedactionPatterns is an optional YAML file replacing the built-in
	// secret patterns.
	RedactionPatterns string `toml:"redaction_patterns"`
}

// GateConfig contains admission control settings.
type GateConfig struct {
	// Per-identity token bucket.
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`

	// Per-API-key token bucket. Zero disables the API key limit.
	APIKeyRatePerSecond float64 `toml:"api_key_rate_per_second"`
	APIKeyBurst         int     `toml:"api_key_burst"`

	// LimiterIdleTTL evicts limiters that have not been used.
	LimiterIdleTTL time.Duration `toml:"limiter_idle_ttl"`

	// Ledger selects the accounting backend: "memory" or "sqlite".
	Ledger     string `toml:"ledger"`
	LedgerPath string `toml:"ledger_path"`

	// StartingCredits is granted to identities the ledger has never seen.
	StartingCredits int64 `toml:"starting_credits"`

	// MinCost is the minimum number of credits reserved per request.
	MinCost int64 `toml:"min_cost"`
}

// RegistryConfig contains provider health tracking settings.
type RegistryConfig struct {
	Window           int           `toml:"window"`
	MinSamples       int           `toml:"min_samples"`
	DegradeErrorRate float64       `toml:"degrade_error_rate"`
	UnavailableAfter int           `toml:"unavailable_after"`
	RecoverAfter     int           `toml:"recover_after"`
	ProbeInterval    time.Duration `toml:"probe_interval"`
	ProbeTimeout     time.Duration `toml:"probe_timeout"`

	WeightErrorRate float64 `toml:"weight_error_rate"`
	WeightLatency   float64 `toml:"weight_latency"`
	WeightCost      float64 `toml:"weight_cost"`
}

// KillSwitchConfig locates the kill-switch file.
type KillSwitchConfig struct {
	Path         string        `toml:"path"`
	PollInterval time.Duration `toml:"poll_interval"`
}

// TelemetryConfig contains telemetry hook settings.
type TelemetryConfig struct {
	Enabled bool   `toml:"enabled"`
	Buffer  int    `toml:"buffer"`
	LogPath string `toml:"log_path"`
}

// IdentityConfig contains bearer token verification settings.
type IdentityConfig struct {
	JWTSecret string `toml:"jwt_secret"`
	Issuer    string `toml:"issuer"`

	// AllowAnonymous admits requests without a token as free-plan callers
	// keyed by client address.
	AllowAnonymous bool `toml:"allow_anonymous"`
}

// BillingConfig contains metered billing settings.
type BillingConfig struct {
	Enabled   bool   `toml:"enabled"`
	StripeKey string `toml:"stripe_key"`

	// SubscriptionItems maps an identity to its metered subscription item.
	SubscriptionItems map[string]string `toml:"subscription_items"`
}

// ProviderConfig describes one LLM provider endpoint.
type ProviderConfig struct {
	ID            string        `toml:"id"`
	Type          string        `toml:"type"` // echo, openrouter, openai, ollama
	BaseURL       string        `toml:"base_url"`
	Model         string        `toml:"model"`
	APIKey        string        `toml:"api_key"`
	APIKeyEnv     string        `toml:"api_key_env"`
	CostWeight    float64       `toml:"cost_weight"`
	MaxTokens     int           `toml:"max_tokens"`
	SupportsTools bool          `toml:"supports_tools"`
	Timeout       time.Duration `toml:"timeout"`
	Disabled      bool          `toml:"disabled"`
}

// PipelineConfig describes a pipeline in the catalog.
type PipelineConfig struct {
	ID      string `toml:"id"`
	Version string `toml:"version"`
	Tier    string `toml:"tier"` // free, pro

	// CostPer1K is the credit cost per 1000 estimated tokens.
	CostPer1K float64 `toml:"cost_per_1k"`

	// Providers is the preference list. Empty means any provider.
	Providers []string `toml:"providers"`

	Stages []StageConfig `toml:"stages"`
}

// StageConfig describes a single pipeline stage.
type StageConfig struct {
	Name        string        `toml:"name"`
	Kind        string        `toml:"kind"` // local, provider
	Transform   string        `toml:"transform"`
	Instruction string        `toml:"instruction"`
	Timeout     time.Duration `toml:"timeout"`
	MaxAttempts int           `toml:"max_attempts"`
	Parallel    bool          `toml:"parallel"`
	MinTokens   int           `toml:"min_tokens"`
	NeedsTools  bool          `toml:"needs_tools"`
}

// RouteConfig is one row of the (client, intent) decision table.
type RouteConfig struct {
	Client string `toml:"client"`
	Intent string `toml:"intent"`
	Free   string `toml:"free"`
	Pro    string `toml:"pro"`
}

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// StageLocal stages run an in-process transform.
	StageLocal = "local"
	// StageProvider stages call a provider.
	StageProvider = "provider"

	// TierFree pipelines are available to every plan.
	TierFree = "free"
	// TierPro pipelines require a paid plan.
	TierPro = "pro"

	// MaxStageAttempts bounds retries within a stage.
	MaxStageAttempts = 8
)

// LocalTransforms lists the transforms a local stage may name.
var LocalTransforms = map[string]bool{
	"trim":     true,
	"collapse": true,
	"markers":  true,
	"bullets":  true,
}

// ProviderTypes lists the supported provider adapters.
var ProviderTypes = map[string]bool{
	"echo":       true,
	"openrouter": true,
	"openai":     true,
	"ollama":     true,
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the promptforge configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".promptforge"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files hold provider keys and the JWT secret; keep them 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default location, falling back to
// defaults when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg and fills missing values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
// Catalog sections (providers, pipelines, routes) are taken from the defaults
// only when the file omits them entirely.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}

	// Server
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.EngineVersion == "" {
		cfg.Server.EngineVersion = d.Server.EngineVersion
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}

	// Limits
	if cfg.Limits.MaxTextRunes <= 0 {
		cfg.Limits.MaxTextRunes = d.Limits.MaxTextRunes
	}
	if cfg.Limits.MaxOutputRunes <= 0 {
		cfg.Limits.MaxOutputRunes = d.Limits.MaxOutputRunes
	}
	if cfg.Limits.MaxTrace <= 0 {
		cfg.Limits.MaxTrace = d.Limits.MaxTrace
	}
	if cfg.Limits.MaxParallel <= 0 {
		cfg.Limits.MaxParallel = d.Limits.MaxParallel
	}
	if cfg.Limits.ExecutionOverhead <= 0 {
		cfg.Limits.ExecutionOverhead = d.Limits.ExecutionOverhead
	}

	// Gate
	if cfg.Gate.RatePerSecond <= 0 {
		cfg.Gate.RatePerSecond = d.Gate.RatePerSecond
	}
	if cfg.Gate.Burst <= 0 {
		cfg.Gate.Burst = d.Gate.Burst
	}
	if cfg.Gate.LimiterIdleTTL <= 0 {
		cfg.Gate.LimiterIdleTTL = d.Gate.LimiterIdleTTL
	}
	if cfg.Gate.Ledger == "" {
		cfg.Gate.Ledger = d.Gate.Ledger
	}
	if cfg.Gate.StartingCredits <= 0 {
		cfg.Gate.StartingCredits = d.Gate.StartingCredits
	}
	if cfg.Gate.MinCost <= 0 {
		cfg.Gate.MinCost = d.Gate.MinCost
	}

	// Registry
	if cfg.Registry.Window <= 0 {
		cfg.Registry.Window = d.Registry.Window
	}
	if cfg.Registry.MinSamples <= 0 {
		cfg.Registry.MinSamples = d.Registry.MinSamples
	}
	if cfg.Registry.DegradeErrorRate <= 0 {
		cfg.Registry.DegradeErrorRate = d.Registry.DegradeErrorRate
	}
	if cfg.Registry.UnavailableAfter <= 0 {
		cfg.Registry.UnavailableAfter = d.Registry.UnavailableAfter
	}
	if cfg.Registry.RecoverAfter <= 0 {
		cfg.Registry.RecoverAfter = d.Registry.RecoverAfter
	}
	if cfg.Registry.ProbeInterval <= 0 {
		cfg.Registry.ProbeInterval = d.Registry.ProbeInterval
	}
	if cfg.Registry.ProbeTimeout <= 0 {
		cfg.Registry.ProbeTimeout = d.Registry.ProbeTimeout
	}
	if cfg.Registry.WeightErrorRate <= 0 {
		cfg.Registry.WeightErrorRate = d.Registry.WeightErrorRate
	}
	if cfg.Registry.WeightLatency <= 0 {
		cfg.Registry.WeightLatency = d.Registry.WeightLatency
	}
	if cfg.Registry.WeightCost <= 0 {
		cfg.Registry.WeightCost = d.Registry.WeightCost
	}

	// Kill-switch
	if cfg.KillSwitch.PollInterval <= 0 {
		cfg.KillSwitch.PollInterval = d.KillSwitch.PollInterval
	}

	// Telemetry
	if cfg.Telemetry.Buffer <= 0 {
		cfg.Telemetry.Buffer = d.Telemetry.Buffer
	}

	// Catalog
	if len(cfg.Providers) == 0 {
		cfg.Providers = d.Providers
	}
	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = d.Pipelines
	}
	if len(cfg.Routes) == 0 {
		cfg.Routes = d.Routes
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Timeout <= 0 {
			cfg.Providers[i].Timeout = 30 * time.Second
		}
		if cfg.Providers[i].MaxTokens <= 0 {
			cfg.Providers[i].MaxTokens = 8192
		}
	}
	for i := range cfg.Pipelines {
		p := &cfg.Pipelines[i]
		if p.Version == "" {
			p.Version = "1"
		}
		for j := range p.Stages {
			s := &p.Stages[j]
			if s.Kind == "" {
				s.Kind = StageProvider
			}
			if s.Timeout <= 0 {
				s.Timeout = 10 * time.Second
			}
			if s.MaxAttempts <= 0 {
				s.MaxAttempts = 3
			}
		}
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PROMPTFORGE_ADDR: overrides server.addr
//   - PROMPTFORGE_LOG_LEVEL: overrides log.level
//   - PROMPTFORGE_OFFLINE: overrides server.offline
//   - PROMPTFORGE_KILLSWITCH_FILE: overrides killswitch.path
//   - PROMPTFORGE_LEDGER_PATH: overrides gate.ledger_path and selects the sqlite ledger
//   - PROMPTFORGE_JWT_SECRET: overrides identity.jwt_secret
//   - PROMPTFORGE_STRIPE_KEY: overrides billing.stripe_key
//   - api_key_env of each provider: fills that provider's api_key
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("PROMPTFORGE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("PROMPTFORGE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if offline := os.Getenv("PROMPTFORGE_OFFLINE"); offline != "" {
		c.Server.Offline = offline == "1" || strings.ToLower(offline) == "true"
	}
	if path := os.Getenv("PROMPTFORGE_KILLSWITCH_FILE"); path != "" {
		c.KillSwitch.Path = path
	}
	if path := os.Getenv("PROMPTFORGE_LEDGER_PATH"); path != "" {
		c.Gate.Ledger = "sqlite"
		c.Gate.LedgerPath = path
	}
	if secret := os.Getenv("PROMPTFORGE_JWT_SECRET"); secret != "" {
		c.Identity.JWTSecret = secret
	}
	if key := os.Getenv("PROMPTFORGE_STRIPE_KEY"); key != "" {
		c.Billing.StripeKey = key
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKeyEnv == "" {
			continue
		}
		if key := os.Getenv(p.APIKeyEnv); key != "" {
			p.APIKey = key
		}
	}
}

// =============================================================================
// LOOKUP HELPERS
// =============================================================================

// Pipeline returns the pipeline with the given id.
func (c *Config) Pipeline(id string) (PipelineConfig, bool) {
	for _, p := range c.Pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return PipelineConfig{}, false
}

// Provider returns the provider with the given id.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
