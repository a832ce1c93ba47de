// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"time"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// DEFAULTS
// =============================================================================

// Version is the config schema version.
const Version = "1"

// Default returns a configuration with sensible defaults.
// The default catalog runs entirely on the local echo provider so a fresh
// install serves requests without any provider keys.
func Default() *Config {
	return &Config{
		Version: Version,
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			EngineVersion:   "promptforge/1.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Limits: LimitsConfig{
			MaxTextRunes:      16000,
			MaxOutputRunes:    32000,
			MaxTrace:          32,
			MaxParallel:       4,
			ExecutionOverhead: 2 * time.Second,
		},
		Gate: GateConfig{
			RatePerSecond:   2,
			Burst:           10,
			LimiterIdleTTL:  10 * time.Minute,
			Ledger:          "memory",
			StartingCredits: 1000,
			MinCost:         1,
		},
		Registry: RegistryConfig{
			Window:           20,
			MinSamples:       5,
			DegradeErrorRate: 0.5,
			UnavailableAfter: 3,
			RecoverAfter:     5,
			ProbeInterval:    15 * time.Second,
			ProbeTimeout:     3 * time.Second,
			WeightErrorRate:  4,
			WeightLatency:    1,
			WeightCost:       0.5,
		},
		KillSwitch: KillSwitchConfig{
			PollInterval: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Buffer:  1024,
		},
		Identity: IdentityConfig{
			Issuer:         "promptforge",
			AllowAnonymous: true,
		},
		Providers: []ProviderConfig{
			{ID: "echo-local", Type: "echo", CostWeight: 0, MaxTokens: 32000, SupportsTools: true, Timeout: 5 * time.Second},
			{ID: "echo-backup", Type: "echo", CostWeight: 0.1, MaxTokens: 32000, SupportsTools: true, Timeout: 5 * time.Second},
		},
		Pipelines: defaultPipelines(),
		Routes:    defaultRoutes(),
	}
}

func defaultPipelines() []PipelineConfig {
	clean := StageConfig{Name: "clean", Kind: StageLocal, Transform: "collapse", Timeout: time.Second, MaxAttempts: 1}
	format := StageConfig{Name: "format", Kind: StageLocal, Transform: "markers", Timeout: time.Second, MaxAttempts: 1}
	rewrite := func(instruction string, parallel bool) StageConfig {
		return StageConfig{
			Name:        "rewrite",
			Kind:        StageProvider,
			Instruction: instruction,
			Timeout:     8 * time.Second,
			MaxAttempts: 3,
			Parallel:    parallel,
		}
	}
	refine := StageConfig{
		Name:        "refine",
		Kind:        StageProvider,
		Instruction: "Tighten the rewritten prompt. Keep every constraint, remove filler.",
		Timeout:     8 * time.Second,
		MaxAttempts: 3,
	}

	free := []string{"echo-local", "echo-backup"}
	pro := []string{"echo-backup", "echo-local"}

	return []PipelineConfig{
		{ID: "chat-free", Version: "1", Tier: TierFree, CostPer1K: 1, Providers: free,
			Stages: []StageConfig{clean, rewrite("Rewrite the prompt so it is clear and specific.", false), format}},
		{ID: "chat-pro", Version: "1", Tier: TierPro, CostPer1K: 4, Providers: pro,
			Stages: []StageConfig{clean, rewrite("Rewrite the prompt with role, context, task and output format.", false), refine, format}},
		{ID: "editor-free", Version: "1", Tier: TierFree, CostPer1K: 1, Providers: free,
			Stages: []StageConfig{rewrite("Rewrite the coding request. Preserve every code block verbatim.", false), format}},
		{ID: "editor-pro", Version: "1", Tier: TierPro, CostPer1K: 4, Providers: pro,
			Stages: []StageConfig{rewrite("Rewrite the coding request with acceptance criteria. Preserve every code block verbatim.", false), refine, format}},
		{ID: "agent-free", Version: "1", Tier: TierFree, CostPer1K: 1, Providers: free,
			Stages: []StageConfig{clean, rewrite("Rewrite the instruction as numbered steps an agent can execute.", false), format}},
		{ID: "agent-pro", Version: "1", Tier: TierPro, CostPer1K: 5, Providers: pro,
			Stages: []StageConfig{clean, rewrite("Rewrite the instruction as numbered steps with success checks.", false), refine, format}},
		{ID: "batch-free", Version: "1", Tier: TierFree, CostPer1K: 1, Providers: free,
			Stages: []StageConfig{clean, rewrite("Rewrite each prompt so it is clear and specific.", true), format}},
		{ID: "batch-pro", Version: "1", Tier: TierPro, CostPer1K: 4, Providers: pro,
			Stages: []StageConfig{clean, rewrite("Rewrite each prompt with role, context, task and output format.", true), format}},
	}
}

func defaultRoutes() []RouteConfig {
	var routes []RouteConfig
	for _, c := range model.AllClients() {
		for _, i := range model.AllIntents() {
			routes = append(routes, RouteConfig{
				Client: c.String(),
				Intent: i.String(),
				Free:   i.String() + "-free",
				Pro:    i.String() + "-pro",
			})
		}
	}
	return routes
}
