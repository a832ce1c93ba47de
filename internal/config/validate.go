// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
// The returned error is a ValidateErrors listing every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// ==========================================================================
	// Ambient settings
	// ==========================================================================

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level '%s', must be one of: trace, debug, info, warn, error", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format", "invalid format '%s', must be text or json", c.Log.Format)
	}
	if c.Limits.MaxTextRunes <= 0 {
		add("limits.max_text_runes", "must be positive")
	}
	if c.Limits.MaxOutputRunes <= 0 {
		add("limits.max_output_runes", "must be positive")
	}
	if c.Limits.MaxTrace <= 0 {
		add("limits.max_trace", "must be positive")
	}

	// ==========================================================================
	// Gate
	// ==========================================================================

	if c.Gate.RatePerSecond <= 0 || c.Gate.Burst <= 0 {
		add("gate", "rate_per_second and burst must be positive")
	}
	if c.Gate.APIKeyRatePerSecond < 0 || c.Gate.APIKeyBurst < 0 {
		add("gate", "api key limits must not be negative")
	}
	switch c.Gate.Ledger {
	case "memory":
	case "sqlite":
		if c.Gate.LedgerPath == "" {
			add("gate.ledger_path", "required when ledger is sqlite")
		}
	default:
		add("gate.ledger", "invalid ledger '%s', must be memory or sqlite", c.Gate.Ledger)
	}

	// ==========================================================================
	// Registry
	// ==========================================================================

	if c.Registry.DegradeErrorRate <= 0 || c.Registry.DegradeErrorRate > 1 {
		add("registry.degrade_error_rate", "must be in (0, 1]")
	}
	if c.Registry.MinSamples > c.Registry.Window {
		add("registry.min_samples", "must not exceed registry.window (%d)", c.Registry.Window)
	}

	if !c.Identity.AllowAnonymous && c.Identity.JWTSecret == "" {
		add("identity.jwt_secret", "required when anonymous access is disabled")
	}
	if c.Identity.JWTSecret != "" && len(c.Identity.JWTSecret) < 32 {
		add("identity.jwt_secret", "must be at least 32 bytes")
	}

	if c.Billing.Enabled && c.Billing.StripeKey == "" {
		add("billing.stripe_key", "required when billing is enabled")
	}

	// ==========================================================================
	// Providers
	// ==========================================================================

	providers := make(map[string]bool)
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			add(field+".id", "must not be empty")
			continue
		}
		if providers[p.ID] {
			add(field+".id", "duplicate provider '%s'", p.ID)
		}
		providers[p.ID] = true
		if !ProviderTypes[p.Type] {
			add(field+".type", "invalid type '%s', must be one of: echo, openrouter, openai, ollama", p.Type)
		}
		if p.BaseURL != "" {
			u, err := url.Parse(p.BaseURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				add(field+".base_url", "must be an http or https URL")
			}
		}
		if p.CostWeight < 0 {
			add(field+".cost_weight", "must not be negative")
		}
	}

	// ==========================================================================
	// Pipelines
	// ==========================================================================

	pipelines := make(map[string]PipelineConfig)
	for i, p := range c.Pipelines {
		field := fmt.Sprintf("pipelines[%d]", i)
		if p.ID == "" {
			add(field+".id", "must not be empty")
			continue
		}
		if _, dup := pipelines[p.ID]; dup {
			add(field+".id", "duplicate pipeline '%s'", p.ID)
		}
		pipelines[p.ID] = p
		if p.Tier != TierFree && p.Tier != TierPro {
			add(field+".tier", "invalid tier '%s', must be free or pro", p.Tier)
		}
		if p.CostPer1K < 0 {
			add(field+".cost_per_1k", "must not be negative")
		}
		if len(p.Stages) == 0 {
			add(field+".stages", "pipeline '%s' has no stages", p.ID)
		}
		for _, id := range p.Providers {
			if !providers[id] {
				add(field+".providers", "unknown provider '%s'", id)
			}
		}
		for j, s := range p.Stages {
			sf := fmt.Sprintf("%s.stages[%d]", field, j)
			if s.Name == "" {
				add(sf+".name", "must not be empty")
			}
			switch s.Kind {
			case StageLocal:
				if !LocalTransforms[s.Transform] {
					add(sf+".transform", "unknown transform '%s'", s.Transform)
				}
			case StageProvider:
			default:
				add(sf+".kind", "invalid kind '%s', must be local or provider", s.Kind)
			}
			if s.Timeout <= 0 {
				add(sf+".timeout", "must be positive")
			}
			if s.MaxAttempts < 1 || s.MaxAttempts > MaxStageAttempts {
				add(sf+".max_attempts", "must be between 1 and %d", MaxStageAttempts)
			}
		}
	}

	// ==========================================================================
	// Decision table
	// ==========================================================================

	seen := make(map[string]bool)
	for i, r := range c.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if _, err := model.ParseClient(r.Client); err != nil {
			add(field+".client", "%v", err)
		}
		intent, err := model.ParseIntent(r.Intent)
		if err != nil || intent == model.IntentUnset {
			add(field+".intent", "invalid intent '%s'", r.Intent)
		}
		key := r.Client + "/" + r.Intent
		if seen[key] {
			add(field, "duplicate route for %s", key)
		}
		seen[key] = true

		if p, ok := pipelines[r.Free]; !ok {
			add(field+".free", "unknown pipeline '%s'", r.Free)
		} else if p.Tier != TierFree {
			add(field+".free", "pipeline '%s' is not a free pipeline", r.Free)
		}
		if r.Pro != "" {
			if _, ok := pipelines[r.Pro]; !ok {
				add(field+".pro", "unknown pipeline '%s'", r.Pro)
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
