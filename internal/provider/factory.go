// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"fmt"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/offline"
)

// =============================================================================
// CONSTRUCTION FROM CONFIG
// =============================================================================

// FromConfig builds a registration for one configured provider.
// Remote providers are rejected in offline mode unless their endpoint is loopback.
func FromConfig(pc config.ProviderConfig) (Registration, error) {
	reg := Registration{
		Type: pc.Type,
		Capabilities: Capabilities{
			MaxTokens:     pc.MaxTokens,
			SupportsTools: pc.SupportsTools,
		},
		CostWeight: pc.CostWeight,
		Disabled:   pc.Disabled,
	}

	switch pc.Type {
	case "echo":
		reg.Provider = NewEcho(pc.ID, 0)

	case "openrouter":
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = DefaultOpenRouterURL
		}
		if err := offline.ValidateEndpointURL(baseURL); err != nil {
			return Registration{}, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		reg.Provider = NewOpenRouter(pc.ID, pc.APIKey).WithBaseURL(baseURL).WithModel(pc.Model)

	case "openai":
		if pc.BaseURL == "" {
			if err := offline.CheckRemoteAllowed(); err != nil {
				return Registration{}, fmt.Errorf("provider %s: %w", pc.ID, err)
			}
		} else if err := offline.ValidateEndpointURL(pc.BaseURL); err != nil {
			return Registration{}, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		reg.Provider = NewOpenAI(pc.ID, pc.APIKey, pc.BaseURL, pc.Model)

	case "ollama":
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		if err := offline.ValidateEndpointURL(baseURL); err != nil {
			return Registration{}, fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		reg.Provider = NewOllama(pc.ID, baseURL, pc.Model)

	default:
		return Registration{}, fmt.Errorf("provider %s: unknown type %q", pc.ID, pc.Type)
	}
	return reg, nil
}

// BuildRegistry creates a registry for every configured provider.
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	regs := make([]Registration, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		reg, err := FromConfig(pc)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return NewRegistry(OptionsFromConfig(cfg.Registry), regs...)
}
