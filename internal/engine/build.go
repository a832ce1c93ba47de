// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"fmt"
	"os"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/executor"
	"github.com/jeranaias/promptforge/internal/gate"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/postprocess"
	"github.com/jeranaias/promptforge/internal/preprocess"
	"github.com/jeranaias/promptforge/internal/router"
	"github.com/jeranaias/promptforge/internal/telemetry"
)

// Components are the runtime collaborators FromConfig cannot build from
// configuration alone.
type Components struct {
	Registry executor.Registry
	Accounts gate.Accounting
	Switches killswitch.Source
	Metrics  *telemetry.Metrics
	Hook     *telemetry.Hook
}

// FromConfig builds an engine from a validated config.
func FromConfig(cfg *config.Config, c Components) (*Engine, error) {
	if c.Registry == nil || c.Accounts == nil {
		return nil, fmt.Errorf("engine: registry and accounting are required")
	}

	if c.Switches == nil {
		c.Switches = killswitch.NewStore()
	}

	redactor, err := loadRedactor(cfg.Limits.RedactionPatterns)
	if err != nil {
		return nil, err
	}

	catalog, err := router.NewCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	exec := executor.New(c.Registry, catalog, executor.OptionsFromConfig(cfg.Limits))
	if c.Metrics != nil {
		exec.WithObserver(c.Metrics)
	}

	return New(Deps{
		Preprocessor: preprocess.New(cfg.Limits.MaxTextRunes, redactor),
		Catalog:      catalog,
		Gate:         gate.New(gate.OptionsFromConfig(cfg.Gate), c.Accounts, c.Switches),
		Executor:     exec,
		Finalizer:    postprocess.New(postprocess.OptionsFromConfig(cfg.Limits)),
		Switches:     c.Switches,
		Metrics:      c.Metrics,
		Hook:         c.Hook,
		MinCost:      cfg.Gate.MinCost,
	})
}

// loadRedactor returns nil, meaning the built-in catalog, when path is empty.
func loadRedactor(path string) (*preprocess.Redactor, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read redaction patterns: %w", err)
	}
	patterns, err := preprocess.ParsePatterns(data)
	if err != nil {
		return nil, err
	}
	return preprocess.NewRedactor(patterns), nil
}
