// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"sort"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/model"
)

// ============================================================================
// CATALOG
// ============================================================================

// Catalog holds the pipeline definitions and the decision table.
// It is built once and never mutated, so it is safe for concurrent use.
type Catalog struct {
	pipelines     map[string]PipelineSpec
	rules         map[RuleKey]Rule
	engineVersion string
}

// NewCatalog builds a catalog from validated configuration.
func NewCatalog(cfg *config.Config) (*Catalog, error) {
	c := &Catalog{
		pipelines:     make(map[string]PipelineSpec, len(cfg.Pipelines)),
		rules:         make(map[RuleKey]Rule, len(cfg.Routes)),
		engineVersion: cfg.Server.EngineVersion,
	}

	for _, p := range cfg.Pipelines {
		spec, err := pipelineFromConfig(p)
		if err != nil {
			return nil, err
		}
		c.pipelines[spec.ID] = spec
	}

	for _, r := range cfg.Routes {
		client, err := model.ParseClient(r.Client)
		if err != nil {
			return nil, fmt.Errorf("route %s/%s: %w", r.Client, r.Intent, err)
		}
		intent, err := model.ParseIntent(r.Intent)
		if err != nil || intent == model.IntentUnset {
			return nil, fmt.Errorf("route %s/%s: invalid intent", r.Client, r.Intent)
		}
		free, ok := c.pipelines[r.Free]
		if !ok || free.Tier != TierFree {
			return nil, fmt.Errorf("route %s/%s: free pipeline %q missing or not free", r.Client, r.Intent, r.Free)
		}
		if r.Pro != "" {
			if _, ok := c.pipelines[r.Pro]; !ok {
				return nil, fmt.Errorf("route %s/%s: unknown pro pipeline %q", r.Client, r.Intent, r.Pro)
			}
		}
		c.rules[RuleKey{Client: client, Intent: intent}] = Rule{Free: r.Free, Pro: r.Pro}
	}

	return c, nil
}

func pipelineFromConfig(p config.PipelineConfig) (PipelineSpec, error) {
	tier, err := ParseTier(p.Tier)
	if err != nil {
		return PipelineSpec{}, fmt.Errorf("pipeline %s: %w", p.ID, err)
	}
	spec := PipelineSpec{
		ID:        p.ID,
		Version:   p.Version,
		Tier:      tier,
		CostPer1K: p.CostPer1K,
		Providers: append([]string(nil), p.Providers...),
		Stages:    make([]StageSpec, 0, len(p.Stages)),
	}
	for _, s := range p.Stages {
		kind := StageProvider
		if s.Kind == config.StageLocal {
			kind = StageLocal
		}
		attempts := s.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
		if attempts > config.MaxStageAttempts {
			attempts = config.MaxStageAttempts
		}
		spec.Stages = append(spec.Stages, StageSpec{
			Name:        s.Name,
			Kind:        kind,
			Transform:   s.Transform,
			Instruction: s.Instruction,
			Timeout:     s.Timeout,
			MaxAttempts: attempts,
			Parallel:    s.Parallel,
			MinTokens:   s.MinTokens,
			NeedsTools:  s.NeedsTools,
		})
	}
	if len(spec.Stages) == 0 {
		return PipelineSpec{}, fmt.Errorf("pipeline %s: no stages", p.ID)
	}
	return spec, nil
}

// Pipeline returns a pipeline by id.
func (c *Catalog) Pipeline(id string) (PipelineSpec, bool) {
	p, ok := c.pipelines[id]
	return p, ok
}

// Pipelines returns every pipeline sorted by id.
func (c *Catalog) Pipelines() []PipelineSpec {
	out := make([]PipelineSpec, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rows returns a copy of the decision table.
func (c *Catalog) Rows() map[RuleKey]Rule {
	out := make(map[RuleKey]Rule, len(c.rules))
	for k, v := range c.rules {
		out[k] = v
	}
	return out
}

// SortedKeys returns the decision table keys in client, intent order.
func (c *Catalog) SortedKeys() []RuleKey {
	keys := make([]RuleKey, 0, len(c.rules))
	for k := range c.rules {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Client != keys[j].Client {
			return keys[i].Client < keys[j].Client
		}
		return keys[i].Intent < keys[j].Intent
	})
	return keys
}

// EngineVersion returns the engine version reported in results.
func (c *Catalog) EngineVersion() string {
	return c.engineVersion
}
