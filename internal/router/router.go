// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/model"
)

// ============================================================================
// ROUTING
// ============================================================================

// DowngradeKillSwitch prefixes the downgrade reason for kill-switched pro pipelines.
const DowngradeKillSwitch = "kill_switch:"

// Route resolves the pipeline for (client, intent, plan).
//
// Rules, in order:
//  1. No table row for (client, intent) fails with UnknownRoute.
//  2. Paid plans take the pro column when the row has one.
//  3. A kill-switched pro pipeline is downgraded to the free column.
//  4. A kill-switched free pipeline fails with PipelineDisabled.
//
// Route is deterministic for a given catalog and kill-switch snapshot.
func (c *Catalog) Route(client model.Client, intent model.Intent, plan model.Plan, ks KillSwitches) (RouteDecision, error) {
	if ks == nil {
		ks = NoKillSwitches{}
	}
	key := RuleKey{Client: client, Intent: intent}

	rule, ok := c.rules[key]
	if !ok {
		return RouteDecision{}, model.Errorf(model.KindUnknownRoute, "no pipeline for %s", key)
	}

	target := rule.Free
	var downgraded bool
	var reason string

	if plan.IsPaid() && rule.Pro != "" {
		if ks.PipelineDisabled(rule.Pro) {
			downgraded = true
			reason = DowngradeKillSwitch + rule.Pro
		} else {
			target = rule.Pro
		}
	}

	if target == rule.Free && ks.PipelineDisabled(rule.Free) {
		return RouteDecision{}, model.Errorf(model.KindPipelineDisabled, "pipeline %s is disabled", rule.Free)
	}

	decision := c.decision(key, plan, target, rule)
	decision.Downgraded = downgraded
	decision.DowngradeReason = reason

	log.WithFields(log.Fields{
		"event":      "route",
		"route":      key.String(),
		"plan":       plan.String(),
		"pipeline":   decision.MatchedPipeline,
		"downgraded": downgraded,
	}).Debug("pipeline selected")

	return decision, nil
}

// FreeEquivalent returns the decision for the free pipeline of the same row.
// ok is false when the decision is already free or the free pipeline is
// kill-switched.
func (c *Catalog) FreeEquivalent(d RouteDecision, ks KillSwitches) (RouteDecision, bool) {
	if ks == nil {
		ks = NoKillSwitches{}
	}
	if d.FreePipeline == "" || ks.PipelineDisabled(d.FreePipeline) {
		return RouteDecision{}, false
	}
	rule, ok := c.rules[d.Key]
	if !ok {
		return RouteDecision{}, false
	}
	fallback := c.decision(d.Key, d.Plan, d.FreePipeline, rule)
	fallback.Downgraded = true
	fallback.DowngradeReason = "fallback:" + d.Pipeline.ID
	return fallback, true
}

func (c *Catalog) decision(key RuleKey, plan model.Plan, target string, rule Rule) RouteDecision {
	spec := c.pipelines[target]
	d := RouteDecision{
		Pipeline:        spec,
		Key:             key,
		Plan:            plan,
		MatchedPipeline: spec.ID,
		EngineVersion:   c.engineVersion,
	}
	if target != rule.Free {
		d.FreePipeline = rule.Free
	}
	return d
}
