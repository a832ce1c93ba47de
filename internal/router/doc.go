// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router selects the pipeline that serves a request.
//
// Routing is a static decision table keyed by (client, intent). Each row
// names a free pipeline and an optional pro pipeline; the caller's plan picks
// the column. The table is loaded once from configuration and is immutable.
//
// # Key Types
//
//   - Catalog: Immutable pipeline catalog and decision table
//   - PipelineSpec: A pipeline definition (stages, providers, tier)
//   - RouteDecision: The chosen pipeline plus downgrade information
//   - KillSwitches: Point-in-time view of which pipelines are disabled
//
// # Fail Closed
//
// A (client, intent) pair without a row yields UnknownRoute. A request is
// never silently served by some other pipeline.
//
// # Kill-Switches
//
// When the pro pipeline for a request is kill-switched the decision is
// downgraded to the free pipeline of the same row and the reason is recorded.
// The plan is the sole authority for pro access; nothing in the request body
// can select a pro pipeline.
//
// # Usage
//
//	cat, err := router.NewCatalog(cfg)
//	decision, err := cat.Route(model.ClientBrowserChat, model.IntentChat, model.PlanPro, switches)
//	if decision.Downgraded {
//	    // decision.DowngradeReason explains why
//	}
package router
