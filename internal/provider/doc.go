// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider contains the LLM provider adapters and the Registry that
// tracks their health and ranks them for selection.
//
// # Key Types
//
//   - Provider: An LLM endpoint that completes a Call
//   - Registry: Health state machine, scoring and selection
//   - Descriptor: Read-only snapshot of one provider's state
//
// # Health
//
// Each provider moves between three states:
//
//	healthy ----(window error rate > threshold)----> degraded
//	degraded --(consecutive failures >= limit)-----> unavailable
//	any -------(success streak or probe success)---> healthy
//
// State lives in a per-provider entry guarded by its own mutex. There is no
// lock spanning providers; Select reads atomically published snapshots.
//
// # Adapters
//
//   - echo: deterministic local rewriter, no network
//   - openrouter: OpenRouter chat completions over HTTP
//   - openai: OpenAI chat completions via go-openai
package provider
