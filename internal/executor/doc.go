// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package executor runs a routed pipeline against the provider registry.
//
// Stages run in declared order. A provider stage makes at most MaxAttempts
// calls, each against the best provider not yet tried for that stage, each
// bounded by the stage timeout. When a pro pipeline exhausts a stage, the
// remaining work moves once to the free pipeline of the same route; a second
// exhaustion ends the request with FallbackExhausted.
//
// The whole execution is bounded by the pipeline budgets plus a fixed
// overhead. Caller cancellation stops new provider calls at once; a call
// already in flight is abandoned rather than waited for.
package executor
