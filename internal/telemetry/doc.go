// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides request metrics and the consent-gated event hook.
//
// # Key Types
//
//   - Metrics: Prometheus collectors for requests, provider attempts,
//     stage latency, gate rejections and provider health
//   - Hook: asynchronous event emitter with a bounded buffer
//   - Event: one finished request
//   - Sink: destination for events (JSONL file, structured log)
//
// # Privacy
//
// Before/after text is attached to an event only when the request's consent
// flags explicitly allow it. Without consent the event carries counters and
// identifiers only. The hook enforces this itself; callers may hand it the
// full event.
//
// # Backpressure
//
// Emit never blocks a request. When the buffer is full the event is dropped
// and counted.
package telemetry
