// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the upgrade engine over HTTP.
//
// # Endpoints
//
//   - POST /v1/upgrade    - Upgrade a prompt
//   - GET  /v1/providers  - Provider registry snapshot
//   - GET  /health        - Health check
//   - GET  /metrics       - Prometheus metrics
//
// # Errors
//
// Every failure is returned as
//
//	{"error": {"kind": "RateLimited", "message": "...", "retry_after": 3}}
//
// where kind is machine-readable and stable. RateLimited responses also
// carry a Retry-After header.
//
// # Identity
//
// The caller's plan comes from its bearer token, never from the request
// body. Without a token the caller is anonymous on the free plan when the
// identity section allows it.
package server
