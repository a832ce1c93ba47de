// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity resolves the caller behind a request.
//
// Callers present an HS256 bearer token whose claims carry the subject, the
// subscription plan and an optional API key id. The plan is therefore decided
// server-side; nothing in the request body can raise it. When anonymous access
// is enabled, requests without a token run on the free plan keyed by client
// address.
package identity
