// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package preprocess turns a raw upgrade request into a NormalizedRequest.
//
// Normalization is pure: it performs no I/O and depends only on the request
// and the configured limits.
//
// # Steps
//
//  1. Repair invalid UTF-8 and apply Unicode NFC normalization
//  2. Strip zero-width characters and markup tags outside code fences
//  3. Collapse whitespace outside code fences
//  4. Reject empty or too-long text
//  5. Redact secrets using the embedded pattern catalog
//  6. Infer the intent when the caller did not declare one
//
// # Security
//
// SECURITY: Redaction runs before any provider sees the text. Secrets are
// replaced with [REDACTED:<pattern-id>] markers.
package preprocess
