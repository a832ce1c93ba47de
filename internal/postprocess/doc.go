// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package postprocess turns raw pipeline output into the caller-facing result.
//
// Finalize strips stage control markers, caps the output size and scores the
// result with a deterministic fidelity heuristic. It never fails: output that
// cannot be used is replaced by the normalized input and flagged degraded.
package postprocess
