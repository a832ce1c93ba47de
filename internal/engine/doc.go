// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine runs one upgrade request end to end.
//
// The flow is fixed:
//
//	Preprocess -> Route -> Gate -> Execute -> Postprocess -> Settle -> Telemetry
//
// Validation and routing errors are returned before the gate is consulted,
// so they never create a credit reservation. Once a reservation exists it
// is settled exactly once on every path, including panics and cancellation.
package engine
