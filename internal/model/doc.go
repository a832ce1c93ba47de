// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the request, result and error types shared by every
// stage of the prompt upgrade flow.
//
// # Key Types
//
//   - Request: An inbound upgrade request as accepted at the edge
//   - NormalizedRequest: A request after preprocessing (clean text, resolved intent)
//   - ExecutionAttempt: One provider invocation recorded in the trace
//   - ExecutionResult: The finalized, client-facing outcome
//   - Error: The single error type carrying a Kind from the error taxonomy
//
// # Enumerations
//
// Client, Intent and Plan are closed sets. Unknown values never parse; callers
// receive a MalformedIntent (for intents) or a validation failure at the edge.
//
// # Usage
//
//	c, err := model.ParseClient("browser-chat")
//	if err != nil {
//	    return err
//	}
//	req := model.Request{Text: text, Client: c, Plan: model.PlanFree}
package model
