// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate performs admission control before any paid work runs.
//
// Authorize checks, cheapest first, the endpoint kill-switch, the caller's
// token bucket (per identity and, when configured, per API key) and finally
// reserves credits through an Accounting backend. Every Reservation must be
// passed to Settle exactly once: success commits the debit, anything else
// releases the hold.
package gate
