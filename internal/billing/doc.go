// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package billing reports committed credit usage to a metered billing
// backend.
//
// Metered wraps any gate.Accounting. Holds pass straight through; on a
// successful Commit the reserved cost is reported as usage against the
// identity's subscription item. Released holds are never reported, so
// failed and cancelled requests are not billed.
package billing
