// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the sqlite credit ledger used by the gate.
//
// The ledger implements the reserve/commit/release accounting contract.
// A reservation places a hold against an identity's balance; commit turns
// the hold into a debit and release drops it. Spendable credit is always
// balance minus outstanding holds, so concurrent requests cannot spend the
// same credits twice.
//
// # Usage
//
//	ledger, err := storage.OpenLedger(path, 1000)
//	id, err := ledger.Reserve(ctx, "user-42", 3)
//	err = ledger.Commit(ctx, id)
//
// Identities the ledger has never seen are opened with the configured
// starting balance on first use.
package storage
