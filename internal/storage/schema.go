// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// Schema creates the ledger tables.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	identity   TEXT PRIMARY KEY,
	balance    INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS holds (
	id         TEXT PRIMARY KEY,
	identity   TEXT NOT NULL REFERENCES accounts(identity),
	amount     INTEGER NOT NULL CHECK (amount >= 0),
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_holds_identity ON holds(identity);

CREATE TABLE IF NOT EXISTS entries (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	identity   TEXT NOT NULL,
	hold_id    TEXT,
	delta      INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_identity ON entries(identity);
`

// Entry reasons.
const (
	ReasonCommit = "commit"
	ReasonGrant  = "grant"
)
