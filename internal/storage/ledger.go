// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/promptforge/internal/model"
)

// ErrUnknownReservation is returned when committing or releasing a hold that
// does not exist or was already settled.
var ErrUnknownReservation = errors.New("unknown reservation")

// MemoryPath opens a private in-memory ledger.
const MemoryPath = ":memory:"

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is a sqlite-backed credit ledger.
type Ledger struct {
	db       *sql.DB
	path     string
	starting int64
}

// Account is a point-in-time balance view.
type Account struct {
	Identity string `json:"identity"`
	Balance  int64  `json:"balance"`
	Held     int64  `json:"held"`
}

// Available returns the spendable credit.
func (a Account) Available() int64 {
	return a.Balance - a.Held
}

// OpenLedger opens (creating if needed) the ledger at path.
// startingCredits is granted to identities on first use.
func OpenLedger(path string, startingCredits int64) (*Ledger, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One connection serializes every transaction, which makes the
	// balance check and the hold insert atomic.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Ledger{db: db, path: path, starting: startingCredits}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database path.
func (l *Ledger) Path() string {
	return l.path
}

// =============================================================================
// ACCOUNTING
// =============================================================================

// Reserve places a hold of cost credits against identity.
// It fails with KindInsufficientCredits when balance minus existing holds is
// below cost.
func (l *Ledger) Reserve(ctx context.Context, identity string, cost int64) (string, error) {
	if cost < 0 {
		return "", fmt.Errorf("negative reservation %d", cost)
	}

	var id string
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		if err := l.ensureAccount(ctx, tx, identity, now); err != nil {
			return err
		}

		acct, err := accountTx(ctx, tx, identity)
		if err != nil {
			return err
		}
		if acct.Available() < cost {
			return model.Errorf(model.KindInsufficientCredits,
				"need %d credits, %d available", cost, acct.Available())
		}

		id = uuid.NewString()
		_, err = tx.ExecContext(ctx,
			"INSERT INTO holds (id, identity, amount, created_at) VALUES (?, ?, ?, ?)",
			id, identity, cost, now)
		return err
	})
	if err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"event":       "ledger_reserve",
		"reservation": id,
		"cost":        cost,
	}).Debug("credits reserved")
	return id, nil
}

// Commit converts a hold into a debit.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		identity, amount, err := takeHold(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		now := time.Now().Unix()
		if _, err := tx.ExecContext(ctx,
			"UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE identity = ?",
			amount, now, identity); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO entries (identity, hold_id, delta, reason, created_at) VALUES (?, ?, ?, ?, ?)",
			identity, reservationID, -amount, ReasonCommit, now)
		return err
	})
}

// Release drops a hold without debiting.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		_, _, err := takeHold(ctx, tx, reservationID)
		return err
	})
}

// Grant adds credits to an identity.
func (l *Ledger) Grant(ctx context.Context, identity string, amount int64) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		if err := l.ensureAccount(ctx, tx, identity, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE identity = ?",
			amount, now, identity); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO entries (identity, delta, reason, created_at) VALUES (?, ?, ?, ?)",
			identity, amount, ReasonGrant, now)
		return err
	})
}

// Account returns the balance view for identity. Unseen identities report the
// starting balance.
func (l *Ledger) Account(ctx context.Context, identity string) (Account, error) {
	var acct Account
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		acct, err = accountTx(ctx, tx, identity)
		if errors.Is(err, sql.ErrNoRows) {
			acct = Account{Identity: identity, Balance: l.starting}
			return nil
		}
		return err
	})
	return acct, err
}

// OutstandingHolds returns the number of unsettled reservations.
func (l *Ledger) OutstandingHolds(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM holds").Scan(&n)
	return n, err
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (l *Ledger) ensureAccount(ctx context.Context, tx *sql.Tx, identity string, now int64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO accounts (identity, balance, created_at, updated_at) VALUES (?, ?, ?, ?)",
		identity, l.starting, now, now)
	return err
}

func accountTx(ctx context.Context, tx *sql.Tx, identity string) (Account, error) {
	acct := Account{Identity: identity}
	err := tx.QueryRowContext(ctx, `
		SELECT a.balance, COALESCE((SELECT SUM(h.amount) FROM holds h WHERE h.identity = a.identity), 0)
		FROM accounts a WHERE a.identity = ?`, identity).Scan(&acct.Balance, &acct.Held)
	return acct, err
}

func takeHold(ctx context.Context, tx *sql.Tx, reservationID string) (string, int64, error) {
	var identity string
	var amount int64
	err := tx.QueryRowContext(ctx,
		"SELECT identity, amount FROM holds WHERE id = ?", reservationID).Scan(&identity, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}
	if err != nil {
		return "", 0, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM holds WHERE id = ?", reservationID); err != nil {
		return "", 0, err
	}
	return identity, amount, nil
}
