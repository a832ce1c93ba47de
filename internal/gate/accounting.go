// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/promptforge/internal/model"
)

// ErrUnknownReservation is returned by MemoryAccounting for holds it does not
// know about.
var ErrUnknownReservation = errors.New("unknown reservation")

// Accounting is the external credit contract.
// Reserve must fail with model.KindInsufficientCredits when the identity
// cannot cover cost, and must be atomic against concurrent reservations.
type Accounting interface {
	Reserve(ctx context.Context, identity string, cost int64) (string, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

// =============================================================================
// MEMORY ACCOUNTING
// =============================================================================

type memoryHold struct {
	identity string
	amount   int64
}

// MemoryAccounting is an in-process Accounting for development and tests.
type MemoryAccounting struct {
	mu       sync.Mutex
	starting int64
	balances map[string]int64
	holds    map[string]memoryHold
}

// NewMemoryAccounting creates an in-memory ledger granting startingCredits
// to each new identity.
func NewMemoryAccounting(startingCredits int64) *MemoryAccounting {
	return &MemoryAccounting{
		starting: startingCredits,
		balances: make(map[string]int64),
		holds:    make(map[string]memoryHold),
	}
}

// Reserve implements Accounting.
func (m *MemoryAccounting) Reserve(_ context.Context, identity string, cost int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.balances[identity]; !ok {
		m.balances[identity] = m.starting
	}
	if avail := m.availableLocked(identity); avail < cost {
		return "", model.Errorf(model.KindInsufficientCredits, "need %d credits, %d available", cost, avail)
	}
	id := uuid.NewString()
	m.holds[id] = memoryHold{identity: identity, amount: cost}
	return id, nil
}

// Commit implements Accounting.
func (m *MemoryAccounting) Commit(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[reservationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}
	delete(m.holds, reservationID)
	m.balances[h.identity] -= h.amount
	return nil
}

// Release implements Accounting.
func (m *MemoryAccounting) Release(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holds[reservationID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}
	delete(m.holds, reservationID)
	return nil
}

// Balance returns the committed balance for identity.
func (m *MemoryAccounting) Balance(identity string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[identity]; ok {
		return b
	}
	return m.starting
}

// Outstanding returns the number of unsettled holds.
func (m *MemoryAccounting) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holds)
}

func (m *MemoryAccounting) availableLocked(identity string) int64 {
	avail := m.balances[identity]
	for _, h := range m.holds {
		if h.identity == identity {
			avail -= h.amount
		}
	}
	return avail
}
