// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/gate"
)

// Usage is one committed charge.
type Usage struct {
	Identity         string
	SubscriptionItem string
	Credits          int64
	At               time.Time
}

// Reporter sends usage to the billing backend.
type Reporter interface {
	ReportUsage(ctx context.Context, u Usage) error
}

// =============================================================================
// STRIPE
// =============================================================================

// StripeReporter records usage with Stripe metered subscription items.
type StripeReporter struct {
	client *client.API
}

// NewStripeReporter creates a reporter using the given secret key.
func NewStripeReporter(apiKey string) (*StripeReporter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeReporter{client: sc}, nil
}

// ReportUsage increments the subscription item's usage by the committed
// credits.
func (s *StripeReporter) ReportUsage(ctx context.Context, u Usage) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(u.SubscriptionItem),
		Quantity:         stripe.Int64(u.Credits),
		Timestamp:        stripe.Int64(u.At.Unix()),
		Action:           stripe.String("increment"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("%s-%d-%d", u.SubscriptionItem, u.At.UnixNano(), u.Credits))

	if _, err := s.client.UsageRecords.New(params); err != nil {
		return fmt.Errorf("record usage for %s: %w", u.SubscriptionItem, err)
	}
	return nil
}

// =============================================================================
// METERED ACCOUNTING
// =============================================================================

type pending struct {
	identity string
	cost     int64
}

// Metered decorates an Accounting with usage reporting.
type Metered struct {
	inner    gate.Accounting
	reporter Reporter
	items    map[string]string

	mu      sync.Mutex
	pending map[string]pending

	now func() time.Time
}

// NewMetered wraps inner. items maps identity to subscription item;
// identities without an item are not reported.
func NewMetered(inner gate.Accounting, reporter Reporter, items map[string]string) *Metered {
	copied := make(map[string]string, len(items))
	for k, v := range items {
		copied[k] = v
	}
	return &Metered{
		inner:    inner,
		reporter: reporter,
		items:    copied,
		pending:  make(map[string]pending),
		now:      time.Now,
	}
}

// Wrap returns inner decorated according to cfg, or inner unchanged when
// billing is disabled.
func Wrap(inner gate.Accounting, cfg config.BillingConfig) (gate.Accounting, error) {
	if !cfg.Enabled {
		return inner, nil
	}
	reporter, err := NewStripeReporter(cfg.StripeKey)
	if err != nil {
		return nil, err
	}
	return NewMetered(inner, reporter, cfg.SubscriptionItems), nil
}

// Reserve implements gate.Accounting.
func (m *Metered) Reserve(ctx context.Context, identity string, cost int64) (string, error) {
	id, err := m.inner.Reserve(ctx, identity, cost)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.pending[id] = pending{identity: identity, cost: cost}
	m.mu.Unlock()
	return id, nil
}

// Commit implements gate.Accounting. A reporting failure is logged and does
// not undo the commit.
func (m *Metered) Commit(ctx context.Context, reservationID string) error {
	if err := m.inner.Commit(ctx, reservationID); err != nil {
		return err
	}
	p, ok := m.take(reservationID)
	if !ok || p.cost <= 0 {
		return nil
	}
	item, ok := m.items[p.identity]
	if !ok {
		return nil
	}

	u := Usage{Identity: p.identity, SubscriptionItem: item, Credits: p.cost, At: m.now()}
	if err := m.reporter.ReportUsage(ctx, u); err != nil {
		log.WithFields(log.Fields{
			"event":       "billing_report",
			"identity":    p.identity,
			"reservation": reservationID,
			"credits":     p.cost,
		}).WithError(err).Warn("usage report failed")
	}
	return nil
}

// Release implements gate.Accounting.
func (m *Metered) Release(ctx context.Context, reservationID string) error {
	m.take(reservationID)
	return m.inner.Release(ctx, reservationID)
}

// Pending returns the number of holds awaiting settlement.
func (m *Metered) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Metered) take(id string) (pending, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	delete(m.pending, id)
	return p, ok
}
