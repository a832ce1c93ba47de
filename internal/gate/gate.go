// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/model"
)

// ErrAlreadySettled is returned when a reservation is settled twice.
var ErrAlreadySettled = errors.New("reservation already settled")

// AnonymousIdentity is the rate-limit and ledger key for callers without one.
const AnonymousIdentity = "anonymous"

// settleTimeout bounds the accounting call made while settling.
const settleTimeout = 5 * time.Second

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Gate.
type Options struct {
	RatePerSecond       float64
	Burst               int
	APIKeyRatePerSecond float64
	APIKeyBurst         int
	IdleTTL             time.Duration
}

// OptionsFromConfig maps the gate config section.
func OptionsFromConfig(cfg config.GateConfig) Options {
	return Options{
		RatePerSecond:       cfg.RatePerSecond,
		Burst:               cfg.Burst,
		APIKeyRatePerSecond: cfg.APIKeyRatePerSecond,
		APIKeyBurst:         cfg.APIKeyBurst,
		IdleTTL:             cfg.LimiterIdleTTL,
	}
}

// =============================================================================
// RESERVATION
// =============================================================================

// Reservation is a credit hold returned by Authorize.
type Reservation struct {
	ID        string
	Identity  string
	Cost      int64
	CreatedAt time.Time

	settled atomic.Bool
}

// Settled reports whether Settle has run.
func (r *Reservation) Settled() bool {
	return r.settled.Load()
}

// =============================================================================
// GATE
// =============================================================================

// Gate is the admission controller.
type Gate struct {
	opts       Options
	accounts   Accounting
	switches   killswitch.Source
	identities *limiterSet
	apiKeys    *limiterSet

	outstanding atomic.Int64
	now         func() time.Time
}

// New creates a gate. switches may be nil.
func New(opts Options, accounts Accounting, switches killswitch.Source) *Gate {
	g := &Gate{
		opts:       opts,
		accounts:   accounts,
		switches:   switches,
		identities: newLimiterSet(opts.RatePerSecond, opts.Burst),
		now:        time.Now,
	}
	if opts.APIKeyRatePerSecond > 0 {
		g.apiKeys = newLimiterSet(opts.APIKeyRatePerSecond, opts.APIKeyBurst)
	}
	return g
}

// Authorize admits req and reserves cost credits.
func (g *Gate) Authorize(ctx context.Context, req *model.Request, cost int64) (*Reservation, error) {
	identity := req.Identity
	if identity == "" {
		identity = AnonymousIdentity
	}
	fields := log.Fields{
		"event":      "gate_reject",
		"request_id": req.CorrelationID,
	}

	if g.switches != nil && g.switches.Snapshot().EndpointDisabled() {
		log.WithFields(fields).WithField("kind", model.KindKillSwitchActive).Info("endpoint disabled")
		return nil, model.Errorf(model.KindKillSwitchActive, "endpoint is temporarily disabled")
	}

	now := g.now()
	token, wait := g.identities.take(identity, now)
	if token == nil {
		log.WithFields(fields).WithField("kind", model.KindRateLimited).Info("identity rate limited")
		return nil, rateLimited(wait)
	}
	if g.apiKeys != nil && req.APIKey != "" {
		if keyToken, wait := g.apiKeys.take(req.APIKey, now); keyToken == nil {
			// The identity keeps its token when the key bucket rejects.
			token.CancelAt(now)
			log.WithFields(fields).WithField("kind", model.KindRateLimited).Info("api key rate limited")
			return nil, rateLimited(wait)
		}
	}

	id, err := g.accounts.Reserve(ctx, identity, cost)
	if err != nil {
		if !model.IsKind(err, model.KindInsufficientCredits) {
			return nil, model.Wrap(model.KindInsufficientCredits, err, "credit reservation failed")
		}
		log.WithFields(fields).WithField("kind", model.KindInsufficientCredits).Info("insufficient credits")
		return nil, err
	}

	g.outstanding.Add(1)
	return &Reservation{ID: id, Identity: identity, Cost: cost, CreatedAt: now}, nil
}

// Settle commits the reservation on success and releases it otherwise.
// A second call returns ErrAlreadySettled and touches nothing.
func (g *Gate) Settle(ctx context.Context, res *Reservation, outcome model.Outcome) error {
	if res == nil {
		return nil
	}
	if !res.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	g.outstanding.Add(-1)

	// The request context may already be cancelled; settlement must still run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	fields := log.Fields{
		"event":       "gate_settle",
		"reservation": res.ID,
		"outcome":     outcome.String(),
		"cost":        res.Cost,
	}

	if outcome == model.SettleSuccess {
		err := g.accounts.Commit(ctx, res.ID)
		if err == nil {
			log.WithFields(fields).Debug("reservation committed")
			return nil
		}
		log.WithFields(fields).WithError(err).Error("commit failed, releasing hold")
		if rerr := g.accounts.Release(ctx, res.ID); rerr != nil {
			log.WithFields(fields).WithError(rerr).Error("release after failed commit")
		}
		return err
	}

	if err := g.accounts.Release(ctx, res.ID); err != nil {
		log.WithFields(fields).WithError(err).Error("release failed")
		return err
	}
	log.WithFields(fields).Debug("reservation released")
	return nil
}

// Outstanding returns the number of reservations not yet settled.
func (g *Gate) Outstanding() int64 {
	return g.outstanding.Load()
}

// Run evicts idle limiters until ctx is done.
func (g *Gate) Run(ctx context.Context) {
	ttl := g.opts.IdleTTL
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.EvictIdle()
		}
	}
}

// EvictIdle drops limiters unused for longer than the idle TTL.
func (g *Gate) EvictIdle() int {
	if g.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := g.now().Add(-g.opts.IdleTTL)
	n := g.identities.evict(cutoff)
	if g.apiKeys != nil {
		n += g.apiKeys.evict(cutoff)
	}
	if n > 0 {
		log.WithFields(log.Fields{"event": "limiter_evict", "count": n}).Debug("evicted idle limiters")
	}
	return n
}

func rateLimited(wait time.Duration) error {
	if wait < time.Second {
		wait = time.Second
	}
	return &model.Error{
		Kind:       model.KindRateLimited,
		Message:    "rate limit exceeded",
		RetryAfter: wait.Round(time.Second),
	}
}
