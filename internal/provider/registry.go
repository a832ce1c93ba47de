// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// HEALTH STATE
// =============================================================================

// HealthState is the health of a provider. Lower is better.
type HealthState int32

const (
	// Healthy providers are preferred.
	Healthy HealthState = iota
	// Degraded providers are used when no healthy provider qualifies.
	Degraded
	// Unavailable providers are never selected until a probe succeeds.
	Unavailable
)

// String returns the state name.
func (h HealthState) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("HealthState(%d)", int(h))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (h HealthState) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// statePenalty is added to the score so state dominates ranking.
func (h HealthState) statePenalty() float64 {
	switch h {
	case Healthy:
		return 0
	case Degraded:
		return 1000
	default:
		return 1e6
	}
}

// CostPreference scales the cost term of the score.
type CostPreference int

const (
	// PreferBalanced weighs cost normally.
	PreferBalanced CostPreference = iota
	// PreferCheap weighs cost heavily.
	PreferCheap
	// PreferQuality ignores cost.
	PreferQuality
)

func (p CostPreference) multiplier() float64 {
	switch p {
	case PreferCheap:
		return 3
	case PreferQuality:
		return 0
	default:
		return 1
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options tunes the health state machine and scoring.
type Options struct {
	Window           int
	MinSamples       int
	DegradeErrorRate float64
	UnavailableAfter int
	RecoverAfter     int
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration

	WeightErrorRate float64
	WeightLatency   float64
	WeightCost      float64
}

// OptionsFromConfig converts registry configuration to Options.
func OptionsFromConfig(c config.RegistryConfig) Options {
	return Options{
		Window:           c.Window,
		MinSamples:       c.MinSamples,
		DegradeErrorRate: c.DegradeErrorRate,
		UnavailableAfter: c.UnavailableAfter,
		RecoverAfter:     c.RecoverAfter,
		ProbeInterval:    c.ProbeInterval,
		ProbeTimeout:     c.ProbeTimeout,
		WeightErrorRate:  c.WeightErrorRate,
		WeightLatency:    c.WeightLatency,
		WeightCost:       c.WeightCost,
	}
}

// DefaultOptions returns the options of the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Registry)
}

// =============================================================================
// DESCRIPTOR
// =============================================================================

// Descriptor is a read-only snapshot of a provider.
type Descriptor struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Capabilities Capabilities  `json:"capabilities"`
	Health       HealthState   `json:"health"`
	ErrorRate    float64       `json:"error_rate"`
	P95Latency   time.Duration `json:"p95_latency_ns"`
	CostWeight   float64       `json:"cost_weight"`
	Score        float64       `json:"score"`
	Samples      int           `json:"samples"`
	Disabled     bool          `json:"disabled"`
}

// Outcome is the result of one provider invocation.
type Outcome struct {
	Success bool
	Kind    model.Kind
	Latency time.Duration
}

// Registration adds a provider to a Registry.
type Registration struct {
	Provider     Provider
	Type         string
	Capabilities Capabilities
	CostWeight   float64
	Disabled     bool
}

// =============================================================================
// ENTRY
// =============================================================================

// entry holds the mutable state of one provider.
type entry struct {
	provider   Provider
	typ        string
	caps       Capabilities
	costWeight float64
	disabled   atomic.Bool

	mu                  sync.Mutex
	outcomes            []bool
	outNext, outCount   int
	failures            int
	latencies           []time.Duration
	latNext, latCount   int
	consecutiveFailures int
	successStreak       int
	state               HealthState
	p95                 time.Duration

	snapshot atomic.Pointer[Descriptor]
}

// push records an outcome in the sliding window. Caller holds mu.
func (e *entry) push(success bool) {
	if e.outCount == len(e.outcomes) {
		if !e.outcomes[e.outNext] {
			e.failures--
		}
	} else {
		e.outCount++
	}
	e.outcomes[e.outNext] = success
	if !success {
		e.failures++
	}
	e.outNext = (e.outNext + 1) % len(e.outcomes)
}

// pushLatency records a success latency and recomputes p95. Caller holds mu.
func (e *entry) pushLatency(d time.Duration) {
	e.latencies[e.latNext] = d
	e.latNext = (e.latNext + 1) % len(e.latencies)
	if e.latCount < len(e.latencies) {
		e.latCount++
	}
	sorted := make([]time.Duration, e.latCount)
	copy(sorted, e.latencies[:e.latCount])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	e.p95 = sorted[idx]
}

func (e *entry) errorRate() float64 {
	if e.outCount == 0 {
		return 0
	}
	return float64(e.failures) / float64(e.outCount)
}

// publish computes a fresh Descriptor. Caller holds mu.
func (e *entry) publish(opts Options) {
	rate := e.errorRate()
	score := e.state.statePenalty() +
		opts.WeightErrorRate*rate +
		opts.WeightLatency*e.p95.Seconds()
	e.snapshot.Store(&Descriptor{
		ID:           e.provider.ID(),
		Type:         e.typ,
		Capabilities: e.caps,
		Health:       e.state,
		ErrorRate:    rate,
		P95Latency:   e.p95,
		CostWeight:   e.costWeight,
		Score:        score,
		Samples:      e.outCount,
		Disabled:     e.disabled.Load(),
	})
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry tracks provider health and ranks providers for selection.
// The set of providers is fixed at construction.
type Registry struct {
	opts    Options
	entries map[string]*entry
	order   []string

	// onTransition is called outside any lock after a state change.
	onTransition func(id string, from, to HealthState)
}

// NewRegistry builds a registry for the given providers.
func NewRegistry(opts Options, regs ...Registration) (*Registry, error) {
	d := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = d.Window
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = d.MinSamples
	}
	if opts.DegradeErrorRate <= 0 {
		opts.DegradeErrorRate = d.DegradeErrorRate
	}
	if opts.UnavailableAfter <= 0 {
		opts.UnavailableAfter = d.UnavailableAfter
	}
	if opts.RecoverAfter <= 0 {
		opts.RecoverAfter = d.RecoverAfter
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = d.ProbeInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = d.ProbeTimeout
	}

	r := &Registry{opts: opts, entries: make(map[string]*entry, len(regs))}
	for _, reg := range regs {
		if reg.Provider == nil {
			return nil, fmt.Errorf("registration without provider")
		}
		id := reg.Provider.ID()
		if _, dup := r.entries[id]; dup {
			return nil, fmt.Errorf("duplicate provider %q", id)
		}
		e := &entry{
			provider:   reg.Provider,
			typ:        reg.Type,
			caps:       reg.Capabilities,
			costWeight: reg.CostWeight,
			outcomes:   make([]bool, opts.Window),
			latencies:  make([]time.Duration, opts.Window),
		}
		e.disabled.Store(reg.Disabled)
		e.publish(opts)
		r.entries[id] = e
		r.order = append(r.order, id)
	}
	sort.Strings(r.order)
	return r, nil
}

// OnTransition registers a callback for health state changes.
// It must be called before the registry is shared.
func (r *Registry) OnTransition(fn func(id string, from, to HealthState)) {
	r.onTransition = fn
}

// Provider returns the provider with the given id.
func (r *Registry) Provider(id string) (Provider, bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Descriptor returns a snapshot of one provider.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, false
	}
	return *e.snapshot.Load(), true
}

// Descriptors returns snapshots of every provider sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id].snapshot.Load())
	}
	return out
}

// SetDisabled takes a provider out of (or back into) rotation.
func (r *Registry) SetDisabled(id string, disabled bool) error {
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	e.mu.Lock()
	e.disabled.Store(disabled)
	e.publish(r.opts)
	e.mu.Unlock()
	return nil
}

// =============================================================================
// SELECTION
// =============================================================================

// Select returns the best provider satisfying needs.
//
// candidates restricts and orders the search (empty means every provider);
// ids in exclude are skipped. Ranking is by health state, then score, then
// candidate order, then id. Unavailable providers are never returned; they
// come back through probing.
func (r *Registry) Select(needs Needs, pref CostPreference, candidates []string, exclude map[string]bool) (Descriptor, Provider, error) {
	if len(candidates) == 0 {
		candidates = r.order
	}

	var best *Descriptor
	var bestEntry *entry
	var bestRank float64
	bestIdx := -1

	for idx, id := range candidates {
		if exclude[id] {
			continue
		}
		e, ok := r.entries[id]
		if !ok || e.disabled.Load() || !e.caps.Satisfies(needs) {
			continue
		}
		d := e.snapshot.Load()
		if d.Health == Unavailable {
			continue
		}
		rank := d.Score + r.opts.WeightCost*d.CostWeight*pref.multiplier()

		if best == nil || better(d, rank, idx, best, bestRank, bestIdx) {
			best, bestEntry, bestRank, bestIdx = d, e, rank, idx
		}
	}

	if best == nil {
		return Descriptor{}, nil, ErrNoProviderAvailable
	}
	return *best, bestEntry.provider, nil
}

func better(d *Descriptor, rank float64, idx int, best *Descriptor, bestRank float64, bestIdx int) bool {
	if d.Health != best.Health {
		return d.Health < best.Health
	}
	if rank != bestRank {
		return rank < bestRank
	}
	if idx != bestIdx {
		return idx < bestIdx
	}
	return d.ID < best.ID
}

// =============================================================================
// REPORTING
// =============================================================================

// Report records the outcome of an invocation and updates the provider's
// state and score. Reports for unknown providers are ignored.
func (r *Registry) Report(id string, o Outcome) {
	e, ok := r.entries[id]
	if !ok {
		log.WithField("provider", id).Warn("outcome reported for unknown provider")
		return
	}

	e.mu.Lock()
	from := e.state
	e.push(o.Success)
	if o.Success {
		e.consecutiveFailures = 0
		e.successStreak++
		e.pushLatency(o.Latency)
		if e.state != Healthy && e.successStreak >= r.opts.RecoverAfter {
			e.state = Healthy
		}
	} else {
		e.successStreak = 0
		e.consecutiveFailures++
		if e.state == Healthy && e.outCount >= r.opts.MinSamples && e.errorRate() > r.opts.DegradeErrorRate {
			e.state = Degraded
		}
		if e.state == Degraded && e.consecutiveFailures >= r.opts.UnavailableAfter {
			e.state = Unavailable
		}
	}
	to := e.state
	e.publish(r.opts)
	e.mu.Unlock()

	if from != to {
		r.transitioned(id, from, to)
	}
}

// markHealthy resets a provider after a successful probe.
func (r *Registry) markHealthy(e *entry) {
	e.mu.Lock()
	from := e.state
	e.state = Healthy
	e.consecutiveFailures = 0
	e.successStreak = 0
	e.outCount, e.outNext, e.failures = 0, 0, 0
	e.publish(r.opts)
	e.mu.Unlock()

	if from != Healthy {
		r.transitioned(e.provider.ID(), from, Healthy)
	}
}

func (r *Registry) transitioned(id string, from, to HealthState) {
	fields := log.Fields{"event": "provider_health", "provider": id, "from": from.String(), "to": to.String()}
	if to == Healthy {
		log.WithFields(fields).Info("provider recovered")
	} else {
		log.WithFields(fields).Warn("provider health changed")
	}
	if r.onTransition != nil {
		r.onTransition(id, from, to)
	}
}

// =============================================================================
// BACKGROUND PROBING
// =============================================================================

// ProbeOnce probes every unhealthy provider that supports probing.
func (r *Registry) ProbeOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range r.order {
		e := r.entries[id]
		prober, ok := e.provider.(Prober)
		if !ok || e.disabled.Load() || e.snapshot.Load().Health == Healthy {
			continue
		}
		wg.Add(1)
		go func(e *entry, p Prober) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
			defer cancel()
			if err := p.Probe(pctx); err != nil {
				log.WithFields(log.Fields{"event": "provider_probe", "provider": e.provider.ID()}).
					WithError(err).Debug("probe failed")
				return
			}
			r.markHealthy(e)
		}(e, prober)
	}
	wg.Wait()
}

// Run probes unhealthy providers every ProbeInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProbeOnce(ctx)
		}
	}
}
