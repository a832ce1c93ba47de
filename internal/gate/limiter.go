// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// KEYED TOKEN BUCKETS
// =============================================================================

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

// limiterSet holds one token bucket per key.
type limiterSet struct {
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*limiterEntry
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

func (s *limiterSet) get(key string, now time.Time) *limiterEntry {
	s.mu.RLock()
	e, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		e.lastAccess.Store(now.UnixNano())
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.limiters[key]; ok {
		e.lastAccess.Store(now.UnixNano())
		return e
	}
	e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
	e.lastAccess.Store(now.UnixNano())
	s.limiters[key] = e
	return e
}

// take takes one token for key and returns its reservation so the caller
// can hand the token back. When the bucket is empty it returns nil and the
// delay until a token would be available, consuming nothing.
func (s *limiterSet) take(key string, now time.Time) (*rate.Reservation, time.Duration) {
	r := s.get(key, now).limiter.ReserveN(now, 1)
	if !r.OK() {
		return nil, time.Second
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return nil, delay
	}
	return r, 0
}

// evict drops limiters idle since before cutoff and returns how many.
func (s *limiterSet) evict(cutoff time.Time) int {
	c := cutoff.UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.limiters {
		if e.lastAccess.Load() < c {
			delete(s.limiters, key)
			n++
		}
	}
	return n
}

func (s *limiterSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.limiters)
}
