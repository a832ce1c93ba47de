// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/model"
)

// DefaultBuffer is the event buffer size when none is configured.
const DefaultBuffer = 1024

// =============================================================================
// EVENT
// =============================================================================

// Event describes one finished request.
type Event struct {
	RequestID   string    `json:"request_id"`
	Time        time.Time `json:"time"`
	Client      string    `json:"client"`
	Intent      string    `json:"intent"`
	Plan        string    `json:"plan"`
	Pipeline    string    `json:"pipeline,omitempty"`
	Status      string    `json:"status"`
	Degraded    bool      `json:"degraded,omitempty"`
	Fidelity    float64   `json:"fidelity"`
	DurationMs  int64     `json:"duration_ms"`
	Redactions  int       `json:"redactions,omitempty"`
	InputRunes  int       `json:"input_runes"`
	OutputRunes int       `json:"output_runes"`
	Providers   []string  `json:"providers,omitempty"`

	// Before and After are the redacted input and the upgraded output.
	// They survive Emit only with consent.
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// =============================================================================
// HOOK
// =============================================================================

// Hook delivers events to a sink on a background worker.
type Hook struct {
	events  chan Event
	sinks   []Sink
	metrics *Metrics

	dropped atomic.Uint64
	sent    atomic.Uint64

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewHook creates a hook. metrics may be nil.
func NewHook(buffer int, metrics *Metrics, sinks ...Sink) *Hook {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hook{
		events:  make(chan Event, buffer),
		sinks:   sinks,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start launches the worker.
func (h *Hook) Start() {
	h.startOnce.Do(func() {
		go h.run()
	})
}

// Emit queues ev. Raw text is removed unless consent allows it.
// Emit never blocks; a full buffer drops the event.
func (h *Hook) Emit(consent model.Consent, ev Event) {
	if h == nil {
		return
	}
	if !consent.AllowsRawText() {
		ev.Before, ev.After = "", ""
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
		if h.metrics != nil {
			h.metrics.dropped()
		}
	}
}

// Dropped returns the number of events dropped for backpressure.
func (h *Hook) Dropped() uint64 {
	return h.dropped.Load()
}

// Delivered returns the number of events handed to the sinks.
func (h *Hook) Delivered() uint64 {
	return h.sent.Load()
}

// Close stops accepting events and drains the buffer. Emit must not be
// called after Close.
func (h *Hook) Close() {
	h.closeOnce.Do(func() {
		h.Start()
		close(h.events)
		<-h.done
	})
}

func (h *Hook) run() {
	defer close(h.done)
	for ev := range h.events {
		for _, s := range h.sinks {
			if err := s.Write(ev); err != nil {
				log.WithFields(log.Fields{
					"event":      "telemetry_sink",
					"request_id": ev.RequestID,
				}).WithError(err).Warn("telemetry sink failed")
			}
		}
		h.sent.Add(1)
	}
}
