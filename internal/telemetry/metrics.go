// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/promptforge/internal/model"
)

const namespace = "promptforge"

// =============================================================================
// METRICS
// =============================================================================

// Metrics holds the service collectors.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	attempts         *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	gateRejections   *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	fidelity         prometheus.Histogram
	providerHealth   *prometheus.GaugeVec
	telemetryDropped prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: pipeline (matched pipeline or "none"), status (ok or error kind)
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Upgrade requests by pipeline and terminal status",
		}, []string{"pipeline", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end upgrade latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"pipeline"}),

		// Labels: provider, outcome (success, timeout, error)
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider invocations by outcome",
		}, []string{"provider", "outcome"}),

		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"pipeline", "stage"}),

		// Labels: kind (KillSwitchActive, RateLimited, InsufficientCredits)
		gateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Requests rejected by the gate",
		}, []string{"kind"}),

		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_fallbacks_total",
			Help:      "Pro pipelines that handed over to their free equivalent",
		}, []string{"from", "to"}),

		fidelity: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fidelity_score",
			Help:      "Distribution of fidelity scores of successful upgrades",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		// 0 healthy, 1 degraded, 2 unavailable
		providerHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health",
			Help:      "Provider health state",
		}, []string{"provider"}),

		telemetryDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry events dropped because the buffer was full",
		}),
	}
}

// ObserveAttempt counts one provider attempt.
func (m *Metrics) ObserveAttempt(a model.ExecutionAttempt) {
	m.attempts.WithLabelValues(a.ProviderID, string(a.Outcome)).Inc()
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(pipeline, stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

// RequestDone records a finished request. status is "ok" or an error kind.
func (m *Metrics) RequestDone(pipeline, status string, d time.Duration) {
	if pipeline == "" {
		pipeline = "none"
	}
	m.requests.WithLabelValues(pipeline, status).Inc()
	m.requestDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}

// GateRejected counts a gate rejection.
func (m *Metrics) GateRejected(kind model.Kind) {
	m.gateRejections.WithLabelValues(kind.String()).Inc()
}

// FellBack counts a pro-to-free fallback.
func (m *Metrics) FellBack(from, to string) {
	m.fallbacks.WithLabelValues(from, to).Inc()
}

// ObserveFidelity records a fidelity score.
func (m *Metrics) ObserveFidelity(score float64) {
	m.fidelity.Observe(score)
}

// SetProviderHealth publishes a provider's health state.
func (m *Metrics) SetProviderHealth(provider string, state int) {
	m.providerHealth.WithLabelValues(provider).Set(float64(state))
}

func (m *Metrics) dropped() {
	m.telemetryDropped.Inc()
}
