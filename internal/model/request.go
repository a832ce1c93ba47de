// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Consent carries the caller's telemetry consent flags.
// Both default to false.
type Consent struct {
	AnalyticsConsent bool `json:"analytics_consent,omitempty"`
	LogBeforeAfter   bool `json:"log_before_after,omitempty"`
}

// AllowsRawText returns true if raw before/after text may be logged.
func (c Consent) AllowsRawText() bool {
	return c.AnalyticsConsent || c.LogBeforeAfter
}

// Request is an upgrade request as accepted at the edge.
// Plan, Identity and APIKey are filled server-side; they are never read
// from the request body.
type Request struct {
	Text    string  `json:"text"`
	Client  Client  `json:"client"`
	Intent  Intent  `json:"intent,omitempty"`
	Plan    Plan    `json:"-"`
	Explain bool    `json:"explain,omitempty"`
	Consent Consent `json:"meta"`

	// CorrelationID is assigned at ingress and unique per request.
	CorrelationID string `json:"-"`

	// Identity is the stable caller id used for rate limiting and credits.
	Identity string `json:"-"`

	// APIKey is the key id the caller authenticated with, if any.
	APIKey string `json:"-"`
}

// NormalizedRequest is a request after preprocessing.
type NormalizedRequest struct {
	Request

	// Text is the cleaned, redacted text. It shadows Request.Text.
	Text string

	// Intent is always concrete after preprocessing.
	Intent Intent

	// IntentInferred is true when the intent was derived from the text.
	IntentInferred bool

	// Redactions counts secrets replaced during preprocessing.
	Redactions int

	// Runes is the rune length of Text.
	Runes int
}

// =============================================================================
// EXECUTION TYPES
// =============================================================================

// AttemptOutcome is the result of a single provider invocation.
type AttemptOutcome string

const (
	// OutcomeSuccess means the provider returned usable output.
	OutcomeSuccess AttemptOutcome = "success"
	// OutcomeTimeout means the stage timeout elapsed.
	OutcomeTimeout AttemptOutcome = "timeout"
	// OutcomeError means the provider returned an error.
	OutcomeError AttemptOutcome = "error"
)

// ExecutionAttempt records one provider invocation.
type ExecutionAttempt struct {
	Pipeline   string         `json:"pipeline"`
	Stage      string         `json:"stage"`
	ProviderID string         `json:"provider,omitempty"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Outcome    AttemptOutcome `json:"outcome"`
	Retry      int            `json:"retry"`
	Error      string         `json:"error,omitempty"`
}

// Duration returns the wall time of the attempt.
func (a ExecutionAttempt) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

// Trace is the ordered list of attempts made for one request.
type Trace []ExecutionAttempt

// Tail returns at most n of the most recent attempts.
func (t Trace) Tail(n int) Trace {
	if n <= 0 {
		return nil
	}
	if len(t) <= n {
		return t
	}
	return t[len(t)-n:]
}

// Providers returns the distinct providers that succeeded, in order.
func (t Trace) Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range t {
		if a.Outcome != OutcomeSuccess || a.ProviderID == "" || seen[a.ProviderID] {
			continue
		}
		seen[a.ProviderID] = true
		out = append(out, a.ProviderID)
	}
	return out
}

// ExplainPlan is the trace information returned when explain=true.
type ExplainPlan struct {
	Pipeline        string `json:"pipeline"`
	Downgraded      bool   `json:"downgraded,omitempty"`
	DowngradeReason string `json:"downgrade_reason,omitempty"`
	FellBack        bool   `json:"fell_back,omitempty"`
	Attempts        Trace  `json:"attempts"`
	Truncated       int    `json:"truncated,omitempty"`
}

// ExecutionResult is the finalized outcome returned to the caller.
type ExecutionResult struct {
	Upgraded        string       `json:"upgraded"`
	MatchedPipeline string       `json:"matched_pipeline"`
	EngineVersion   string       `json:"engine_version"`
	FidelityScore   float64      `json:"fidelity_score"`
	Plan            *ExplainPlan `json:"plan,omitempty"`
	Degraded        bool         `json:"degraded,omitempty"`
	Providers       []string     `json:"-"`
}

// Outcome is what the engine reports to the gate when settling a reservation.
type Outcome int

const (
	// SettleSuccess commits the reservation.
	SettleSuccess Outcome = iota
	// SettleFailure releases the reservation.
	SettleFailure
	// SettleCancelled releases the reservation.
	SettleCancelled
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case SettleSuccess:
		return "success"
	case SettleFailure:
		return "failure"
	case SettleCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
