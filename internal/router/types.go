// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"time"

	"github.com/jeranaias/promptforge/internal/model"
)

// ============================================================================
// TIER TYPE
// ============================================================================

// Tier is the entitlement level of a pipeline.
type Tier int

const (
	// TierFree pipelines serve every plan.
	TierFree Tier = iota
	// TierPro pipelines serve paid plans only.
	TierPro
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierPro:
		return "pro"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "free":
		return TierFree, nil
	case "pro":
		return TierPro, nil
	default:
		return TierFree, fmt.Errorf("unknown tier %q", s)
	}
}

// ============================================================================
// PIPELINE TYPES
// ============================================================================

// StageKind distinguishes local transforms from provider calls.
type StageKind int

const (
	// StageLocal runs an in-process transform.
	StageLocal StageKind = iota
	// StageProvider calls an LLM provider.
	StageProvider
)

// String returns the stage kind name.
func (k StageKind) String() string {
	if k == StageLocal {
		return "local"
	}
	return "provider"
}

// StageSpec is one step of a pipeline.
type StageSpec struct {
	Name        string
	Kind        StageKind
	Transform   string
	Instruction string
	Timeout     time.Duration
	MaxAttempts int
	Parallel    bool

	// Capability needs for provider stages.
	MinTokens  int
	NeedsTools bool
}

// Budget returns the worst-case wall time of the stage.
func (s StageSpec) Budget() time.Duration {
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return s.Timeout * time.Duration(attempts)
}

// PipelineSpec is an immutable pipeline definition.
type PipelineSpec struct {
	ID        string
	Version   string
	Tier      Tier
	CostPer1K float64

	// Providers is the preference list. Empty means any provider.
	Providers []string

	Stages []StageSpec
}

// Budget returns the sum of the stage budgets.
func (p PipelineSpec) Budget() time.Duration {
	var total time.Duration
	for _, s := range p.Stages {
		total += s.Budget()
	}
	return total
}

// VersionedID returns "id@version" for reporting.
func (p PipelineSpec) VersionedID() string {
	return p.ID + "@" + p.Version
}

// ============================================================================
// ROUTING TYPES
// ============================================================================

// RuleKey identifies a row of the decision table.
type RuleKey struct {
	Client model.Client
	Intent model.Intent
}

// String returns "client/intent".
func (k RuleKey) String() string {
	return k.Client.String() + "/" + k.Intent.String()
}

// Rule is one row of the decision table.
type Rule struct {
	Free string
	Pro  string
}

// RouteDecision is the outcome of routing a request.
type RouteDecision struct {
	Pipeline PipelineSpec `json:"-"`
	Key      RuleKey      `json:"-"`
	Plan     model.Plan   `json:"plan"`

	MatchedPipeline string `json:"matched_pipeline"`
	EngineVersion   string `json:"engine_version"`

	// Downgraded is true when a pro pipeline was replaced by its free equivalent.
	Downgraded      bool   `json:"downgraded"`
	DowngradeReason string `json:"downgrade_reason,omitempty"`

	// FreePipeline is the free pipeline of the same row, used for fallback.
	// Empty when the decision already uses it.
	FreePipeline string `json:"free_pipeline,omitempty"`
}

// IsPro returns true if the decision runs a pro pipeline.
func (d RouteDecision) IsPro() bool {
	return d.Pipeline.Tier == TierPro
}

// KillSwitches is a point-in-time view of the kill-switch state.
type KillSwitches interface {
	PipelineDisabled(id string) bool
}

// NoKillSwitches is a KillSwitches with nothing disabled.
type NoKillSwitches struct{}

// PipelineDisabled always returns false.
func (NoKillSwitches) PipelineDisabled(string) bool { return false }
