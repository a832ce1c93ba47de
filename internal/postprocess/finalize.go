// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package postprocess

import (
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/router"
	"github.com/jeranaias/promptforge/internal/util"
)

// Options configures a Finalizer.
type Options struct {
	MaxOutputRunes int
	MaxTrace       int
}

// OptionsFromConfig maps the limits config section.
func OptionsFromConfig(c config.LimitsConfig) Options {
	return Options{MaxOutputRunes: c.MaxOutputRunes, MaxTrace: c.MaxTrace}
}

// Details carries the request facts Finalize needs beyond the decision.
type Details struct {
	// Input is the normalized request text, used for scoring and as the
	// safe fallback result.
	Input string

	Explain   bool
	FellBack  bool
	Truncated int
}

// Finalizer builds execution results.
type Finalizer struct {
	opts Options
}

// New creates a finalizer.
func New(opts Options) *Finalizer {
	return &Finalizer{opts: opts}
}

// Finalize builds the result for raw pipeline output. It never fails.
func (f *Finalizer) Finalize(raw string, d router.RouteDecision, trace model.Trace, det Details) model.ExecutionResult {
	res := model.ExecutionResult{
		MatchedPipeline: d.MatchedPipeline,
		EngineVersion:   d.EngineVersion,
		Degraded:        d.Downgraded || det.FellBack,
		Providers:       trace.Providers(),
	}

	text, ok := f.clean(raw)
	if ok {
		res.Upgraded = text
		res.FidelityScore = Fidelity(text, det.Input)
	} else {
		log.WithFields(log.Fields{
			"event":    "postprocess_fallback",
			"pipeline": d.MatchedPipeline,
		}).Warn("unusable pipeline output, returning normalized input")
		res.Upgraded = det.Input
		if f.opts.MaxOutputRunes > 0 {
			res.Upgraded, _ = util.TruncateRunes(det.Input, f.opts.MaxOutputRunes)
		}
		res.FidelityScore = 0
		res.Degraded = true
	}

	if det.Explain {
		res.Plan = f.explain(d, trace, det)
	}
	return res
}

// clean strips markers and caps the size. ok is false when nothing usable
// remains.
func (f *Finalizer) clean(raw string) (string, bool) {
	if !utf8.ValidString(raw) || strings.ContainsRune(raw, '\x00') {
		return "", false
	}
	text := StripMarkers(raw)
	if text == "" {
		return "", false
	}
	if f.opts.MaxOutputRunes > 0 {
		text, _ = util.TruncateAtBoundary(text, f.opts.MaxOutputRunes)
	}
	return text, text != ""
}

func (f *Finalizer) explain(d router.RouteDecision, trace model.Trace, det Details) *model.ExplainPlan {
	attempts := trace
	truncated := det.Truncated
	if f.opts.MaxTrace > 0 && len(attempts) > f.opts.MaxTrace {
		truncated += len(attempts) - f.opts.MaxTrace
		attempts = attempts.Tail(f.opts.MaxTrace)
	}
	if attempts == nil {
		attempts = model.Trace{}
	}
	return &model.ExplainPlan{
		Pipeline:        d.Pipeline.VersionedID(),
		Downgraded:      d.Downgraded,
		DowngradeReason: d.DowngradeReason,
		FellBack:        det.FellBack,
		Attempts:        attempts,
		Truncated:       truncated,
	}
}
