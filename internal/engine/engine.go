// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/executor"
	"github.com/jeranaias/promptforge/internal/gate"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/postprocess"
	"github.com/jeranaias/promptforge/internal/preprocess"
	"github.com/jeranaias/promptforge/internal/router"
	"github.com/jeranaias/promptforge/internal/telemetry"
	"github.com/jeranaias/promptforge/internal/util"
)

// StatusOK is the metrics status of a successful request.
const StatusOK = "ok"

// Deps are the collaborators of an Engine. Metrics and Hook are optional.
type Deps struct {
	Preprocessor *preprocess.Preprocessor
	Catalog      *router.Catalog
	Gate         *gate.Gate
	Executor     *executor.Executor
	Finalizer    *postprocess.Finalizer
	Switches     killswitch.Source
	Metrics      *telemetry.Metrics
	Hook         *telemetry.Hook

	// MinCost is the floor of the credit estimate.
	MinCost int64
}

// Engine wires the request flow.
type Engine struct {
	deps Deps
	now  func() time.Time
}

// New validates deps and creates an engine.
func New(deps Deps) (*Engine, error) {
	switch {
	case deps.Preprocessor == nil:
		return nil, errors.New("engine: preprocessor is required")
	case deps.Catalog == nil:
		return nil, errors.New("engine: catalog is required")
	case deps.Gate == nil:
		return nil, errors.New("engine: gate is required")
	case deps.Executor == nil:
		return nil, errors.New("engine: executor is required")
	case deps.Finalizer == nil:
		return nil, errors.New("engine: finalizer is required")
	}
	if deps.Switches == nil {
		deps.Switches = killswitch.NewStore()
	}
	if deps.MinCost < 1 {
		deps.MinCost = 1
	}
	return &Engine{deps: deps, now: time.Now}, nil
}

// Catalog returns the routing catalog.
func (e *Engine) Catalog() *router.Catalog {
	return e.deps.Catalog
}

// Gate returns the admission gate.
func (e *Engine) Gate() *gate.Gate {
	return e.deps.Gate
}

// =============================================================================
// UPGRADE
// =============================================================================

// Upgrade runs req through the full pipeline.
//
// Errors are *model.Error; their Kind is the caller-visible error kind.
func (e *Engine) Upgrade(ctx context.Context, req model.Request) (result model.ExecutionResult, err error) {
	start := e.now()
	rec := &record{req: req, start: start}
	defer func() { e.finish(rec, result, err) }()

	norm, err := e.deps.Preprocessor.Normalize(req)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	rec.norm = norm

	// One snapshot serves routing, fallback and the deadline.
	snap := e.deps.Switches.Snapshot()
	decision, err := e.deps.Catalog.Route(req.Client, norm.Intent, req.Plan, snap)
	if err != nil {
		if model.IsKind(err, model.KindUnknownRoute) {
			log.WithFields(log.Fields{
				"event":      "route_missing",
				"request_id": req.CorrelationID,
				"client":     req.Client.String(),
				"intent":     norm.Intent.String(),
			}).Error("decision table has no row")
		}
		return model.ExecutionResult{}, err
	}
	rec.pipeline = decision.MatchedPipeline

	cost := router.EstimateCredits(norm.Text, decision.Pipeline, e.deps.MinCost)
	res, err := e.deps.Gate.Authorize(ctx, &req, cost)
	if err != nil {
		if kind, ok := model.KindOf(err); ok && e.deps.Metrics != nil {
			e.deps.Metrics.GateRejected(kind)
		}
		return model.ExecutionResult{}, err
	}

	outcome := model.SettleFailure
	defer func() {
		if p := recover(); p != nil {
			outcome = model.SettleFailure
			e.settle(ctx, req, res, outcome)
			panic(p)
		}
		e.settle(ctx, req, res, outcome)
	}()

	out, err := e.deps.Executor.Execute(ctx, norm, decision, snap)
	if out != nil && out.FellBack {
		rec.pipeline = out.Decision.MatchedPipeline
		if e.deps.Metrics != nil {
			e.deps.Metrics.FellBack(decision.MatchedPipeline, out.Decision.MatchedPipeline)
		}
	}
	if err != nil {
		if model.IsKind(err, model.KindCancelled) {
			outcome = model.SettleCancelled
		}
		return model.ExecutionResult{}, err
	}

	result = e.deps.Finalizer.Finalize(out.Text, out.Decision, out.Trace, postprocess.Details{
		Input:     norm.Text,
		Explain:   req.Explain,
		FellBack:  out.FellBack,
		Truncated: out.Truncated,
	})
	outcome = model.SettleSuccess
	return result, nil
}

// settle releases or commits res. A failed commit has already released the
// hold inside the gate, so the caller still gets its result.
func (e *Engine) settle(ctx context.Context, req model.Request, res *gate.Reservation, outcome model.Outcome) {
	if err := e.deps.Gate.Settle(ctx, res, outcome); err != nil {
		log.WithFields(log.Fields{
			"event":       "settle_failed",
			"request_id":  req.CorrelationID,
			"reservation": res.ID,
			"outcome":     outcome.String(),
		}).WithError(err).Error("reservation settlement failed")
	}
}

// =============================================================================
// TELEMETRY
// =============================================================================

// record collects what finish needs to report a request.
type record struct {
	req      model.Request
	norm     model.NormalizedRequest
	pipeline string
	start    time.Time
}

func (e *Engine) finish(rec *record, result model.ExecutionResult, err error) {
	elapsed := e.now().Sub(rec.start)
	status := StatusOK
	if err != nil {
		status = statusOf(err)
	}

	fields := log.Fields{
		"event":      "upgrade",
		"request_id": rec.req.CorrelationID,
		"client":     rec.req.Client.String(),
		"plan":       rec.req.Plan.String(),
		"pipeline":   rec.pipeline,
		"status":     status,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Info("upgrade failed")
	} else {
		fields["degraded"] = result.Degraded
		fields["fidelity"] = result.FidelityScore
		log.WithFields(fields).Info("upgrade complete")
	}

	if m := e.deps.Metrics; m != nil {
		m.RequestDone(rec.pipeline, status, elapsed)
		if err == nil {
			m.ObserveFidelity(result.FidelityScore)
		}
	}

	ev := telemetry.Event{
		RequestID:   rec.req.CorrelationID,
		Time:        rec.start,
		Client:      rec.req.Client.String(),
		Intent:      rec.norm.Intent.String(),
		Plan:        rec.req.Plan.String(),
		Pipeline:    rec.pipeline,
		Status:      status,
		Degraded:    result.Degraded,
		Fidelity:    result.FidelityScore,
		DurationMs:  elapsed.Milliseconds(),
		Redactions:  rec.norm.Redactions,
		InputRunes:  rec.norm.Runes,
		OutputRunes: util.RuneLen(result.Upgraded),
		Providers:   result.Providers,
		Before:      rec.norm.Text,
		After:       result.Upgraded,
	}
	e.deps.Hook.Emit(rec.req.Consent, ev)
}

// statusOf returns the metrics label for err.
func statusOf(err error) string {
	if kind, ok := model.KindOf(err); ok {
		return kind.String()
	}
	return "error"
}
