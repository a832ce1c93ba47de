// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/preprocess"
	"github.com/jeranaias/promptforge/internal/provider"
	"github.com/jeranaias/promptforge/internal/router"
)

// tracerName is the instrumentation scope of executor spans.
const tracerName = "github.com/jeranaias/promptforge/internal/executor"

// errStageExhausted marks a stage whose attempts all failed.
var errStageExhausted = errors.New("stage exhausted")

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Registry is the part of the provider registry the executor uses.
type Registry interface {
	Select(needs provider.Needs, pref provider.CostPreference, candidates []string, exclude map[string]bool) (provider.Descriptor, provider.Provider, error)
	Report(id string, o provider.Outcome)
}

// Fallbacks resolves the free equivalent of a routed decision.
type Fallbacks interface {
	FreeEquivalent(d router.RouteDecision, ks router.KillSwitches) (router.RouteDecision, bool)
}

// Observer receives per-attempt and per-stage measurements.
type Observer interface {
	ObserveAttempt(a model.ExecutionAttempt)
	ObserveStage(pipeline, stage string, d time.Duration)
}

// Options configures an Executor.
type Options struct {
	MaxTrace    int
	MaxParallel int
	Overhead    time.Duration
}

// OptionsFromConfig maps the limits config section.
func OptionsFromConfig(c config.LimitsConfig) Options {
	return Options{
		MaxTrace:    c.MaxTrace,
		MaxParallel: c.MaxParallel,
		Overhead:    c.ExecutionOverhead,
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

// Output is the raw result of running a pipeline.
type Output struct {
	// Text is the output of the last stage.
	Text string

	// Decision is the decision that produced Text. After a fallback it is the
	// free decision.
	Decision router.RouteDecision

	// FellBack is true when the free pipeline took over mid-request.
	FellBack bool

	// Trace holds the most recent attempts, oldest first.
	Trace model.Trace

	// Truncated counts attempts dropped from Trace.
	Truncated int
}

// Degraded reports whether the caller got less than the routed pipeline.
func (o *Output) Degraded() bool {
	return o.FellBack || o.Decision.Downgraded
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs pipelines.
type Executor struct {
	registry  Registry
	fallbacks Fallbacks
	opts      Options
	observer  Observer
	tracer    trace.Tracer
}

// New creates an executor.
func New(registry Registry, fallbacks Fallbacks, opts Options) *Executor {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &Executor{
		registry:  registry,
		fallbacks: fallbacks,
		opts:      opts,
		tracer:    otel.Tracer(tracerName),
	}
}

// WithObserver sets the measurement hook.
func (x *Executor) WithObserver(o Observer) *Executor {
	x.observer = o
	return x
}

// Deadline returns the overall deadline for running d: the budget of every
// stage that could run, including the free fallback, plus overhead.
func (x *Executor) Deadline(d router.RouteDecision, ks router.KillSwitches) time.Duration {
	total := d.Pipeline.Budget() + x.opts.Overhead
	if x.fallbacks != nil {
		if fb, ok := x.fallbacks.FreeEquivalent(d, ks); ok {
			total += fb.Pipeline.Budget()
		}
	}
	return total
}

// Execute runs the pipeline of d over req.Text.
//
// The returned Output is never nil; on error its Trace still holds the
// attempts made. Errors are *model.Error of kind FallbackExhausted,
// DeadlineExceeded or Cancelled.
func (x *Executor) Execute(ctx context.Context, req model.NormalizedRequest, d router.RouteDecision, ks router.KillSwitches) (*Output, error) {
	if ks == nil {
		ks = router.NoKillSwitches{}
	}
	deadline := x.Deadline(d, ks)
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ctx, span := x.tracer.Start(ctx, "pipeline",
		trace.WithAttributes(
			attribute.String("pipeline.id", d.Pipeline.VersionedID()),
			attribute.String("route", d.Key.String()),
		))
	defer span.End()

	r := &run{
		x:         x,
		requestID: req.CorrelationID,
		maxTrace:  x.opts.MaxTrace,
	}
	out := &Output{Decision: d}
	text := req.Text
	stages := d.Pipeline.Stages

	for i := 0; i < len(stages); i++ {
		if err := ctx.Err(); err != nil {
			return r.finish(out, text), terminal(ctx)
		}

		stage := stages[i]
		result, err := r.runStage(ctx, out.Decision, stage, text)
		if err == nil {
			text = result
			continue
		}
		if !errors.Is(err, errStageExhausted) {
			span.SetStatus(codes.Error, err.Error())
			return r.finish(out, text), err
		}

		fb, ok := x.fallbackFor(out, ks)
		if !ok {
			span.SetStatus(codes.Error, "fallback exhausted")
			return r.finish(out, text), model.Wrap(model.KindFallbackExhausted, err,
				fmt.Sprintf("stage %q of pipeline %q failed", stage.Name, out.Decision.MatchedPipeline))
		}

		log.WithFields(log.Fields{
			"event":      "pipeline_fallback",
			"request_id": req.CorrelationID,
			"from":       out.Decision.MatchedPipeline,
			"to":         fb.MatchedPipeline,
			"stage":      stage.Name,
		}).Warn("stage exhausted, falling back to free pipeline")
		span.AddEvent("fallback", trace.WithAttributes(attribute.String("pipeline.to", fb.MatchedPipeline)))

		resume := i
		if resume >= len(fb.Pipeline.Stages) {
			resume = len(fb.Pipeline.Stages) - 1
		}
		out.Decision = fb
		out.FellBack = true
		stages = fb.Pipeline.Stages
		i = resume - 1
	}

	return r.finish(out, text), nil
}

// fallbackFor returns the free decision if this request may still fall back.
func (x *Executor) fallbackFor(out *Output, ks router.KillSwitches) (router.RouteDecision, bool) {
	if out.FellBack || x.fallbacks == nil || len(out.Decision.Pipeline.Stages) == 0 {
		return router.RouteDecision{}, false
	}
	fb, ok := x.fallbacks.FreeEquivalent(out.Decision, ks)
	if !ok || len(fb.Pipeline.Stages) == 0 {
		return router.RouteDecision{}, false
	}
	return fb, true
}

// terminal maps a finished context to the caller-visible error.
func terminal(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.Wrap(model.KindDeadlineExceeded, ctx.Err(), "request deadline exceeded")
	}
	return model.Wrap(model.KindCancelled, ctx.Err(), "request cancelled")
}

// =============================================================================
// RUN STATE
// =============================================================================

// run is the per-request mutable state.
type run struct {
	x         *Executor
	requestID string
	maxTrace  int

	mu        sync.Mutex
	trace     model.Trace
	truncated int
}

func (r *run) record(a model.ExecutionAttempt) {
	if r.x.observer != nil {
		r.x.observer.ObserveAttempt(a)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, a)
	if r.maxTrace > 0 && len(r.trace) > 2*r.maxTrace {
		drop := len(r.trace) - r.maxTrace
		r.truncated += drop
		r.trace = append(model.Trace(nil), r.trace[drop:]...)
	}
}

func (r *run) finish(out *Output, text string) *Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	out.Text = text
	out.Trace = r.trace
	out.Truncated = r.truncated
	if r.maxTrace > 0 && len(out.Trace) > r.maxTrace {
		out.Truncated += len(out.Trace) - r.maxTrace
		out.Trace = out.Trace.Tail(r.maxTrace)
	}
	return out
}

// =============================================================================
// STAGES
// =============================================================================

func (r *run) runStage(ctx context.Context, d router.RouteDecision, stage router.StageSpec, text string) (string, error) {
	start := time.Now()
	ctx, span := r.x.tracer.Start(ctx, "stage",
		trace.WithAttributes(
			attribute.String("pipeline.id", d.Pipeline.ID),
			attribute.String("stage.name", stage.Name),
			attribute.String("stage.kind", stage.Kind.String()),
		))
	defer func() {
		span.End()
		if r.x.observer != nil {
			r.x.observer.ObserveStage(d.Pipeline.ID, stage.Name, time.Since(start))
		}
	}()

	if stage.Kind == router.StageLocal {
		t, err := LookupTransform(stage.Transform)
		if err != nil {
			return "", model.Wrap(model.KindFallbackExhausted, err, "misconfigured local stage")
		}
		return t(text), nil
	}

	if stage.Parallel {
		if items := preprocess.SplitBatch(text); len(items) > 1 {
			return r.runParallel(ctx, d, stage, items)
		}
	}

	out, err := r.runProvider(ctx, d, stage, text)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// runParallel fans a batch out across providers, at most MaxParallel at a
// time. Any failing item fails the stage.
func (r *run) runParallel(ctx context.Context, d router.RouteDecision, stage router.StageSpec, items []string) (string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.x.opts.MaxParallel)

	results := make([]string, len(items))
	for i, item := range items {
		g.Go(func() error {
			out, err := r.runProvider(gctx, d, stage, item)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", terminal(ctx)
		}
		return "", err
	}
	return preprocess.JoinBatch(results), nil
}

// runProvider makes up to MaxAttempts provider calls for one stage input.
func (r *run) runProvider(ctx context.Context, d router.RouteDecision, stage router.StageSpec, text string) (string, error) {
	attempts := stage.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if attempts > config.MaxStageAttempts {
		attempts = config.MaxStageAttempts
	}
	needs := provider.Needs{MinTokens: stage.MinTokens, Tools: stage.NeedsTools}
	pref := provider.PreferBalanced
	if !d.IsPro() {
		pref = provider.PreferCheap
	}
	tried := make(map[string]bool, attempts)

	var lastErr error
	for retry := 0; retry < attempts; retry++ {
		if ctx.Err() != nil {
			return "", terminal(ctx)
		}

		desc, p, err := r.x.registry.Select(needs, pref, d.Pipeline.Providers, tried)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		tried[desc.ID] = true

		out, err := r.attempt(ctx, d, stage, p, text, retry)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", terminal(ctx)
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %s: %v", errStageExhausted, stage.Name, lastErr)
}

type callResult struct {
	text string
	err  error
}

// attempt makes one provider call under the stage timeout. The call runs in
// its own goroutine so cancellation never waits on the provider.
func (r *run) attempt(ctx context.Context, d router.RouteDecision, stage router.StageSpec, p provider.Provider, text string, retry int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, stage.Timeout)
	defer cancel()

	callCtx, span := r.x.tracer.Start(callCtx, "attempt",
		trace.WithAttributes(
			attribute.String("provider.id", p.ID()),
			attribute.Int("retry", retry),
		))
	defer span.End()

	a := model.ExecutionAttempt{
		Pipeline:   d.Pipeline.ID,
		Stage:      stage.Name,
		ProviderID: p.ID(),
		Start:      time.Now(),
		Retry:      retry,
	}

	done := make(chan callResult, 1)
	go func() {
		out, err := p.Complete(callCtx, provider.Call{
			Instruction: stage.Instruction,
			Input:       text,
			MaxTokens:   stage.MinTokens,
		})
		done <- callResult{text: out, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = callResult{err: callCtx.Err()}
	}
	a.End = time.Now()

	// The caller went away or the request deadline passed; the provider is
	// not at fault.
	if ctx.Err() != nil {
		a.Outcome = model.OutcomeError
		a.Error = terminal(ctx).Error()
		r.record(a)
		return "", ctx.Err()
	}

	if res.err == nil && strings.TrimSpace(res.text) == "" {
		res.err = model.Errorf(model.KindTransient, "provider returned an empty completion")
	}

	if res.err == nil {
		a.Outcome = model.OutcomeSuccess
		r.record(a)
		r.x.registry.Report(p.ID(), provider.Outcome{Success: true, Latency: a.Duration()})
		return res.text, nil
	}

	kind := model.KindTransient
	if errors.Is(res.err, context.DeadlineExceeded) {
		kind = model.KindTimeout
	} else if k, ok := model.KindOf(res.err); ok {
		kind = k
	}
	a.Outcome = model.OutcomeError
	if kind == model.KindTimeout {
		a.Outcome = model.OutcomeTimeout
	}
	a.Error = res.err.Error()
	r.record(a)
	r.x.registry.Report(p.ID(), provider.Outcome{Success: false, Kind: kind, Latency: a.Duration()})

	span.SetStatus(codes.Error, a.Error)
	log.WithFields(log.Fields{
		"event":      "provider_attempt",
		"request_id": r.requestID,
		"pipeline":   d.Pipeline.ID,
		"stage":      stage.Name,
		"provider":   p.ID(),
		"retry":      retry,
		"outcome":    a.Outcome,
	}).WithError(res.err).Debug("provider attempt failed")

	return "", res.err
}
