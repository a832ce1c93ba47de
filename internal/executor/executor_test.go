// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/provider"
	"github.com/jeranaias/promptforge/internal/router"
)

// =============================================================================
// HELPERS
// =============================================================================

// fakeProvider counts calls and delegates to fn.
type fakeProvider struct {
	id    string
	calls atomic.Int32
	fn    func(ctx context.Context, call provider.Call) (string, error)
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Complete(ctx context.Context, call provider.Call) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, call)
}

func succeeding(id string) *fakeProvider {
	return &fakeProvider{id: id, fn: func(_ context.Context, call provider.Call) (string, error) {
		return "[" + id + "] " + call.Input, nil
	}}
}

func failing(id string) *fakeProvider {
	return &fakeProvider{id: id, fn: func(context.Context, provider.Call) (string, error) {
		return "", model.Errorf(model.KindTransient, "%s is down", id)
	}}
}

func blocking(id string) *fakeProvider {
	return &fakeProvider{id: id, fn: func(ctx context.Context, _ provider.Call) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
}

// stubborn ignores its context entirely.
func stubborn(id string, d time.Duration) *fakeProvider {
	return &fakeProvider{id: id, fn: func(context.Context, provider.Call) (string, error) {
		time.Sleep(d)
		return "late", nil
	}}
}

func stage(name, kind string) config.StageConfig {
	s := config.StageConfig{Name: name, Kind: kind, Timeout: 200 * time.Millisecond, MaxAttempts: 2}
	if kind == config.StageLocal {
		s.Transform = "collapse"
		s.MaxAttempts = 1
	}
	return s
}

// testCatalog builds a chat route whose pro pipeline uses pro-a/pro-b and
// whose free pipeline uses free-a.
func testCatalog(t *testing.T) *router.Catalog {
	t.Helper()
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{ID: "pro-a", Type: "echo"},
		{ID: "pro-b", Type: "echo"},
		{ID: "free-a", Type: "echo"},
		{ID: "batch-a", Type: "echo"},
	}
	batch := stage("rewrite", config.StageProvider)
	batch.Parallel = true
	cfg.Pipelines = []config.PipelineConfig{
		{
			ID: "chat-free", Version: "1", Tier: config.TierFree, CostPer1K: 1,
			Providers: []string{"free-a"},
			Stages:    []config.StageConfig{stage("clean", config.StageLocal), stage("rewrite", config.StageProvider)},
		},
		{
			ID: "chat-pro", Version: "1", Tier: config.TierPro, CostPer1K: 4,
			Providers: []string{"pro-a", "pro-b"},
			Stages: []config.StageConfig{
				stage("clean", config.StageLocal),
				stage("rewrite", config.StageProvider),
				stage("refine", config.StageProvider),
			},
		},
		{
			ID: "batch-free", Version: "1", Tier: config.TierFree, CostPer1K: 1,
			Providers: []string{"batch-a"},
			Stages:    []config.StageConfig{batch},
		},
	}
	cfg.Routes = []config.RouteConfig{
		{Client: "browser-chat", Intent: "chat", Free: "chat-free", Pro: "chat-pro"},
		{Client: "api", Intent: "batch", Free: "batch-free"},
	}
	require.NoError(t, cfg.Validate())
	cat, err := router.NewCatalog(cfg)
	require.NoError(t, err)
	return cat
}

func testRegistry(t *testing.T, ps ...provider.Provider) *provider.Registry {
	t.Helper()
	regs := make([]provider.Registration, 0, len(ps))
	for _, p := range ps {
		regs = append(regs, provider.Registration{Provider: p, Type: "test", Capabilities: provider.Capabilities{MaxTokens: 8000}})
	}
	r, err := provider.NewRegistry(provider.DefaultOptions(), regs...)
	require.NoError(t, err)
	return r
}

func normalized(text string) model.NormalizedRequest {
	return model.NormalizedRequest{
		Request: model.Request{CorrelationID: "req_test"},
		Text:    text,
		Intent:  model.IntentChat,
	}
}

func route(t *testing.T, cat *router.Catalog, plan model.Plan) router.RouteDecision {
	t.Helper()
	d, err := cat.Route(model.ClientBrowserChat, model.IntentChat, plan, nil)
	require.NoError(t, err)
	return d
}

var testOpts = Options{MaxTrace: 32, MaxParallel: 2, Overhead: 100 * time.Millisecond}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestExecute_RunsStagesInOrder(t *testing.T) {
	cat := testCatalog(t)
	freeA := succeeding("free-a")
	x := New(testRegistry(t, freeA), cat, testOpts)

	out, err := x.Execute(context.Background(), normalized("summarize   this"), route(t, cat, model.PlanFree), nil)
	require.NoError(t, err)

	assert.Equal(t, "[free-a] summarize this", out.Text)
	assert.Equal(t, "chat-free", out.Decision.MatchedPipeline)
	assert.False(t, out.Degraded())
	require.Len(t, out.Trace, 1)
	assert.Equal(t, model.OutcomeSuccess, out.Trace[0].Outcome)
	assert.Equal(t, "rewrite", out.Trace[0].Stage)
	assert.EqualValues(t, 1, freeA.calls.Load())
}

func TestExecute_RetriesOnNextProvider(t *testing.T) {
	cat := testCatalog(t)
	proA, proB := failing("pro-a"), succeeding("pro-b")
	x := New(testRegistry(t, proA, proB, succeeding("free-a")), cat, testOpts)

	out, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanPro), nil)
	require.NoError(t, err)
	assert.False(t, out.FellBack)
	assert.Equal(t, "chat-pro", out.Decision.MatchedPipeline)

	// rewrite: pro-a fails, pro-b succeeds. refine: pro-b ranks first now.
	require.Len(t, out.Trace, 3)
	assert.Equal(t, "pro-a", out.Trace[0].ProviderID)
	assert.Equal(t, model.OutcomeError, out.Trace[0].Outcome)
	assert.Equal(t, 0, out.Trace[0].Retry)
	assert.Equal(t, "pro-b", out.Trace[1].ProviderID)
	assert.Equal(t, 1, out.Trace[1].Retry)
	assert.Equal(t, "pro-b", out.Trace[2].ProviderID)
	assert.Equal(t, "refine", out.Trace[2].Stage)
}

// =============================================================================
// FALLBACK (SCENARIO D)
// =============================================================================

func TestExecute_ProExhaustedFallsBackOnce(t *testing.T) {
	cat := testCatalog(t)
	proA, proB, freeA := failing("pro-a"), failing("pro-b"), succeeding("free-a")
	x := New(testRegistry(t, proA, proB, freeA), cat, testOpts)

	out, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanPro), nil)
	require.NoError(t, err)

	assert.True(t, out.FellBack)
	assert.True(t, out.Degraded())
	assert.Equal(t, "chat-free", out.Decision.MatchedPipeline)
	assert.Equal(t, "fallback:chat-pro", out.Decision.DowngradeReason)
	assert.Equal(t, "[free-a] hello", out.Text)
	assert.EqualValues(t, 1, proA.calls.Load())
	assert.EqualValues(t, 1, proB.calls.Load())
	assert.EqualValues(t, 1, freeA.calls.Load())
}

func TestExecute_UnavailableProvidersAreSkipped(t *testing.T) {
	cat := testCatalog(t)
	proA, proB, freeA := succeeding("pro-a"), succeeding("pro-b"), succeeding("free-a")
	reg := testRegistry(t, proA, proB, freeA)
	for _, id := range []string{"pro-a", "pro-b"} {
		for i := 0; i < 6; i++ {
			reg.Report(id, provider.Outcome{Success: false, Kind: model.KindTransient})
		}
		d, found := reg.Descriptor(id)
		require.True(t, found)
		require.Equal(t, provider.Unavailable, d.Health)
	}
	x := New(reg, cat, testOpts)

	out, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanPro), nil)
	require.NoError(t, err)

	assert.True(t, out.FellBack)
	assert.Equal(t, "chat-free", out.Decision.MatchedPipeline)
	assert.Equal(t, "[free-a] hello", out.Text)
	assert.EqualValues(t, 0, proA.calls.Load())
	assert.EqualValues(t, 0, proB.calls.Load())
	assert.EqualValues(t, 1, freeA.calls.Load())
	require.Len(t, out.Trace, 1)
	assert.Equal(t, "free-a", out.Trace[0].ProviderID)
}

func TestExecute_FallbackExhaustedTerminates(t *testing.T) {
	cat := testCatalog(t)
	proA, proB, freeA := failing("pro-a"), failing("pro-b"), failing("free-a")
	x := New(testRegistry(t, proA, proB, freeA), cat, testOpts)

	out, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanPro), nil)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindFallbackExhausted))
	require.NotNil(t, out)
	assert.True(t, out.FellBack)

	// Bounded: two pro attempts, one free attempt (only one free provider).
	total := proA.calls.Load() + proB.calls.Load() + freeA.calls.Load()
	assert.EqualValues(t, 3, total)
	assert.Len(t, out.Trace, 3)
}

func TestExecute_FreeExhaustedHasNoFallback(t *testing.T) {
	cat := testCatalog(t)
	freeA := failing("free-a")
	x := New(testRegistry(t, freeA), cat, testOpts)

	out, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanFree), nil)
	assert.True(t, model.IsKind(err, model.KindFallbackExhausted))
	assert.False(t, out.FellBack)
	assert.EqualValues(t, 1, freeA.calls.Load())
}

type killed map[string]bool

func (k killed) PipelineDisabled(id string) bool { return k[id] }

func TestExecute_NoFallbackWhenFreeKilled(t *testing.T) {
	cat := testCatalog(t)
	x := New(testRegistry(t, failing("pro-a"), failing("pro-b"), succeeding("free-a")), cat, testOpts)

	_, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanPro), killed{"chat-free": true})
	assert.True(t, model.IsKind(err, model.KindFallbackExhausted))
}

// =============================================================================
// TIMEOUT AND CANCELLATION
// =============================================================================

func TestExecute_StageTimeoutMovesToNextProvider(t *testing.T) {
	cat := testCatalog(t)
	x := New(testRegistry(t, blocking("pro-a"), succeeding("pro-b"), succeeding("free-a")), cat, testOpts)

	out, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanPro), nil)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeTimeout, out.Trace[0].Outcome)
	assert.Equal(t, "pro-a", out.Trace[0].ProviderID)
	assert.False(t, out.FellBack)
}

func TestExecute_CancellationIsPrompt(t *testing.T) {
	cat := testCatalog(t)
	x := New(testRegistry(t, stubborn("free-a", 2*time.Second)), cat, testOpts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := x.Execute(ctx, normalized("hello"), route(t, cat, model.PlanFree), nil)
	assert.True(t, model.IsKind(err, model.KindCancelled))
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_CallerDeadline(t *testing.T) {
	cat := testCatalog(t)
	x := New(testRegistry(t, blocking("free-a")), cat, testOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := x.Execute(ctx, normalized("hello"), route(t, cat, model.PlanFree), nil)
	assert.True(t, model.IsKind(err, model.KindDeadlineExceeded))
}

func TestExecute_CancellationDoesNotPenalizeProvider(t *testing.T) {
	cat := testCatalog(t)
	reg := testRegistry(t, blocking("free-a"))
	x := New(reg, cat, testOpts)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, _ = x.Execute(ctx, normalized("hello"), route(t, cat, model.PlanFree), nil)

	d, ok := reg.Descriptor("free-a")
	require.True(t, ok)
	assert.Zero(t, d.Samples)
}

func TestDeadline_IncludesFallbackBudget(t *testing.T) {
	cat := testCatalog(t)
	x := New(testRegistry(t), cat, testOpts)

	pro := route(t, cat, model.PlanPro)
	free := route(t, cat, model.PlanFree)
	assert.Equal(t, pro.Pipeline.Budget()+free.Pipeline.Budget()+testOpts.Overhead, x.Deadline(pro, nil))
	assert.Equal(t, free.Pipeline.Budget()+testOpts.Overhead, x.Deadline(free, nil))
}

// =============================================================================
// PARALLEL STAGES
// =============================================================================

func TestExecute_ParallelBatchBounded(t *testing.T) {
	cat := testCatalog(t)

	var inFlight, peak atomic.Int32
	batchA := &fakeProvider{id: "batch-a", fn: func(_ context.Context, call provider.Call) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return strings.ToUpper(call.Input), nil
	}}
	x := New(testRegistry(t, batchA), cat, testOpts)

	d, err := cat.Route(model.ClientAPI, model.IntentBatch, model.PlanFree, nil)
	require.NoError(t, err)

	out, err := x.Execute(context.Background(), normalized("one\n---\ntwo\n---\nthree\n---\nfour"), d, nil)
	require.NoError(t, err)
	assert.Equal(t, "ONE\n---\nTWO\n---\nTHREE\n---\nFOUR", out.Text)
	assert.LessOrEqual(t, peak.Load(), int32(testOpts.MaxParallel))
	assert.EqualValues(t, 4, batchA.calls.Load())
	assert.Len(t, out.Trace, 4)
}

// =============================================================================
// TRACE AND OBSERVER
// =============================================================================

type recorder struct {
	mu       sync.Mutex
	attempts int
	stages   []string
}

func (r *recorder) ObserveAttempt(model.ExecutionAttempt) {
	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()
}

func (r *recorder) ObserveStage(_, stage string, _ time.Duration) {
	r.mu.Lock()
	r.stages = append(r.stages, stage)
	r.mu.Unlock()
}

func TestExecute_ObserverAndTraceCap(t *testing.T) {
	cat := testCatalog(t)
	rec := &recorder{}
	opts := testOpts
	opts.MaxTrace = 1
	x := New(testRegistry(t, failing("pro-a"), succeeding("pro-b"), succeeding("free-a")), cat, opts).WithObserver(rec)

	out, err := x.Execute(context.Background(), normalized("hello"), route(t, cat, model.PlanPro), nil)
	require.NoError(t, err)

	assert.Len(t, out.Trace, 1)
	assert.Equal(t, 2, out.Truncated)
	assert.Equal(t, "refine", out.Trace[0].Stage, "most recent attempt is kept")
	assert.Equal(t, 3, rec.attempts)
	assert.Equal(t, []string{"clean", "rewrite", "refine"}, rec.stages)
}

func TestLookupTransform(t *testing.T) {
	for name := range config.LocalTransforms {
		_, err := LookupTransform(name)
		assert.NoError(t, err, name)
	}
	_, err := LookupTransform("nope")
	assert.Error(t, err)

	bullets, _ := LookupTransform("bullets")
	assert.Equal(t, "- first\n- second\n\n1. kept\n```\ncode\n```", bullets("first\nsecond\n\n1. kept\n```\ncode\n```"))
}
