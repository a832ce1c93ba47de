// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/gate"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/provider"
	"github.com/jeranaias/promptforge/internal/telemetry"
)

// =============================================================================
// HELPERS
// =============================================================================

const startingCredits = 1000

type callFn func(ctx context.Context, call provider.Call) (string, error)

func ok(id string) callFn {
	return func(_ context.Context, call provider.Call) (string, error) {
		return "[" + id + "] " + call.Input, nil
	}
}

func down(id string) callFn {
	return func(context.Context, provider.Call) (string, error) {
		return "", model.Errorf(model.KindTransient, "%s is down", id)
	}
}

// countingAccounts records every accounting call.
type countingAccounts struct {
	*gate.MemoryAccounting
	reserves, commits, releases atomic.Int32
}

func (c *countingAccounts) Reserve(ctx context.Context, identity string, cost int64) (string, error) {
	c.reserves.Add(1)
	return c.MemoryAccounting.Reserve(ctx, identity, cost)
}

func (c *countingAccounts) Commit(ctx context.Context, id string) error {
	c.commits.Add(1)
	return c.MemoryAccounting.Commit(ctx, id)
}

func (c *countingAccounts) Release(ctx context.Context, id string) error {
	c.releases.Add(1)
	return c.MemoryAccounting.Release(ctx, id)
}

// memorySink keeps delivered events.
type memorySink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *memorySink) Write(ev telemetry.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type fixture struct {
	engine   *Engine
	accounts *countingAccounts
	switches *killswitch.Store
	hook     *telemetry.Hook
	sink     *memorySink
}

func stage(name, kind string) config.StageConfig {
	s := config.StageConfig{Name: name, Kind: kind, Timeout: 200 * time.Millisecond, MaxAttempts: 2}
	if kind == config.StageLocal {
		s.Transform = "collapse"
		s.MaxAttempts = 1
	}
	return s
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Limits.MaxTextRunes = 200
	cfg.Limits.ExecutionOverhead = 100 * time.Millisecond
	cfg.Providers = []config.ProviderConfig{
		{ID: "pro-a", Type: "echo"},
		{ID: "pro-b", Type: "echo"},
		{ID: "free-a", Type: "echo"},
	}
	cfg.Pipelines = []config.PipelineConfig{
		{
			ID: "chat-free", Version: "1", Tier: config.TierFree, CostPer1K: 1,
			Providers: []string{"free-a"},
			Stages:    []config.StageConfig{stage("clean", config.StageLocal), stage("rewrite", config.StageProvider)},
		},
		{
			ID: "chat-pro", Version: "1", Tier: config.TierPro, CostPer1K: 4,
			Providers: []string{"pro-a", "pro-b"},
			Stages:    []config.StageConfig{stage("clean", config.StageLocal), stage("rewrite", config.StageProvider)},
		},
	}
	cfg.Routes = []config.RouteConfig{
		{Client: "browser-chat", Intent: "chat", Free: "chat-free", Pro: "chat-pro"},
	}
	return cfg
}

func newFixture(t *testing.T, fns map[string]callFn, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	regs := make([]provider.Registration, 0, len(fns))
	for id, fn := range fns {
		regs = append(regs, provider.Registration{
			Provider:     &provider.Func{Name: id, Fn: fn},
			Type:         "test",
			Capabilities: provider.Capabilities{MaxTokens: 8000},
		})
	}
	registry, err := provider.NewRegistry(provider.DefaultOptions(), regs...)
	require.NoError(t, err)

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	sink := &memorySink{}
	hook := telemetry.NewHook(64, metrics, sink)
	hook.Start()
	t.Cleanup(hook.Close)

	f := &fixture{
		accounts: &countingAccounts{MemoryAccounting: gate.NewMemoryAccounting(startingCredits)},
		switches: killswitch.NewStore(),
		hook:     hook,
		sink:     sink,
	}
	f.engine, err = FromConfig(cfg, Components{
		Registry: registry,
		Accounts: f.accounts,
		Switches: f.switches,
		Metrics:  metrics,
		Hook:     hook,
	})
	require.NoError(t, err)
	return f
}

func request(text string, plan model.Plan) model.Request {
	return model.Request{
		Text:          text,
		Client:        model.ClientBrowserChat,
		Intent:        model.IntentChat,
		Plan:          plan,
		Identity:      "alice",
		CorrelationID: "req_test",
	}
}

// assertConserved checks that every reservation was settled exactly once.
func (f *fixture) assertConserved(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, f.accounts.Outstanding())
	assert.EqualValues(t, 0, f.engine.Gate().Outstanding())
	assert.Equal(t, f.accounts.reserves.Load(), f.accounts.commits.Load()+f.accounts.releases.Load())
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestUpgrade_FreeChat(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a"), "pro-a": ok("pro-a"), "pro-b": ok("pro-b")}, nil)

	res, err := f.engine.Upgrade(context.Background(), request("summarize this", model.PlanFree))
	require.NoError(t, err)

	assert.Equal(t, "chat-free", res.MatchedPipeline)
	assert.False(t, res.Degraded)
	assert.Equal(t, "[free-a] summarize this", res.Upgraded)
	assert.Equal(t, "promptforge/1.0", res.EngineVersion)
	assert.Nil(t, res.Plan)
	assert.Greater(t, res.FidelityScore, 0.0)

	assert.EqualValues(t, 1, f.accounts.commits.Load())
	assert.Less(t, f.accounts.Balance("alice"), int64(startingCredits))
	f.assertConserved(t)
}

func TestUpgrade_ProKillSwitchDowngrades(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a"), "pro-a": ok("pro-a"), "pro-b": ok("pro-b")}, nil)
	f.switches.SetPipeline("chat-pro", true)

	res, err := f.engine.Upgrade(context.Background(), request("summarize this", model.PlanPro))
	require.NoError(t, err)

	assert.Equal(t, "chat-free", res.MatchedPipeline)
	assert.True(t, res.Degraded)
	f.assertConserved(t)
}

func TestUpgrade_TooLongCreatesNoReservation(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a")}, nil)

	_, err := f.engine.Upgrade(context.Background(), request(strings.Repeat("word ", 100), model.PlanFree))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindTooLong))
	assert.EqualValues(t, 0, f.accounts.reserves.Load())
}

func TestUpgrade_ProFailureFallsBackToFree(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a"), "pro-a": down("pro-a"), "pro-b": down("pro-b")}, nil)

	res, err := f.engine.Upgrade(context.Background(), request("summarize this", model.PlanPro))
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, "chat-free", res.MatchedPipeline)
	assert.EqualValues(t, 1, f.accounts.commits.Load())
	f.assertConserved(t)
}

func TestUpgrade_FallbackExhaustedReleases(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": down("free-a"), "pro-a": down("pro-a"), "pro-b": down("pro-b")}, nil)

	_, err := f.engine.Upgrade(context.Background(), request("summarize this", model.PlanPro))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindFallbackExhausted))

	assert.EqualValues(t, 1, f.accounts.releases.Load())
	assert.EqualValues(t, 0, f.accounts.commits.Load())
	assert.Equal(t, int64(startingCredits), f.accounts.Balance("alice"))
	f.assertConserved(t)
}

// =============================================================================
// GATE AND ROUTING
// =============================================================================

func TestUpgrade_RateLimitedNeverReserves(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a")}, func(c *config.Config) {
		c.Gate.RatePerSecond = 0.001
		c.Gate.Burst = 1
	})

	_, err := f.engine.Upgrade(context.Background(), request("first", model.PlanFree))
	require.NoError(t, err)

	_, err = f.engine.Upgrade(context.Background(), request("second", model.PlanFree))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindRateLimited))
	assert.EqualValues(t, 1, f.accounts.reserves.Load())
	f.assertConserved(t)
}

func TestUpgrade_InsufficientCredits(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a")}, nil)
	f.accounts.MemoryAccounting = gate.NewMemoryAccounting(0)

	_, err := f.engine.Upgrade(context.Background(), request("summarize this", model.PlanFree))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindInsufficientCredits))
	f.assertConserved(t)
}

func TestUpgrade_EndpointKillSwitch(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a")}, nil)
	f.switches.SetEndpoint(true)

	_, err := f.engine.Upgrade(context.Background(), request("summarize this", model.PlanFree))
	assert.True(t, model.IsKind(err, model.KindKillSwitchActive))
	assert.EqualValues(t, 0, f.accounts.reserves.Load())
}

func TestUpgrade_UnknownRoute(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a")}, nil)
	req := request("summarize this", model.PlanFree)
	req.Client = model.ClientAPI

	_, err := f.engine.Upgrade(context.Background(), req)
	assert.True(t, model.IsKind(err, model.KindUnknownRoute))
	assert.EqualValues(t, 0, f.accounts.reserves.Load())
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestUpgrade_CancelledMidFlightReleases(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	blocking := func(ctx context.Context, _ provider.Call) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	}
	f := newFixture(t, map[string]callFn{"free-a": blocking}, func(c *config.Config) {
		c.Pipelines[0].Stages[1].Timeout = 5 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := f.engine.Upgrade(ctx, request("summarize this", model.PlanFree))
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindCancelled))
	assert.EqualValues(t, 1, f.accounts.releases.Load())
	assert.Equal(t, int64(startingCredits), f.accounts.Balance("alice"))
	f.assertConserved(t)
}

// =============================================================================
// EXPLAIN AND TELEMETRY
// =============================================================================

func TestUpgrade_ExplainPlan(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a"), "pro-a": down("pro-a"), "pro-b": ok("pro-b")}, nil)
	req := request("summarize this", model.PlanPro)
	req.Explain = true

	res, err := f.engine.Upgrade(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.Equal(t, "chat-pro@1", res.Plan.Pipeline)
	assert.False(t, res.Plan.FellBack)
	require.Len(t, res.Plan.Attempts, 2)
	assert.Equal(t, model.OutcomeError, res.Plan.Attempts[0].Outcome)
	assert.Equal(t, model.OutcomeSuccess, res.Plan.Attempts[1].Outcome)
}

func TestUpgrade_TelemetryRespectsConsent(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a")}, nil)

	_, err := f.engine.Upgrade(context.Background(), request("no consent given", model.PlanFree))
	require.NoError(t, err)

	consented := request("consent given", model.PlanFree)
	consented.CorrelationID = "req_consent"
	consented.Consent = model.Consent{LogBeforeAfter: true}
	_, err = f.engine.Upgrade(context.Background(), consented)
	require.NoError(t, err)

	f.hook.Close()
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.events, 2)

	plain, raw := f.sink.events[0], f.sink.events[1]
	assert.Equal(t, "req_test", plain.RequestID)
	assert.Empty(t, plain.Before)
	assert.Empty(t, plain.After)
	assert.Equal(t, StatusOK, plain.Status)
	assert.Equal(t, "chat-free", plain.Pipeline)

	assert.Equal(t, "consent given", raw.Before)
	assert.Equal(t, "[free-a] consent given", raw.After)
}

func TestUpgrade_FailureEmitsStatusKind(t *testing.T) {
	f := newFixture(t, map[string]callFn{"free-a": ok("free-a")}, nil)
	_, err := f.engine.Upgrade(context.Background(), request("   ", model.PlanFree))
	require.Error(t, err)

	f.hook.Close()
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.events, 1)
	assert.Equal(t, model.KindEmpty.String(), f.sink.events[0].Status)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = FromConfig(testConfig(), Components{})
	assert.Error(t, err)
}
