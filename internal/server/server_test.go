// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/engine"
	"github.com/jeranaias/promptforge/internal/gate"
	"github.com/jeranaias/promptforge/internal/identity"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/provider"
	"github.com/jeranaias/promptforge/internal/telemetry"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// =============================================================================
// HELPERS
// =============================================================================

var testSecret = strings.Repeat("s", 32)

type harness struct {
	srv      *Server
	switches *killswitch.Store
	verifier *identity.Verifier
}

type harnessOpts struct {
	failing   bool
	anonymous bool
	mutate    func(*config.Config)
}

func echo(_ context.Context, call provider.Call) (string, error) {
	return "Rewritten: " + call.Input + ".", nil
}

func broken(context.Context, provider.Call) (string, error) {
	return "", model.Errorf(model.KindTransient, "upstream unavailable")
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Limits.MaxTextRunes = 100
	cfg.Identity = config.IdentityConfig{JWTSecret: testSecret, Issuer: "promptforge", AllowAnonymous: o.anonymous}
	cfg.Providers = []config.ProviderConfig{{ID: "p1", Type: "echo"}}
	stage := config.StageConfig{Name: "rewrite", Kind: config.StageProvider, Timeout: 200 * time.Millisecond, MaxAttempts: 1}
	cfg.Pipelines = []config.PipelineConfig{
		{ID: "chat-free", Version: "1", Tier: config.TierFree, CostPer1K: 1, Providers: []string{"p1"}, Stages: []config.StageConfig{stage}},
		{ID: "chat-pro", Version: "1", Tier: config.TierPro, CostPer1K: 4, Providers: []string{"p1"}, Stages: []config.StageConfig{stage}},
	}
	cfg.Routes = []config.RouteConfig{{Client: "browser-chat", Intent: "chat", Free: "chat-free", Pro: "chat-pro"}}
	if o.mutate != nil {
		o.mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	fn := echo
	if o.failing {
		fn = broken
	}
	registry, err := provider.NewRegistry(provider.DefaultOptions(), provider.Registration{
		Provider:     &provider.Func{Name: "p1", Fn: fn},
		Type:         "test",
		Capabilities: provider.Capabilities{MaxTokens: 8000},
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	switches := killswitch.NewStore()
	eng, err := engine.FromConfig(cfg, engine.Components{
		Registry: registry,
		Accounts: gate.NewMemoryAccounting(1000),
		Switches: switches,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	verifier := identity.NewVerifier(cfg.Identity)
	srv := New(cfg.Server, Options{
		Engine:    eng,
		Verifier:  verifier,
		Providers: registry,
		Switches:  switches,
		Gatherer:  reg,
	})
	return &harness{srv: srv, switches: switches, verifier: verifier}
}

func (h *harness) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) token(t *testing.T, plan model.Plan) string {
	t.Helper()
	tok, err := h.verifier.Issue("user-1", plan, "", time.Hour)
	require.NoError(t, err)
	return tok
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

const chatBody = `{"text":"summarize this","client":"browser-chat","intent":"chat"}`

// =============================================================================
// UPGRADE
// =============================================================================

func TestUpgrade_FreeAnonymous(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true})

	// A plan in the body is ignored.
	rec := h.do(t, http.MethodPost, "/v1/upgrade",
		`{"text":"summarize this","client":"browser-chat","intent":"chat","plan":"pro"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "chat-free", res["matched_pipeline"])
	assert.Equal(t, "Rewritten: summarize this.", res["upgraded"])
	assert.Equal(t, "promptforge/1.0", res["engine_version"])
	assert.Contains(t, res, "fidelity_score")
	assert.NotContains(t, res, "plan")
	assert.NotContains(t, res, "degraded")
}

func TestUpgrade_ProFromToken(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	rec := h.do(t, http.MethodPost, "/v1/upgrade",
		`{"text":"summarize this","client":"browser-chat","intent":"chat","explain":true}`, h.token(t, model.PlanPro))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "chat-pro", res.MatchedPipeline)
	require.NotNil(t, res.Plan)
	assert.Equal(t, "chat-pro@1", res.Plan.Pipeline)
	assert.Len(t, res.Plan.Attempts, 1)
}

func TestUpgrade_ProKillSwitchDegrades(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.switches.SetPipeline("chat-pro", true)

	rec := h.do(t, http.MethodPost, "/v1/upgrade", chatBody, h.token(t, model.PlanPro))
	require.Equal(t, http.StatusOK, rec.Code)

	var res model.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "chat-free", res.MatchedPipeline)
	assert.True(t, res.Degraded)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestUpgrade_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{"too long", `{"text":"` + strings.Repeat("a", 150) + `","client":"browser-chat","intent":"chat"}`, http.StatusRequestEntityTooLarge, "TooLong"},
		{"empty", `{"text":"   ","client":"browser-chat","intent":"chat"}`, http.StatusBadRequest, "Empty"},
		{"unknown client", `{"text":"hi","client":"fax","intent":"chat"}`, http.StatusBadRequest, "MalformedRequest"},
		{"unknown intent", `{"text":"hi","client":"browser-chat","intent":"poetry"}`, http.StatusBadRequest, "MalformedIntent"},
		{"missing client", `{"text":"hi"}`, http.StatusBadRequest, "MalformedRequest"},
		{"not json", `{`, http.StatusBadRequest, "MalformedRequest"},
		{"unknown route", `{"text":"hi","client":"api","intent":"chat"}`, http.StatusInternalServerError, "UnknownRoute"},
	}

	h := newHarness(t, harnessOpts{anonymous: true, mutate: func(c *config.Config) {
		c.Gate.RatePerSecond = 100
		c.Gate.Burst = 100
	}})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/upgrade", tt.body, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decodeError(t, rec).Kind)
		})
	}
}

func TestUpgrade_UnknownRouteMessageIsGeneric(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true})
	rec := h.do(t, http.MethodPost, "/v1/upgrade", `{"text":"hi","client":"api","intent":"chat"}`, "")
	detail := decodeError(t, rec)
	assert.NotContains(t, detail.Message, "api")
}

func TestUpgrade_RateLimited(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true, mutate: func(c *config.Config) {
		c.Gate.RatePerSecond = 0.01
		c.Gate.Burst = 1
	}})

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/upgrade", chatBody, "").Code)

	rec := h.do(t, http.MethodPost, "/v1/upgrade", chatBody, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, "RateLimited", detail.Kind)
	assert.GreaterOrEqual(t, detail.RetryAfter, 1)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestUpgrade_EndpointKillSwitch(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true})
	h.switches.SetEndpoint(true)

	rec := h.do(t, http.MethodPost, "/v1/upgrade", chatBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "KillSwitchActive", decodeError(t, rec).Kind)
}

func TestUpgrade_FallbackExhausted(t *testing.T) {
	h := newHarness(t, harnessOpts{failing: true})

	rec := h.do(t, http.MethodPost, "/v1/upgrade", chatBody, h.token(t, model.PlanPro))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "FallbackExhausted", decodeError(t, rec).Kind)
}

func TestUpgrade_Unauthorized(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	rec := h.do(t, http.MethodPost, "/v1/upgrade", chatBody, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec).Kind)

	rec = h.do(t, http.MethodPost, "/v1/upgrade", chatBody, "forged.token.value")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[model.Kind]int{
		model.KindTooLong:             413,
		model.KindMalformedIntent:     400,
		model.KindRateLimited:         429,
		model.KindInsufficientCredits: 402,
		model.KindKillSwitchActive:    503,
		model.KindUnknownRoute:        500,
		model.KindFallbackExhausted:   502,
		model.KindDeadlineExceeded:    504,
		model.KindCancelled:           499,
		model.KindUnauthorized:        401,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), kind.String())
	}
}

// =============================================================================
// OPERATIONAL ENDPOINTS
// =============================================================================

func TestHealth(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true})

	rec := h.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.ProvidersTotal)
	assert.Equal(t, 1, body.ProvidersHealthy)

	h.switches.SetEndpoint(true)
	rec = h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProviders(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true})

	rec := h.do(t, http.MethodGet, "/v1/providers", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body ProvidersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "p1", body.Providers[0].ID)
}

func TestMetrics(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true})
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/upgrade", chatBody, "").Code)

	rec := h.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `promptforge_requests_total{pipeline="chat-free",status="ok"} 1`)
}

func TestNotFoundAndHeaders(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true})

	rec := h.do(t, http.MethodGet, "/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeError(t, rec).Kind)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, harnessOpts{anonymous: true, mutate: func(c *config.Config) {
		c.Server.CORSOrigins = []string{"chrome-extension://abc"}
	}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/upgrade", nil)
	req.Header.Set("Origin", "chrome-extension://abc")
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "chrome-extension://abc", rec.Header().Get("Access-Control-Allow-Origin"))
}
