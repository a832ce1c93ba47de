// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/provider"
)

// ============================================================================
// UPGRADE
// ============================================================================

// UpgradeRequest is the body of POST /v1/upgrade. The plan always comes
// from the caller's identity.
type UpgradeRequest struct {
	Text    string         `json:"text"`
	Client  string         `json:"client" binding:"required"`
	Intent  string         `json:"intent"`
	Explain bool           `json:"explain"`
	Meta    *model.Consent `json:"meta"`
}

// toRequest converts the wire body into an engine request.
func (r UpgradeRequest) toRequest() (model.Request, error) {
	client, err := model.ParseClient(r.Client)
	if err != nil {
		return model.Request{}, model.Wrap(model.KindMalformedRequest, err, "unknown client")
	}
	intent := model.IntentUnset
	if r.Intent != "" {
		intent, err = model.ParseIntent(r.Intent)
		if err != nil {
			return model.Request{}, model.Wrap(model.KindMalformedIntent, err, "unknown intent")
		}
	}
	req := model.Request{
		Text:    r.Text,
		Client:  client,
		Intent:  intent,
		Explain: r.Explain,
	}
	if r.Meta != nil {
		req.Consent = *r.Meta
	}
	return req, nil
}

// handleUpgrade handles POST /v1/upgrade.
func (s *Server) handleUpgrade(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)

	var body UpgradeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, model.Wrap(model.KindTooLong, err, "request body too large"))
			return
		}
		abortWithError(c, model.Wrap(model.KindMalformedRequest, err, "invalid request body"))
		return
	}

	req, err := body.toRequest()
	if err != nil {
		abortWithError(c, err)
		return
	}

	caller := callerOf(c)
	req.Identity = caller.ID
	req.Plan = caller.Plan
	req.APIKey = caller.APIKey
	req.CorrelationID = c.GetString(ctxRequestID)

	result, err := s.opts.Engine.Upgrade(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ============================================================================
// PROVIDERS
// ============================================================================

// ProvidersResponse is the body of GET /v1/providers.
type ProvidersResponse struct {
	Providers []provider.Descriptor `json:"providers"`
}

// handleProviders handles GET /v1/providers.
func (s *Server) handleProviders(c *gin.Context) {
	resp := ProvidersResponse{Providers: []provider.Descriptor{}}
	if s.opts.Providers != nil {
		resp.Providers = append(resp.Providers, s.opts.Providers.Descriptors()...)
	}
	c.JSON(http.StatusOK, resp)
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string   `json:"status"`
	Version           string   `json:"version"`
	EngineVersion     string   `json:"engine_version"`
	UptimeSeconds     int64    `json:"uptime_seconds"`
	ProvidersHealthy  int      `json:"providers_healthy"`
	ProvidersTotal    int      `json:"providers_total"`
	EndpointDisabled  bool     `json:"endpoint_disabled,omitempty"`
	DisabledPipelines []string `json:"disabled_pipelines,omitempty"`
}

// handleHealth handles GET /health. The status is "ok" when every
// provider is healthy, "degraded" when some are, and "unavailable" when
// none are or the endpoint is switched off.
func (s *Server) handleHealth(c *gin.Context) {
	snap := s.opts.Switches.Snapshot()
	resp := HealthResponse{
		Status:            "ok",
		Version:           Version,
		EngineVersion:     s.cfg.EngineVersion,
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		EndpointDisabled:  snap.EndpointDisabled(),
		DisabledPipelines: snap.DisabledPipelines(),
	}

	if s.opts.Providers != nil {
		for _, d := range s.opts.Providers.Descriptors() {
			if d.Disabled {
				continue
			}
			resp.ProvidersTotal++
			if d.Health == provider.Healthy {
				resp.ProvidersHealthy++
			}
		}
	}

	switch {
	case resp.EndpointDisabled, resp.ProvidersTotal > 0 && resp.ProvidersHealthy == 0:
		resp.Status = "unavailable"
	case resp.ProvidersHealthy < resp.ProvidersTotal:
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
