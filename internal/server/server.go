// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/engine"
	"github.com/jeranaias/promptforge/internal/identity"
	"github.com/jeranaias/promptforge/internal/killswitch"
	"github.com/jeranaias/promptforge/internal/provider"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// ServiceName is the otel service name of the HTTP layer.
	ServiceName = "promptforge"

	// MaxRequestBodySize bounds the upgrade request body (1MB).
	MaxRequestBodySize = 1 << 20
)

// Version is reported by /health. Set by the CLI at startup.
var Version = "dev"

// ============================================================================
// SERVER
// ============================================================================

// Providers is the read side of the provider registry.
type Providers interface {
	Descriptors() []provider.Descriptor
}

// Options are the collaborators of a Server.
type Options struct {
	Engine    *engine.Engine
	Verifier  *identity.Verifier
	Providers Providers
	Switches  killswitch.Source

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front end.
type Server struct {
	cfg     config.ServerConfig
	opts    Options
	router  *gin.Engine
	server  *http.Server
	started time.Time
}

// New creates a server and registers its routes.
func New(cfg config.ServerConfig, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Switches == nil {
		opts.Switches = killswitch.NewStore()
	}
	if opts.Verifier == nil {
		opts.Verifier = identity.NewVerifier(config.IdentityConfig{AllowAnonymous: true})
	}
	s := &Server{cfg: cfg, opts: opts, started: time.Now()}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the router.
func (s *Server) setupRoutes() {
	r := gin.New()
	r.Use(
		RecoveryMiddleware(),
		RequestIDMiddleware(),
		otelgin.Middleware(ServiceName),
		LoggingMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cfg.CORSOrigins),
	)

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.GET("/providers", s.handleProviders)
	v1.POST("/upgrade", IdentityMiddleware(s.opts.Verifier), s.handleUpgrade)

	r.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorBody{Error: ErrorDetail{
			Kind:    "NotFound",
			Message: "no such endpoint",
		}})
	})
	s.router = r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  2 * s.cfg.WriteTimeout,
	}

	log.WithFields(log.Fields{
		"event":   "server_start",
		"addr":    s.cfg.Addr,
		"version": Version,
	}).Info("listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.WithField("event", "server_shutdown").Info("starting graceful shutdown")
	return s.server.Shutdown(ctx)
}
