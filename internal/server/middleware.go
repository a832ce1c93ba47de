// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/identity"
)

// Context keys set by the middleware chain.
const (
	ctxRequestID = "request_id"
	ctxIdentity  = "identity"
)

// HeaderRequestID carries the request id back to the caller.
const HeaderRequestID = "X-Request-ID"

// ============================================================================
// Request ID
// ============================================================================

// RequestIDMiddleware assigns a unique id to each request.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// ============================================================================
// Logging
// ============================================================================

// LoggingMiddleware logs each request once it completes.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"event":      "http_request",
			"request_id": c.GetString(ctxRequestID),
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request completed")
			return
		}
		entry.Info("request completed")
	}
}

// ============================================================================
// Security Headers
// ============================================================================

// SecurityHeadersMiddleware sets response headers for an API that is never
// rendered by a browser.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// ============================================================================
// CORS
// ============================================================================

// CORSMiddleware allows browser extensions and the playground to call the
// API. An empty origin list disables CORS headers; "*" allows any origin.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Expose-Headers", HeaderRequestID+", Retry-After")
			h.Set("Access-Control-Max-Age", "600")
			h.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// ============================================================================
// Recovery
// ============================================================================

// RecoveryMiddleware turns a handler panic into a 500 envelope.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				log.WithFields(log.Fields{
					"event":      "panic_recovered",
					"request_id": c.GetString(ctxRequestID),
					"path":       c.Request.URL.Path,
					"panic":      p,
					"stack":      string(debug.Stack()),
				}).Error("handler panicked")
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
					Kind:    kindInternal,
					Message: "internal error",
				}})
			}
		}()
		c.Next()
	}
}

// ============================================================================
// Identity
// ============================================================================

// IdentityMiddleware resolves the caller from the Authorization header.
func IdentityMiddleware(v *identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := v.Resolve(c.GetHeader("Authorization"), c.Request.RemoteAddr)
		if err != nil {
			log.WithFields(log.Fields{
				"event":      "auth_denied",
				"request_id": c.GetString(ctxRequestID),
			}).WithError(err).Info("caller not authenticated")
			abortWithError(c, err)
			return
		}
		c.Set(ctxIdentity, id)
		c.Next()
	}
}

func callerOf(c *gin.Context) identity.Identity {
	v, _ := c.Get(ctxIdentity)
	id, _ := v.(identity.Identity)
	return id
}
