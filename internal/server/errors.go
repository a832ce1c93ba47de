// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/model"
)

// StatusClientClosedRequest is returned when the caller went away.
const StatusClientClosedRequest = 499

// kindInternal is reported for errors that carry no kind.
const kindInternal = "Internal"

// ErrorBody is the failure envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind model.Kind) int {
	switch kind {
	case model.KindTooLong:
		return http.StatusRequestEntityTooLarge
	case model.KindEmpty, model.KindMalformedIntent, model.KindMalformedRequest:
		return http.StatusBadRequest
	case model.KindUnauthorized:
		return http.StatusUnauthorized
	case model.KindRateLimited:
		return http.StatusTooManyRequests
	case model.KindInsufficientCredits:
		return http.StatusPaymentRequired
	case model.KindKillSwitchActive, model.KindPipelineDisabled:
		return http.StatusServiceUnavailable
	case model.KindFallbackExhausted:
		return http.StatusBadGateway
	case model.KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case model.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes the envelope for err and stops the chain.
func abortWithError(c *gin.Context, err error) {
	var e *model.Error
	if !errors.As(err, &e) {
		log.WithFields(log.Fields{
			"event":      "internal_error",
			"request_id": c.GetString(ctxRequestID),
		}).WithError(err).Error("unclassified error")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorBody{Error: ErrorDetail{
			Kind:    kindInternal,
			Message: "internal error",
		}})
		return
	}
	kind := e.Kind
	detail := ErrorDetail{Kind: kind.String(), Message: e.Message}
	switch kind {
	case model.KindUnknownRoute:
		// Configuration gaps are operational defects; the caller gets a
		// generic failure.
		detail.Message = "no pipeline is available for this request"
	case model.KindRateLimited:
		secs := int(e.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		detail.RetryAfter = secs
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	c.AbortWithStatusJSON(StatusFor(kind), ErrorBody{Error: detail})
}
