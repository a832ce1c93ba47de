// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// Call is a single completion request sent to a provider.
type Call struct {
	// Instruction is the system-level rewrite instruction of the stage.
	Instruction string

	// Input is the text the stage operates on.
	Input string

	// MaxTokens bounds the completion. Zero lets the provider decide.
	MaxTokens int
}

// Provider is an LLM endpoint.
type Provider interface {
	// ID returns the stable provider id.
	ID() string

	// Complete runs a completion. Implementations must return promptly when
	// ctx is done. Errors should be *model.Error with a provider kind.
	Complete(ctx context.Context, call Call) (string, error)
}

// Prober is implemented by providers that support a cheap health check.
type Prober interface {
	Probe(ctx context.Context) error
}

// Capabilities describes what a provider can do.
type Capabilities struct {
	MaxTokens     int  `json:"max_tokens"`
	SupportsTools bool `json:"supports_tools"`
}

// Needs is what a stage requires of a provider.
type Needs struct {
	MinTokens int
	Tools     bool
}

// Satisfies reports whether c meets n.
func (c Capabilities) Satisfies(n Needs) bool {
	if n.MinTokens > 0 && c.MaxTokens < n.MinTokens {
		return false
	}
	if n.Tools && !c.SupportsTools {
		return false
	}
	return true
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// ErrNoProviderAvailable is returned by Select when no provider is eligible.
var ErrNoProviderAvailable = errors.New("no provider available")

// ErrNotConfigured indicates a provider has no API key.
var ErrNotConfigured = errors.New("provider API key not configured")

// classify maps a transport or API error to a provider error kind.
func classify(ctx context.Context, err error, status int) *model.Error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return model.Wrap(model.KindTimeout, err, "provider call timed out")
		}
		if errors.Is(err, context.Canceled) {
			return model.Wrap(model.KindTransient, err, "provider call cancelled")
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return model.Wrap(model.KindTimeout, err, "provider call timed out")
		}
	}

	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return model.Wrap(model.KindTransient, err, fmt.Sprintf("provider returned HTTP %d", status))
	case status >= 400:
		return model.Wrap(model.KindPermanent, err, fmt.Sprintf("provider returned HTTP %d", status))
	case err != nil:
		return model.Wrap(model.KindTransient, err, "provider call failed")
	default:
		return nil
	}
}
