// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Category groups error kinds by the component that raises them.
type Category int

const (
	// CategoryValidation errors come from the preprocessor.
	CategoryValidation Category = iota
	// CategoryGate errors come from the gate (kill-switch, rate limit, credits).
	CategoryGate
	// CategoryRouting errors come from the router.
	CategoryRouting
	// CategoryProvider errors come from a single provider invocation.
	CategoryProvider
	// CategoryExecution errors are terminal executor failures.
	CategoryExecution
	// CategoryAuth errors come from identity resolution at the edge.
	CategoryAuth
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "ValidationError"
	case CategoryGate:
		return "GateError"
	case CategoryRouting:
		return "RoutingError"
	case CategoryProvider:
		return "ProviderError"
	case CategoryExecution:
		return "ExecutionError"
	case CategoryAuth:
		return "AuthError"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Kind is a specific error condition.
type Kind int

const (
	// KindTooLong means the normalized text exceeds the configured maximum.
	KindTooLong Kind = iota
	// KindEmpty means the normalized text is empty.
	KindEmpty
	// KindMalformedIntent means the declared intent is not recognized.
	KindMalformedIntent
	// KindMalformedRequest means the request body could not be decoded.
	KindMalformedRequest

	// KindRateLimited means the caller exceeded its token bucket.
	KindRateLimited
	// KindInsufficientCredits means the credit reservation was refused.
	KindInsufficientCredits
	// KindKillSwitchActive means the endpoint is disabled.
	KindKillSwitchActive

	// KindUnknownRoute means the (client, intent) pair has no table entry.
	KindUnknownRoute
	// KindPipelineDisabled means the only eligible pipeline is kill-switched.
	KindPipelineDisabled

	// KindTimeout means a provider call exceeded its stage timeout.
	KindTimeout
	// KindTransient is a retryable provider failure.
	KindTransient
	// KindPermanent is a non-retryable provider failure for this input.
	KindPermanent

	// KindFallbackExhausted means every provider and the free fallback failed.
	KindFallbackExhausted
	// KindDeadlineExceeded means the overall request deadline passed.
	KindDeadlineExceeded
	// KindCancelled means the caller went away.
	KindCancelled

	// KindUnauthorized means the caller identity could not be resolved.
	KindUnauthorized
)

var kindNames = map[Kind]string{
	KindTooLong:             "TooLong",
	KindEmpty:               "Empty",
	KindMalformedIntent:     "MalformedIntent",
	KindMalformedRequest:    "MalformedRequest",
	KindRateLimited:         "RateLimited",
	KindInsufficientCredits: "InsufficientCredits",
	KindKillSwitchActive:    "KillSwitchActive",
	KindUnknownRoute:        "UnknownRoute",
	KindPipelineDisabled:    "PipelineDisabled",
	KindTimeout:             "Timeout",
	KindTransient:           "Transient",
	KindPermanent:           "Permanent",
	KindFallbackExhausted:   "FallbackExhausted",
	KindDeadlineExceeded:    "DeadlineExceeded",
	KindCancelled:           "Cancelled",
	KindUnauthorized:        "Unauthorized",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Category returns the component category the kind belongs to.
func (k Kind) Category() Category {
	switch {
	case k <= KindMalformedRequest:
		return CategoryValidation
	case k <= KindKillSwitchActive:
		return CategoryGate
	case k <= KindPipelineDisabled:
		return CategoryRouting
	case k <= KindPermanent:
		return CategoryProvider
	case k <= KindCancelled:
		return CategoryExecution
	default:
		return CategoryAuth
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Kind.Category(), e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind.Category(), e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind of err. ok is false if err carries no *Error.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries an *Error with the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
