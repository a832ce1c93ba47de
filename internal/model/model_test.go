// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ENUM TESTS
// =============================================================================

func TestParseClient(t *testing.T) {
	for _, c := range AllClients() {
		got, err := ParseClient(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseClient("desktop")
	require.Error(t, err)
}

func TestParseIntent(t *testing.T) {
	got, err := ParseIntent("")
	require.NoError(t, err)
	assert.Equal(t, IntentUnset, got)

	got, err = ParseIntent(" Batch ")
	require.NoError(t, err)
	assert.Equal(t, IntentBatch, got)

	_, err = ParseIntent("summarize")
	require.Error(t, err)
}

func TestPlan_IsPaid(t *testing.T) {
	assert.False(t, PlanFree.IsPaid())
	assert.True(t, PlanPro.IsPaid())
	assert.True(t, PlanEnterprise.IsPaid())
}

// TestRequest_JSONIgnoresPlan ensures a client cannot elevate itself by
// putting a plan in the body.
func TestRequest_JSONIgnoresPlan(t *testing.T) {
	body := `{"text":"hi","client":"browser-chat","plan":"pro","meta":{"analytics_consent":true}}`

	var req Request
	require.NoError(t, json.Unmarshal([]byte(body), &req))

	assert.Equal(t, ClientBrowserChat, req.Client)
	assert.Equal(t, PlanFree, req.Plan)
	assert.Equal(t, IntentUnset, req.Intent)
	assert.True(t, req.Consent.AllowsRawText())
}

func TestRequest_JSONRejectsUnknownClient(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{"text":"hi","client":"fax"}`), &req)
	require.Error(t, err)
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestKind_Category(t *testing.T) {
	tests := []struct {
		kind Kind
		want Category
	}{
		{KindTooLong, CategoryValidation},
		{KindMalformedIntent, CategoryValidation},
		{KindRateLimited, CategoryGate},
		{KindKillSwitchActive, CategoryGate},
		{KindUnknownRoute, CategoryRouting},
		{KindTimeout, CategoryProvider},
		{KindPermanent, CategoryProvider},
		{KindFallbackExhausted, CategoryExecution},
		{KindCancelled, CategoryExecution},
		{KindUnauthorized, CategoryAuth},
	}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.Category())
		})
	}
}

func TestError_WrapAndInspect(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("stage rewrite: %w", Wrap(KindTransient, cause, "provider call failed"))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTransient, kind)
	assert.True(t, IsKind(err, KindTransient))
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &Error{Kind: KindTransient})
	assert.Contains(t, err.Error(), "ProviderError/Transient")

	_, ok = KindOf(cause)
	assert.False(t, ok)
}

func TestError_RetryAfter(t *testing.T) {
	err := &Error{Kind: KindRateLimited, Message: "slow down", RetryAfter: 2 * time.Second}
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 2*time.Second, e.RetryAfter)
}

// =============================================================================
// TRACE TESTS
// =============================================================================

func TestTrace_TailKeepsMostRecent(t *testing.T) {
	var tr Trace
	for i := 0; i < 10; i++ {
		tr = append(tr, ExecutionAttempt{Retry: i})
	}

	tail := tr.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, 7, tail[0].Retry)
	assert.Equal(t, 9, tail[2].Retry)
	assert.Len(t, tr.Tail(50), 10)
	assert.Nil(t, tr.Tail(0))
}

func TestTrace_Providers(t *testing.T) {
	tr := Trace{
		{ProviderID: "a", Outcome: OutcomeTimeout},
		{ProviderID: "b", Outcome: OutcomeSuccess},
		{ProviderID: "b", Outcome: OutcomeSuccess},
		{ProviderID: "c", Outcome: OutcomeSuccess},
	}
	assert.Equal(t, []string{"b", "c"}, tr.Providers())
}
