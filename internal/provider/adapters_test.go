// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/model"
	"github.com/jeranaias/promptforge/internal/offline"
)

// =============================================================================
// ECHO TESTS
// =============================================================================

func TestEcho_Rewrite(t *testing.T) {
	e := NewEcho("echo", 0)

	out, err := e.Complete(context.Background(), Call{Instruction: "Be specific.", Input: "write a poem"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Task:\nwrite a poem"))
	assert.Contains(t, out, "- Be specific.")

	// A second pass appends instead of nesting.
	again, err := e.Complete(context.Background(), Call{Instruction: "Keep it short.", Input: out})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(again, "Task:"))
	assert.True(t, strings.HasSuffix(again, "- Keep it short."))

	// Same instruction twice is idempotent.
	same, err := e.Complete(context.Background(), Call{Instruction: "Be specific.", Input: out})
	require.NoError(t, err)
	assert.Equal(t, out, same)
}

func TestEcho_HonorsContext(t *testing.T) {
	e := NewEcho("echo", time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Complete(ctx, Call{Input: "x"})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// =============================================================================
// OPENROUTER TESTS
// =============================================================================

func TestOpenRouter_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-or-test", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "anthropic/claude-3-haiku", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "gen-1",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "upgraded " + req.Messages[1].Content}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenRouter("or", "sk-or-test").WithBaseURL(srv.URL).WithModel("anthropic/claude-3-haiku")
	out, err := p.Complete(context.Background(), Call{Instruction: "rewrite", Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "upgraded hello", out)
	assert.Len(t, p.KeyFingerprint(), 8)
}

func TestOpenRouter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   model.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, model.KindTransient},
		{"server error", http.StatusBadGateway, model.KindTransient},
		{"bad request", http.StatusBadRequest, model.KindPermanent},
		{"auth", http.StatusUnauthorized, model.KindPermanent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"code":42,"message":"nope"}}`))
			}))
			defer srv.Close()

			p := NewOpenRouter("or", "key").WithBaseURL(srv.URL)
			_, err := p.Complete(context.Background(), Call{Input: "x"})
			require.Error(t, err)
			assert.True(t, model.IsKind(err, tc.want), "got %v", err)

			var apiErr *OpenRouterError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, "42", apiErr.Code)
		})
	}
}

func TestOpenRouter_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := NewOpenRouter("or", "key").WithBaseURL(srv.URL)
	_, err := p.Complete(ctx, Call{Input: "x"})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindTimeout), "got %v", err)
}

func TestOpenRouter_NotConfigured(t *testing.T) {
	_, err := NewOpenRouter("or", "  ").Complete(context.Background(), Call{Input: "x"})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindPermanent))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenRouter_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	require.NoError(t, NewOpenRouter("or", "key").WithBaseURL(srv.URL).Probe(context.Background()))
	require.Error(t, NewOpenRouter("or", "key").WithBaseURL(srv.URL+"/v2").Probe(context.Background()))
}

// =============================================================================
// OPENAI TESTS
// =============================================================================

func TestOpenAI_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"better prompt"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI("oa", "sk-test", srv.URL, "")
	out, err := p.Complete(context.Background(), Call{Instruction: "rewrite", Input: "prompt"})
	require.NoError(t, err)
	assert.Equal(t, "better prompt", out)
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI("oa", "sk-test", srv.URL, "").Complete(context.Background(), Call{Input: "x"})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindTransient), "got %v", err)
}

// =============================================================================
// OLLAMA TESTS
// =============================================================================

func TestOllama_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		require.NotNil(t, req.Options)
		assert.Equal(t, 256, req.Options.NumPredict)
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"sharper prompt"},"done":true}`))
	}))
	defer srv.Close()

	p := NewOllama("local", srv.URL, "llama3")
	out, err := p.Complete(context.Background(), Call{Instruction: "rewrite", Input: "prompt", MaxTokens: 256})
	require.NoError(t, err)
	assert.Equal(t, "sharper prompt", out)
	require.NoError(t, p.Probe(context.Background()))
}

func TestOllama_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   model.Kind
	}{
		{"missing model", http.StatusNotFound, `{"error":"model 'llama3' not found"}`, model.KindPermanent},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, model.KindTransient},
		{"empty content", http.StatusOK, `{"message":{"role":"assistant","content":"  "},"done":true}`, model.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOllama("local", srv.URL, "llama3").Complete(context.Background(), Call{Input: "x"})
			require.Error(t, err)
			assert.True(t, model.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

// =============================================================================
// FACTORY TESTS
// =============================================================================

func TestBuildRegistry_Default(t *testing.T) {
	r, err := BuildRegistry(config.Default())
	require.NoError(t, err)
	assert.Len(t, r.Descriptors(), 2)

	p, found := r.Provider("echo-local")
	require.True(t, found)
	assert.IsType(t, &Echo{}, p)
}

func TestFromConfig_OfflineBlocksRemote(t *testing.T) {
	original := offline.IsOfflineMode()
	defer offline.SetOfflineMode(original)
	offline.SetOfflineMode(true)

	_, err := FromConfig(config.ProviderConfig{ID: "or", Type: "openrouter"})
	assert.ErrorIs(t, err, offline.ErrNonLocalhost)

	_, err = FromConfig(config.ProviderConfig{ID: "oa", Type: "openai"})
	assert.ErrorIs(t, err, offline.ErrRemoteProviderBlocked)

	reg, err := FromConfig(config.ProviderConfig{ID: "local", Type: "openai", BaseURL: "http://127.0.0.1:11434/v1"})
	require.NoError(t, err)
	assert.Equal(t, "local", reg.Provider.ID())

	reg, err = FromConfig(config.ProviderConfig{ID: "ol", Type: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &Ollama{}, reg.Provider)

	_, err = FromConfig(config.ProviderConfig{ID: "x", Type: "carrier-pigeon"})
	assert.Error(t, err)
}
