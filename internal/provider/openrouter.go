// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// OPENROUTER CLIENT
// =============================================================================

const (
	// DefaultOpenRouterURL is the base URL for the OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultOpenRouterModel lets OpenRouter choose the model.
	DefaultOpenRouterModel = "openrouter/auto"

	// MaxResponseSize caps the response body read from a provider.
	MaxResponseSize = 10 * 1024 * 1024
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Timeouts are controlled per call through the context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	},
}

// OpenRouterError represents an error body returned by the OpenRouter API.
type OpenRouterError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *OpenRouterError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
}

// ChatMessage is a single chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

// ChatResponse is the chat completions response body.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// GetContent returns the content of the first choice, or empty string if none.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

// OpenRouter is a provider backed by the OpenRouter chat completions API.
// Any OpenAI-compatible endpoint works when BaseURL is overridden.
type OpenRouter struct {
	id         string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	siteURL    string
	siteName   string
}

// NewOpenRouter creates an OpenRouter provider.
func NewOpenRouter(id, apiKey string) *OpenRouter {
	return &OpenRouter{
		id:         id,
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultOpenRouterURL,
		model:      DefaultOpenRouterModel,
		httpClient: sharedHTTPClient,
		siteName:   "promptforge",
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenRouter) WithBaseURL(url string) *OpenRouter {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithModel sets the model used for completions.
func (c *OpenRouter) WithModel(model string) *OpenRouter {
	if model != "" {
		c.model = model
	}
	return c
}

// WithHTTPClient replaces the shared pooled client.
func (c *OpenRouter) WithHTTPClient(client *http.Client) *OpenRouter {
	c.httpClient = client
	return c
}

// WithSiteURL sets the referer sent for OpenRouter attribution.
func (c *OpenRouter) WithSiteURL(url string) *OpenRouter {
	c.siteURL = url
	return c
}

// ID returns the provider id.
func (c *OpenRouter) ID() string { return c.id }

// IsConfigured returns true if an API key is set.
func (c *OpenRouter) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key.
// SECURITY: Never log key fragments; log the fingerprint instead.
func (c *OpenRouter) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

func (c *OpenRouter) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "promptforge/1.0")
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// Complete performs one chat completion. There is no internal retry; the
// executor retries on the next-ranked provider instead.
func (c *OpenRouter) Complete(ctx context.Context, call Call) (string, error) {
	if !c.IsConfigured() {
		return "", model.Wrap(model.KindPermanent, ErrNotConfigured, c.id)
	}

	body, err := json.Marshal(ChatRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: call.Instruction},
			{Role: "user", Content: call.Input},
		},
		MaxTokens: call.MaxTokens,
	})
	if err != nil {
		return "", model.Wrap(model.KindPermanent, err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", model.Wrap(model.KindPermanent, err, "failed to build request")
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classify(ctx, err, 0)
	}
	defer resp.Body.Close()

	// SECURITY: Response size limit prevents memory exhaustion.
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", classify(ctx, err, 0)
	}

	log.WithFields(log.Fields{
		"event":    "provider_http",
		"provider": c.id,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
		"key":      c.KeyFingerprint(),
	}).Debug("provider response")

	if resp.StatusCode != http.StatusOK {
		return "", classify(ctx, parseAPIError(resp.StatusCode, data), resp.StatusCode)
	}

	var chat ChatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", model.Wrap(model.KindTransient, err, "failed to decode response")
	}
	content := chat.GetContent()
	if strings.TrimSpace(content) == "" {
		return "", model.Errorf(model.KindTransient, "provider %s returned no content", c.id)
	}
	return content, nil
}

// Probe lists models, which is cheap and exercises auth and connectivity.
func (c *OpenRouter) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
	if resp.StatusCode != http.StatusOK {
		return &OpenRouterError{Status: resp.StatusCode, Message: "probe failed"}
	}
	return nil
}

func parseAPIError(status int, data []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &OpenRouterError{
			Code:    strings.Trim(string(apiErr.Error.Code), `"`),
			Message: apiErr.Error.Message,
			Status:  status,
		}
	}
	return &OpenRouterError{Status: status, Message: http.StatusText(status)}
}
