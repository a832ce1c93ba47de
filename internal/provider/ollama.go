// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
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
// OLLAMA CLIENT
// =============================================================================

const (
	// DefaultOllamaURL is the default local Ollama server.
	DefaultOllamaURL = "http://localhost:11434"

	// DefaultOllamaModel is used when the provider config names no model.
	DefaultOllamaModel = "qwen2.5-coder:7b"
)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// Ollama calls a local Ollama server's non-streaming chat endpoint.
type Ollama struct {
	id         string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates an Ollama provider. Empty baseURL and modelName select
// the defaults.
func NewOllama(id, baseURL, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if modelName == "" {
		modelName = DefaultOllamaModel
	}
	return &Ollama{
		id:         id,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      modelName,
		httpClient: sharedHTTPClient,
	}
}

// WithHTTPClient replaces the HTTP client.
func (o *Ollama) WithHTTPClient(client *http.Client) *Ollama {
	o.httpClient = client
	return o
}

// ID returns the provider id.
func (o *Ollama) ID() string { return o.id }

// Complete sends one chat request with streaming disabled.
func (o *Ollama) Complete(ctx context.Context, call Call) (string, error) {
	reqBody := ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: call.Instruction},
			{Role: "user", Content: call.Input},
		},
	}
	if call.MaxTokens > 0 {
		reqBody.Options = &ollamaOptions{NumPredict: call.MaxTokens}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", model.Wrap(model.KindPermanent, err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", model.Wrap(model.KindPermanent, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", classify(ctx, err, 0)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", classify(ctx, err, 0)
	}

	log.WithFields(log.Fields{
		"event":    "provider_http",
		"provider": o.id,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("provider response")

	if resp.StatusCode != http.StatusOK {
		var apiErr ollamaError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		// A missing model will not appear on retry.
		if resp.StatusCode == http.StatusNotFound {
			return "", model.Errorf(model.KindPermanent, "ollama model %s: %s", o.model, msg)
		}
		return "", classify(ctx, fmt.Errorf("ollama: %s", msg), resp.StatusCode)
	}

	var chat ollamaChatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", model.Wrap(model.KindTransient, err, "failed to decode response")
	}
	if strings.TrimSpace(chat.Message.Content) == "" {
		return "", model.Errorf(model.KindTransient, "provider %s returned no content", o.id)
	}
	return chat.Message.Content, nil
}

// Probe checks that the server answers on its root path.
func (o *Ollama) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from ollama: %s", resp.Status)
	}
	return nil
}
