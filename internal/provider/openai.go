// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// OPENAI PROVIDER
// =============================================================================

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI is a provider backed by the OpenAI chat completions API.
type OpenAI struct {
	id     string
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI provider. An empty baseURL uses the public API.
func NewOpenAI(id, apiKey, baseURL, modelName string) *OpenAI {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	cfg.HTTPClient = sharedHTTPClient
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	return &OpenAI{
		id:     id,
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
	}
}

// ID returns the provider id.
func (o *OpenAI) ID() string { return o.id }

// Complete performs one chat completion.
func (o *OpenAI) Complete(ctx context.Context, call Call) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: call.Instruction},
			{Role: openai.ChatMessageRoleUser, Content: call.Input},
		},
	}
	if call.MaxTokens > 0 {
		req.MaxCompletionTokens = call.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(ctx, err, statusOf(err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", model.Errorf(model.KindTransient, "provider %s returned no content", o.id)
	}
	return resp.Choices[0].Message.Content, nil
}

// Probe lists models.
func (o *OpenAI) Probe(ctx context.Context) error {
	_, err := o.client.ListModels(ctx)
	return err
}

// statusOf extracts the HTTP status from go-openai errors.
func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
