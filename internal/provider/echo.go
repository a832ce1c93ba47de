// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"
	"time"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// ECHO PROVIDER
// =============================================================================

// Echo is a deterministic local provider. It structures the input into a
// task/requirements prompt without calling any model, which makes it useful
// for development, offline installs and tests.
type Echo struct {
	id    string
	delay time.Duration
}

// NewEcho creates an echo provider. delay simulates provider latency.
func NewEcho(id string, delay time.Duration) *Echo {
	return &Echo{id: id, delay: delay}
}

// ID returns the provider id.
func (e *Echo) ID() string { return e.id }

// Complete rewrites the input according to the instruction.
func (e *Echo) Complete(ctx context.Context, call Call) (string, error) {
	if e.delay > 0 {
		timer := time.NewTimer(e.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", model.Wrap(model.KindTimeout, ctx.Err(), "echo provider interrupted")
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", model.Wrap(model.KindTimeout, err, "echo provider interrupted")
	}
	return EchoRewrite(call.Instruction, call.Input), nil
}

// Probe always succeeds.
func (e *Echo) Probe(ctx context.Context) error {
	return ctx.Err()
}

// EchoRewrite is the transform applied by the echo provider. A second pass
// over its own output appends the new instruction as a requirement instead
// of nesting the prompt.
func EchoRewrite(instruction, input string) string {
	input = strings.TrimSpace(input)
	instruction = strings.TrimSpace(instruction)

	if strings.HasPrefix(input, "Task:\n") {
		if instruction == "" || strings.Contains(input, "- "+instruction) {
			return input
		}
		return input + "\n- " + instruction
	}

	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(input)
	b.WriteString("\n\nRequirements:")
	if instruction != "" {
		b.WriteString("\n- ")
		b.WriteString(instruction)
	}
	b.WriteString("\n- State any assumptions explicitly.")
	return b.String()
}

// =============================================================================
// FUNC PROVIDER
// =============================================================================

// Func adapts a function to the Provider interface.
type Func struct {
	Name string
	Fn   func(ctx context.Context, call Call) (string, error)
}

// ID returns the provider id.
func (f *Func) ID() string { return f.Name }

// Complete calls Fn.
func (f *Func) Complete(ctx context.Context, call Call) (string, error) {
	return f.Fn(ctx, call)
}
