// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client identifies the surface a request was submitted from.
type Client int

const (
	// ClientEditorIDE is an editor or IDE extension.
	ClientEditorIDE Client = iota
	// ClientBrowserChat is the browser chat extension.
	ClientBrowserChat
	// ClientAgent is an autonomous agent integration.
	ClientAgent
	// ClientWebPlayground is the hosted playground.
	ClientWebPlayground
	// ClientAPI is a direct API caller.
	ClientAPI
)

var clientNames = []string{"editor-ide", "browser-chat", "agent", "web-playground", "api"}

// String returns the wire name of the client.
func (c Client) String() string {
	if c >= 0 && int(c) < len(clientNames) {
		return clientNames[c]
	}
	return fmt.Sprintf("Client(%d)", int(c))
}

// ParseClient parses a wire name into a Client.
func ParseClient(s string) (Client, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range clientNames {
		if name == s {
			return Client(i), nil
		}
	}
	return 0, fmt.Errorf("unknown client %q", s)
}

// AllClients returns every known client in declaration order.
func AllClients() []Client {
	out := make([]Client, len(clientNames))
	for i := range clientNames {
		out[i] = Client(i)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (c Client) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Client) UnmarshalText(b []byte) error {
	v, err := ParseClient(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// =============================================================================
// INTENT
// =============================================================================

// Intent is the kind of upgrade the user is asking for.
// IntentUnset means the preprocessor must infer it from the text.
type Intent int

const (
	// IntentUnset means no intent was declared.
	IntentUnset Intent = iota
	// IntentChat is a conversational prompt.
	IntentChat
	// IntentEditor is a code-editing prompt.
	IntentEditor
	// IntentAgent is an instruction for an autonomous agent.
	IntentAgent
	// IntentBatch is a set of prompts upgraded together.
	IntentBatch
)

var intentNames = []string{"", "chat", "editor", "agent", "batch"}

// String returns the wire name of the intent.
func (i Intent) String() string {
	if i >= 0 && int(i) < len(intentNames) {
		return intentNames[i]
	}
	return fmt.Sprintf("Intent(%d)", int(i))
}

// ParseIntent parses a wire name into an Intent. The empty string yields IntentUnset.
func ParseIntent(s string) (Intent, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range intentNames {
		if name == s {
			return Intent(i), nil
		}
	}
	return IntentUnset, fmt.Errorf("unknown intent %q", s)
}

// AllIntents returns every concrete intent (IntentUnset excluded).
func AllIntents() []Intent {
	return []Intent{IntentChat, IntentEditor, IntentAgent, IntentBatch}
}

// MarshalText implements encoding.TextMarshaler.
func (i Intent) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Intent) UnmarshalText(b []byte) error {
	v, err := ParseIntent(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// =============================================================================
// PLAN
// =============================================================================

// Plan is the subscription level of the caller. It is always resolved
// server-side from the caller's identity.
type Plan int

const (
	// PlanFree is the default plan.
	PlanFree Plan = iota
	// PlanPro unlocks pro pipelines.
	PlanPro
	// PlanEnterprise is treated as pro for routing.
	PlanEnterprise
)

var planNames = []string{"free", "pro", "enterprise"}

// String returns the wire name of the plan.
func (p Plan) String() string {
	if p >= 0 && int(p) < len(planNames) {
		return planNames[p]
	}
	return fmt.Sprintf("Plan(%d)", int(p))
}

// IsPaid returns true if the plan is entitled to pro pipelines.
func (p Plan) IsPaid() bool {
	return p == PlanPro || p == PlanEnterprise
}

// ParsePlan parses a wire name into a Plan.
func ParsePlan(s string) (Plan, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range planNames {
		if name == s {
			return Plan(i), nil
		}
	}
	return PlanFree, fmt.Errorf("unknown plan %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Plan) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Plan) UnmarshalText(b []byte) error {
	v, err := ParsePlan(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
