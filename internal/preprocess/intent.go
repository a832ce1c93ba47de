// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package preprocess

import (
	"strings"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// INTENT INFERENCE
// =============================================================================

// agentFlags are leading tokens that mark a request as an agent instruction.
var agentFlags = map[string]bool{
	"/agent":  true,
	"/plan":   true,
	"/run":    true,
	"/task":   true,
	"--agent": true,
	"@agent":  true,
}

// BatchSeparator separates items in a batch request.
const BatchSeparator = "---"

// InferIntent derives an intent from normalized text:
// code fence -> editor, agent command flag -> agent, /batch or separated
// items -> batch, otherwise chat.
func InferIntent(text string) model.Intent {
	if HasCodeFence(text) {
		return model.IntentEditor
	}

	first := strings.ToLower(firstToken(text))
	if agentFlags[first] {
		return model.IntentAgent
	}
	if first == "/batch" || len(SplitBatch(text)) > 1 {
		return model.IntentBatch
	}
	return model.IntentChat
}

func firstToken(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, " \n\t"); i >= 0 {
		return text[:i]
	}
	return text
}

// SplitBatch splits text into items on lines consisting only of "---".
// Empty items are dropped. A leading /batch token is removed.
func SplitBatch(text string) []string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(strings.ToLower(text), "/batch") {
		text = strings.TrimSpace(text[len("/batch"):])
	}

	var items []string
	var cur []string
	flush := func() {
		item := strings.TrimSpace(strings.Join(cur, "\n"))
		if item != "" {
			items = append(items, item)
		}
		cur = cur[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == BatchSeparator {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return items
}

// JoinBatch joins items with the batch separator.
func JoinBatch(items []string) string {
	return strings.Join(items, "\n"+BatchSeparator+"\n")
}
