// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"fmt"
	"strings"

	"github.com/jeranaias/promptforge/internal/postprocess"
	"github.com/jeranaias/promptforge/internal/preprocess"
)

// Transform is an in-process stage.
type Transform func(string) string

// transforms maps the local transform names accepted in configuration.
var transforms = map[string]Transform{
	"trim":     strings.TrimSpace,
	"collapse": preprocess.CleanText,
	"markers":  postprocess.StripMarkers,
	"bullets":  bulletize,
}

// LookupTransform returns the named transform.
func LookupTransform(name string) (Transform, error) {
	t, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	return t, nil
}

// bulletize turns plain lines into a bullet list. Code fences, blank lines
// and lines that are already list items are left alone.
func bulletize(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" || isListItem(trimmed) {
			continue
		}
		lines[i] = "- " + trimmed
	}
	return strings.Join(lines, "\n")
}

func isListItem(line string) bool {
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "#") {
		return true
	}
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	return digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')')
}
