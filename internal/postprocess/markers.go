// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package postprocess

import (
	"regexp"
	"strings"
)

// markerPattern matches control markers stages may leave in their output:
// <<...>>, [[stage:...]] and <|...|>.
var markerPattern = regexp.MustCompile(`<<[^<>\n]*>>|\[\[stage:[^\]\n]*\]\]|<\|[^|\n]*\|>`)

// residualPattern matches the opening half of a marker left behind by a
// truncated or malformed stage output.
var residualPattern = regexp.MustCompile(`<<[A-Za-z_]|\[\[stage:|<\|`)

// StripMarkers removes control markers and trims the result.
func StripMarkers(text string) string {
	if !strings.ContainsAny(text, "<[") {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(markerPattern.ReplaceAllString(text, ""))
}

// hasResidualMarkers reports marker fragments outside code fences.
func hasResidualMarkers(text string) bool {
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence && residualPattern.MatchString(line) {
			return true
		}
	}
	return false
}
