// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"
	"unicode/utf8"
)

// RuneLen returns the number of runes in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// TruncateRunes cuts s to at most maxRunes runes without splitting a UTF-8
// sequence. truncated reports whether anything was removed.
func TruncateRunes(s string, maxRunes int) (out string, truncated bool) {
	if maxRunes <= 0 {
		return "", s != ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i], true
		}
		n++
	}
	return s, false
}

// TruncateAtBoundary cuts s to at most maxRunes runes, backing up to the last
// line break or space in the final fifth of the kept text when there is one.
func TruncateAtBoundary(s string, maxRunes int) (string, bool) {
	out, truncated := TruncateRunes(s, maxRunes)
	if !truncated {
		return out, false
	}
	floor := len(out) - len(out)/5
	if i := strings.LastIndexAny(out, "\n "); i > 0 && i >= floor {
		out = out[:i]
	}
	return strings.TrimRight(out, " \t\n"), true
}
