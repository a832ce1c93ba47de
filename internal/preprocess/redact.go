// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package preprocess

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// =============================================================================
// PATTERN CATALOG
// =============================================================================

// Pattern is a single secret pattern.
type Pattern struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`

	compiled *regexp.Regexp
}

type catalog struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Redactor replaces secrets in text with redaction markers.
// A Redactor is immutable after construction and safe for concurrent use.
type Redactor struct {
	patterns []Pattern
}

// ParsePatterns parses and compiles a YAML pattern catalog.
func ParsePatterns(data []byte) ([]Pattern, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse pattern catalog: %w", err)
	}
	seen := make(map[string]bool)
	for i := range c.Patterns {
		p := &c.Patterns[i]
		if p.ID == "" {
			return nil, fmt.Errorf("pattern %d has no id", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate pattern id %q", p.ID)
		}
		seen[p.ID] = true
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex for pattern %q: %w", p.ID, err)
		}
		p.compiled = re
	}
	return c.Patterns, nil
}

// DefaultRedactor returns a Redactor built from the embedded catalog.
func DefaultRedactor() *Redactor {
	patterns, err := ParsePatterns(defaultPatterns)
	if err != nil {
		// The embedded catalog is covered by tests.
		panic(err)
	}
	return &Redactor{patterns: patterns}
}

// NewRedactor returns a Redactor for the given compiled patterns.
func NewRedactor(patterns []Pattern) *Redactor {
	return &Redactor{patterns: patterns}
}

// PatternIDs returns the ids of the loaded patterns in order.
func (r *Redactor) PatternIDs() []string {
	ids := make([]string, len(r.patterns))
	for i, p := range r.patterns {
		ids[i] = p.ID
	}
	return ids
}

// =============================================================================
// REDACTION
// =============================================================================

type span struct {
	start, end int
	id         string
}

// Redact replaces every secret match with [REDACTED:<id>] and returns the
// new text with the number of replacements. Earlier patterns win on overlap.
func (r *Redactor) Redact(text string) (string, int) {
	var spans []span
	for _, p := range r.patterns {
		for _, loc := range p.compiled.FindAllStringIndex(text, -1) {
			s := span{start: loc[0], end: loc[1], id: p.ID}
			if !overlaps(spans, s) {
				spans = append(spans, s)
			}
		}
	}
	if len(spans) == 0 {
		return text, 0
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, s := range spans {
		b.WriteString(text[last:s.start])
		b.WriteString("[REDACTED:")
		b.WriteString(s.id)
		b.WriteString("]")
		last = s.end
	}
	b.WriteString(text[last:])
	return b.String(), len(spans)
}

func overlaps(spans []span, s span) bool {
	for _, o := range spans {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}
