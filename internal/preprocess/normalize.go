// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package preprocess

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/promptforge/internal/model"
)

// =============================================================================
// PREPROCESSOR
// =============================================================================

// DefaultMaxRunes is used when the preprocessor is built with a zero limit.
const DefaultMaxRunes = 16000

// Preprocessor normalizes requests. It holds no mutable state.
type Preprocessor struct {
	maxRunes int
	redactor *Redactor
}

// New creates a Preprocessor. A nil redactor uses the embedded catalog.
func New(maxRunes int, redactor *Redactor) *Preprocessor {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	if redactor == nil {
		redactor = DefaultRedactor()
	}
	return &Preprocessor{maxRunes: maxRunes, redactor: redactor}
}

// MaxRunes returns the configured text limit.
func (p *Preprocessor) MaxRunes() int {
	return p.maxRunes
}

// Normalize validates and cleans a request.
// Errors are *model.Error with kind TooLong, Empty or MalformedIntent.
func (p *Preprocessor) Normalize(req model.Request) (model.NormalizedRequest, error) {
	if req.Intent < model.IntentUnset || req.Intent > model.IntentBatch {
		return model.NormalizedRequest{}, model.Errorf(model.KindMalformedIntent, "intent %d is not recognized", int(req.Intent))
	}

	text := CleanText(req.Text)
	if text == "" {
		return model.NormalizedRequest{}, model.Errorf(model.KindEmpty, "text is empty after normalization")
	}

	runes := utf8.RuneCountInString(text)
	if runes > p.maxRunes {
		return model.NormalizedRequest{}, model.Errorf(model.KindTooLong, "text is %d characters, limit is %d", runes, p.maxRunes)
	}

	text, redactions := p.redactor.Redact(text)

	out := model.NormalizedRequest{
		Request:    req,
		Text:       text,
		Intent:     req.Intent,
		Redactions: redactions,
		Runes:      utf8.RuneCountInString(text),
	}
	if out.Intent == model.IntentUnset {
		out.Intent = InferIntent(text)
		out.IntentInferred = true
	}
	// The original text must not travel further than the preprocessor.
	out.Request.Text = ""
	return out, nil
}

// =============================================================================
// TEXT CLEANING
// =============================================================================

var (
	markupTag  = regexp.MustCompile(`(?i)</?(?:p|div|span|br|hr|b|i|u|s|strong|em|a|ul|ol|li|h[1-6]|pre|code|blockquote|table|thead|tbody|tr|td|th|img|font|section|article|mark)\b[^<>]*/?>`)
	htmlEntity = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'")
	spaceRun   = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)
	zeroWidth  = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\u2060", "")
)

// CleanText applies Unicode normalization, strips markup and collapses
// whitespace. Text inside ``` fences is kept verbatim apart from line endings.
func CleanText(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	text = norm.NFC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = zeroWidth.Replace(text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	blank := 0
	for _, line := range lines {
		if isFence(line) {
			inFence = !inFence
			blank = 0
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}

		line = markupTag.ReplaceAllString(line, "")
		line = htmlEntity.Replace(line)
		line = spaceRun.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "```")
}

// HasCodeFence reports whether text contains a fenced code block marker.
func HasCodeFence(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if isFence(line) {
			return true
		}
	}
	return false
}
