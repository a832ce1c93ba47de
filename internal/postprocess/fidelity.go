// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package postprocess

import (
	"math"
	"strings"
	"unicode"

	"github.com/jeranaias/promptforge/internal/util"
)

// Check weights. They sum to 1.
const (
	weightNonEmpty   = 0.30
	weightLength     = 0.25
	weightFences     = 0.15
	weightNoMarkers  = 0.10
	weightSentence   = 0.10
	weightKeywords   = 0.10
	minLengthRatio   = 0.5
	maxLengthRatio   = 4.0
	minKeywordShare  = 0.5
	minKeywordLength = 4
)

// Checks is the breakdown of a fidelity score.
type Checks struct {
	NonEmpty     bool `json:"non_empty"`
	LengthRatio  bool `json:"length_ratio"`
	Fences       bool `json:"balanced_fences"`
	NoMarkers    bool `json:"no_markers"`
	SentenceEnd  bool `json:"sentence_end"`
	KeywordsKept bool `json:"keywords_kept"`
}

// Score returns the weighted sum, rounded to two decimals.
func (c Checks) Score() float64 {
	var s float64
	add := func(ok bool, w float64) {
		if ok {
			s += w
		}
	}
	add(c.NonEmpty, weightNonEmpty)
	add(c.LengthRatio, weightLength)
	add(c.Fences, weightFences)
	add(c.NoMarkers, weightNoMarkers)
	add(c.SentenceEnd, weightSentence)
	add(c.KeywordsKept, weightKeywords)
	return math.Round(s*100) / 100
}

// Evaluate runs every check of output against input.
func Evaluate(output, input string) Checks {
	out := strings.TrimSpace(output)
	c := Checks{NonEmpty: out != ""}
	if !c.NonEmpty {
		return c
	}

	inRunes := util.RuneLen(strings.TrimSpace(input))
	if inRunes > 0 {
		ratio := float64(util.RuneLen(out)) / float64(inRunes)
		c.LengthRatio = ratio >= minLengthRatio && ratio <= maxLengthRatio
	}
	c.Fences = strings.Count(out, "```")%2 == 0
	c.NoMarkers = !hasResidualMarkers(out)
	c.SentenceEnd = sentenceTerminated(out)
	c.KeywordsKept = keywordShare(input, out) >= minKeywordShare
	return c
}

// Fidelity scores output against input in [0, 1].
func Fidelity(output, input string) float64 {
	return Evaluate(output, input).Score()
}

func sentenceTerminated(text string) bool {
	if strings.HasSuffix(text, "```") {
		return true
	}
	r := []rune(text)
	switch r[len(r)-1] {
	case '.', '!', '?', ':', ')', '"', '\'', '`', ']':
		return true
	}
	return false
}

// keywordShare returns the fraction of distinct input keywords that appear
// in output. Input without keywords scores 1.
func keywordShare(input, output string) float64 {
	kw := keywords(input)
	if len(kw) == 0 {
		return 1
	}
	have := keywords(output)
	kept := 0
	for w := range kw {
		if have[w] {
			kept++
		}
	}
	return float64(kept) / float64(len(kw))
}

func keywords(text string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(f)) < minKeywordLength || stopwords[f] {
			continue
		}
		out[f] = true
	}
	return out
}

var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"what": true, "when": true, "where": true, "which": true, "will": true,
	"would": true, "could": true, "should": true, "about": true, "into": true,
	"than": true, "then": true, "them": true, "they": true, "there": true,
	"these": true, "those": true, "your": true, "please": true, "just": true,
}
