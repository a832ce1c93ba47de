// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"math"
	"strings"
)

// ============================================================================
// TOKEN ESTIMATION
// ============================================================================

// OutputRatio is the assumed output:input token ratio of an upgrade.
const OutputRatio = 2

// EstimateTokens estimates the token count of text.
// GPT-style: ~4 chars per token on average, blended with the word count.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text)
	tokens := (words + chars/4) / 2
	if tokens == 0 && text != "" {
		tokens = 1
	}
	return tokens
}

// ============================================================================
// CREDIT COST
// ============================================================================

// EstimateCredits returns the credits to reserve for running text through a
// pipeline. Every provider stage processes input plus output, so the cost
// scales with the number of provider stages. The result is at least minCost.
func EstimateCredits(text string, p PipelineSpec, minCost int64) int64 {
	providerStages := 0
	for _, s := range p.Stages {
		if s.Kind == StageProvider {
			providerStages++
		}
	}

	tokens := float64(EstimateTokens(text)) * (1 + OutputRatio)
	credits := int64(math.Ceil(tokens * float64(providerStages) * p.CostPer1K / 1000))
	if credits < minCost {
		credits = minCost
	}
	return credits
}
