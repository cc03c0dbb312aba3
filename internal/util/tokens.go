// Package util holds small shared helpers: the deterministic prompt-token
// estimator and environment lookups.
package util

import (
	"math"
	"unicode"
)

// EstimateTextTokens approximates the token count of a plain string. Chinese
// characters count one token per two characters, everything else one token per
// four characters, each rounded up. The heuristic is deterministic and only
// used for usage reporting.
func EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	var chinese, other int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			chinese++
		} else {
			other++
		}
	}
	tokens := 0
	if chinese > 0 {
		tokens += int(math.Ceil(float64(chinese) / 2))
	}
	if other > 0 {
		tokens += int(math.Ceil(float64(other) / 4))
	}
	return tokens
}
