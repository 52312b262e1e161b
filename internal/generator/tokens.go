package generator

import "math"

// EstimateTokens approximates a token count from a string's length.
// Tokenization fidelity with the real vendor is not a goal; this
// approximation (one token per four characters) is used uniformly for
// token-cost accounting and filler-text sizing.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / 4))
}
