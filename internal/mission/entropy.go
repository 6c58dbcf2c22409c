package mission

import "math"

// PoisonThreshold is the entropy score below which a result set is treated
// as suspiciously uniform (fabricated or stale data).
const PoisonThreshold = 0.7

// EntropyScore scores a set of extracted field values in [0,1]. It blends
// the distinct-value ratio with the normalized character entropy of the
// concatenated bytes, so both duplicate results across missions and
// degenerate single-character payloads score low. A set where every value is
// byte-identical always lands below PoisonThreshold.
func EntropyScore(values []string) float64 {
	if len(values) == 0 {
		return 0
	}

	distinct := make(map[string]struct{}, len(values))
	var total int
	freq := make(map[byte]int)
	for _, v := range values {
		distinct[v] = struct{}{}
		for i := 0; i < len(v); i++ {
			freq[v[i]]++
			total++
		}
	}
	distinctRatio := float64(len(distinct)) / float64(len(values))

	var charEntropy float64
	if total > 0 {
		for _, n := range freq {
			p := float64(n) / float64(total)
			charEntropy -= p * math.Log2(p)
		}
	}
	// Normalize against 5 bits/byte; natural text sits around 4.3.
	normEntropy := math.Min(charEntropy/5.0, 1.0)

	score := 0.5*distinctRatio + 0.5*normEntropy
	if score > 1 {
		score = 1
	}
	return score
}
