// Package match computes ranked correspondences between inquiry descriptions
// and a reference price list, with calibrated confidence scores.
package match

import "github.com/costwise/pricematch/internal/normalize"

// Overlap returns the Jaccard index of the token sets of a and b: shared
// tokens over distinct tokens, in [0,1]. Returns 0 when either set is empty.
// Symmetric and deterministic.
//
// Short technical descriptions often share few exact tokens despite being
// true matches, so this is only ever an additive boost on top of the
// embedding similarity, never the sole signal.
func Overlap(a, b string) float64 {
	return jaccard(tokenSet(normalize.Tokens(a)), tokenSet(normalize.Tokens(b)))
}

func tokenSet(tokens []string) map[string]struct{} {
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	var shared int
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
