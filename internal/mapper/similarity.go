package mapper

import (
	"strings"

	"github.com/dmarsh-dev/crm-migrate/internal/schema"
)

// nameSimilarity scores how closely a sheet name resembles a table name or
// alias, in [0, 1]. Exact normalized equality (including a trailing-s
// plural difference) scores 1; containment scores 0.8; otherwise the score
// is the character-bigram overlap of the normalized names.
func nameSimilarity(a, b string) float64 {
	na, nb := schema.NormalizeName(a), schema.NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}

	if na == nb || singular(na) == singular(nb) {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}

	return bigramOverlap(na, nb)
}

func singular(s string) string {
	if len(s) > 3 && strings.HasSuffix(s, "ies") {
		return s[:len(s)-3] + "y"
	}
	if len(s) > 2 && strings.HasSuffix(s, "s") {
		return s[:len(s)-1]
	}
	return s
}

// bigramOverlap is the Sorensen-Dice coefficient over character bigrams.
func bigramOverlap(a, b string) float64 {
	if len(a) < 2 || len(b) < 2 {
		if a == b {
			return 1
		}
		return 0
	}

	counts := make(map[string]int)
	for i := 0; i < len(a)-1; i++ {
		counts[a[i:i+2]]++
	}

	matched := 0
	for i := 0; i < len(b)-1; i++ {
		bg := b[i : i+2]
		if counts[bg] > 0 {
			counts[bg]--
			matched++
		}
	}

	return 2 * float64(matched) / float64(len(a)-1+len(b)-1)
}
