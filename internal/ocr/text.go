package ocr

import (
	"strings"
	"unicode"
)

// TextSimilarity scores two OCR readings from 0.0 (nothing in common) to
// 1.0 (same text), ignoring case, whitespace and punctuation. Two empty
// readings are identical.
func TextSimilarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if len(na) == 0 && len(nb) == 0 {
		return 1.0
	}
	if string(na) == string(nb) {
		return 1.0
	}
	lcs := longestCommonSubsequence(na, nb)
	return float64(lcs) / float64(max(len(na), len(nb)))
}

// normalizeText keeps upper-cased letters and digits.
func normalizeText(s string) []rune {
	var out []rune
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

// longestCommonSubsequence calculates LCS length.
func longestCommonSubsequence(a, b []rune) int {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return 0
	}

	// Use two rows for space efficiency
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[n]
}
