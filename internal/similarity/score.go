// Package similarity scores how alike two pages are from their binary
// descriptors and assembles the before x after score matrix.
package similarity

import (
	"math"

	"pagediff/internal/features"
)

// DefaultRatio is the share of the mean descriptor count sampled per page.
const DefaultRatio = 0.2

// Scorer computes a dissimilarity score between two descriptor sets.
// Lower scores mean more similar pages.
type Scorer struct {
	Ratio float64
}

// NewScorer returns a Scorer using DefaultRatio.
func NewScorer() Scorer {
	return Scorer{Ratio: DefaultRatio}
}

// Score samples the first n descriptors of each set, where n is Ratio times
// the mean set size, matches every sampled descriptor of a to its nearest
// sampled descriptor of b and returns the mean Hamming distance.
// Returns +Inf when either sample is empty.
func (s Scorer) Score(a, b []features.Descriptor) float64 {
	ratio := s.Ratio
	if ratio <= 0 {
		ratio = DefaultRatio
	}
	n := int(math.Floor(ratio * float64(len(a)+len(b)) / 2))
	qa := a[:min(n, len(a))]
	qb := b[:min(n, len(b))]
	if len(qa) == 0 || len(qb) == 0 {
		return math.Inf(1)
	}

	matches := features.BestMatches(qa, qb)
	total := 0
	for _, m := range matches {
		total += m.Distance
	}
	return float64(total) / float64(len(matches))
}
