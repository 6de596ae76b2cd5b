package features

import (
	"encoding/binary"
	"math/bits"
	"sort"
)

// Hamming returns the number of differing bits between two descriptors.
// Descriptors of unequal width are compared over the shorter length, with
// every byte of the excess counted as fully different.
func Hamming(a, b Descriptor) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dist := 0
	i := 0
	for ; i+8 <= n; i += 8 {
		dist += bits.OnesCount64(binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:]))
	}
	for ; i < n; i++ {
		dist += bits.OnesCount8(a[i] ^ b[i])
	}
	if len(a) != len(b) {
		extra := len(a) - len(b)
		if extra < 0 {
			extra = -extra
		}
		dist += extra * 8
	}
	return dist
}

// BestMatches finds the nearest train descriptor for every query descriptor.
// Ties go to the lowest train index. Returns nil when train is empty.
func BestMatches(query, train []Descriptor) []Match {
	if len(train) == 0 {
		return nil
	}
	matches := make([]Match, len(query))
	for qi, q := range query {
		best := Match{QueryIdx: qi, TrainIdx: -1}
		for ti, t := range train {
			d := Hamming(q, t)
			if best.TrainIdx < 0 || d < best.Distance {
				best.TrainIdx = ti
				best.Distance = d
			}
		}
		matches[qi] = best
	}
	return matches
}

// KnnMatch finds the k nearest train descriptors for every query descriptor,
// sorted by distance with ties broken by lowest train index. Queries get
// fewer than k matches when train has fewer than k descriptors.
func KnnMatch(query, train []Descriptor, k int) [][]Match {
	if k <= 0 {
		return nil
	}
	out := make([][]Match, len(query))
	for qi, q := range query {
		best := make([]Match, 0, k+1)
		for ti, t := range train {
			d := Hamming(q, t)
			if len(best) == k && d >= best[k-1].Distance {
				continue
			}
			pos := sort.Search(len(best), func(i int) bool { return best[i].Distance > d })
			best = append(best, Match{})
			copy(best[pos+1:], best[pos:])
			best[pos] = Match{QueryIdx: qi, TrainIdx: ti, Distance: d}
			if len(best) > k {
				best = best[:k]
			}
		}
		out[qi] = best
	}
	return out
}
