// Package matching resolves a before x after similarity matrix into a
// partial one-to-one page correspondence.
package matching

import (
	"math"
	"sort"

	"pagediff/internal/similarity"
)

// Pair links a before page index to an after page index.
type Pair struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// Mapping is an injective partial map between before and after pages.
type Mapping struct {
	Pairs           []Pair
	Forward         map[int]int
	Inverse         map[int]int
	UnmatchedBefore []int
	UnmatchedAfter  []int
}

// Resolve pairs pages in two phases. First every mutual best pair is
// accepted. Then rows ascending, followed by columns ascending, claim their
// own best candidate when both ends are still free. Ties go to the lowest
// index; rows or columns with no finite score stay unmatched.
func Resolve(m *similarity.Matrix) Mapping {
	rows, cols := m.Rows(), m.Cols()
	rowBest := make([]int, rows)
	for r := 0; r < rows; r++ {
		rowBest[r] = argmin(m.Row(r))
	}
	colBest := make([]int, cols)
	for c := 0; c < cols; c++ {
		colBest[c] = argmin(m.Col(c))
	}

	mp := Mapping{
		Forward: make(map[int]int),
		Inverse: make(map[int]int),
	}
	accept := func(r, c int) {
		mp.Forward[r] = c
		mp.Inverse[c] = r
	}

	for r, c := range rowBest {
		if c >= 0 && colBest[c] == r {
			accept(r, c)
		}
	}

	for r, c := range rowBest {
		if c < 0 {
			continue
		}
		if _, ok := mp.Forward[r]; ok {
			continue
		}
		if _, ok := mp.Inverse[c]; ok {
			continue
		}
		accept(r, c)
	}
	for c, r := range colBest {
		if r < 0 {
			continue
		}
		if _, ok := mp.Inverse[c]; ok {
			continue
		}
		if _, ok := mp.Forward[r]; ok {
			continue
		}
		accept(r, c)
	}

	for r := 0; r < rows; r++ {
		if c, ok := mp.Forward[r]; ok {
			mp.Pairs = append(mp.Pairs, Pair{Before: r, After: c})
		} else {
			mp.UnmatchedBefore = append(mp.UnmatchedBefore, r)
		}
	}
	for c := 0; c < cols; c++ {
		if _, ok := mp.Inverse[c]; !ok {
			mp.UnmatchedAfter = append(mp.UnmatchedAfter, c)
		}
	}
	sort.Slice(mp.Pairs, func(i, j int) bool { return mp.Pairs[i].Before < mp.Pairs[j].Before })
	return mp
}

// argmin returns the index of the smallest finite value, lowest index on
// ties, or -1 when no value is finite.
func argmin(values []float64) int {
	best := -1
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 1) {
			continue
		}
		if best < 0 || v < values[best] {
			best = i
		}
	}
	return best
}
