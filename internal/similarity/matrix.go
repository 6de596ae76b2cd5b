package similarity

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"

	"pagediff/internal/features"
)

// Matrix is a dense rows x cols score matrix. Row r is before page r,
// column c is after page c.
type Matrix struct {
	rows, cols int
	data       []float64
}

// NewMatrix creates a matrix with every cell set to +Inf.
func NewMatrix(rows, cols int) *Matrix {
	m := &Matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
	for i := range m.data {
		m.data[i] = math.Inf(1)
	}
	return m
}

// Rows returns the number of before pages.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of after pages.
func (m *Matrix) Cols() int { return m.cols }

// At returns the score of cell (r, c).
func (m *Matrix) At(r, c int) float64 { return m.data[r*m.cols+c] }

// Set stores the score of cell (r, c).
func (m *Matrix) Set(r, c int, v float64) { m.data[r*m.cols+c] = v }

// Row returns a copy of row r.
func (m *Matrix) Row(r int) []float64 {
	out := make([]float64, m.cols)
	copy(out, m.data[r*m.cols:(r+1)*m.cols])
	return out
}

// Col returns a copy of column c.
func (m *Matrix) Col(c int) []float64 {
	out := make([]float64, m.rows)
	for r := 0; r < m.rows; r++ {
		out[r] = m.data[r*m.cols+c]
	}
	return out
}

// WriteCSV writes the matrix with a header row of after indices and a
// leading column of before indices.
func (m *Matrix) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := make([]string, m.cols+1)
	for c := 0; c < m.cols; c++ {
		header[c+1] = strconv.Itoa(c)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, m.cols+1)
	for r := 0; r < m.rows; r++ {
		record[0] = strconv.Itoa(r)
		for c := 0; c < m.cols; c++ {
			record[c+1] = strconv.FormatFloat(m.At(r, c), 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", r, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Build scores every before page against every after page. Cells are
// computed concurrently by at most workers goroutines; a page with a nil
// descriptor list leaves its whole row or column at +Inf.
func Build(ctx context.Context, before, after [][]features.Descriptor, scorer Scorer, workers int) (*Matrix, error) {
	m := NewMatrix(len(before), len(after))
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := range before {
		if before[r] == nil {
			continue
		}
		for c := range after {
			if after[c] == nil {
				continue
			}
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				m.Set(r, c, scorer.Score(before[r], after[c]))
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build similarity matrix: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build similarity matrix: %w", err)
	}
	return m, nil
}
