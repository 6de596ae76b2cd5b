package ocr

import (
	"errors"
	"fmt"
	"image"

	"pagediff/internal/cluster"
	pageimage "pagediff/internal/image"
	"pagediff/internal/pipeline"
	"pagediff/pkg/geometry"

	"gocv.io/x/gocv"
)

// DefaultPadding is the margin added around each region before reading it.
const DefaultPadding = 8

// Annotator reads the before and after text of every changed region.
type Annotator struct {
	engine  *Engine
	Padding int
}

// NewAnnotator creates an annotator backed by a new Tesseract engine.
func NewAnnotator(language string) (*Annotator, error) {
	engine, err := NewEngine(language)
	if err != nil {
		return nil, err
	}
	return &Annotator{engine: engine, Padding: DefaultPadding}, nil
}

// Close releases the underlying engine.
func (a *Annotator) Close() error {
	return a.engine.Close()
}

// Annotate implements pipeline.Annotator.
func (a *Annotator) Annotate(before, after *image.Gray, regions []cluster.Region) ([]pipeline.RegionText, error) {
	beforeMat, err := pageimage.GrayToMat(before)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	defer beforeMat.Close()
	afterMat, err := pageimage.GrayToMat(after)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}
	defer afterMat.Close()

	out := make([]pipeline.RegionText, 0, len(regions))
	for _, r := range regions {
		bounds := padded(r, a.Padding)
		beforeText, err := a.read(beforeMat, bounds)
		if err != nil {
			return nil, err
		}
		afterText, err := a.read(afterMat, bounds)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.RegionText{
			Region:     r,
			Before:     beforeText,
			After:      afterText,
			Similarity: TextSimilarity(beforeText, afterText),
		})
	}
	return out, nil
}

// read treats a crop outside the page as having no text.
func (a *Annotator) read(img gocv.Mat, bounds geometry.RectInt) (string, error) {
	text, err := a.engine.RecognizeRegion(img, bounds)
	if errors.Is(err, ErrEmptyRegion) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("annotate region %+v: %w", bounds, err)
	}
	return text, nil
}

func padded(r cluster.Region, pad int) geometry.RectInt {
	return geometry.RectInt{
		X:      r.MinX - pad,
		Y:      r.MinY - pad,
		Width:  r.MaxX - r.MinX + 1 + 2*pad,
		Height: r.MaxY - r.MinY + 1 + 2*pad,
	}
}
