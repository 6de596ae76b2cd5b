// Package diff renders the thresholded pixel difference between a before
// page and an after page warped into the before frame.
package diff

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"pagediff/internal/alignment"
	pageimage "pagediff/internal/image"
	"pagediff/pkg/geometry"

	"gocv.io/x/gocv"
)

// ErrThresholdRange is returned for a difference threshold outside [0, 255].
var ErrThresholdRange = errors.New("diff threshold out of range [0, 255]")

// Rendering holds the outputs of a difference render.
type Rendering struct {
	// Mask is 0 where the pages differ by more than the threshold and 255
	// elsewhere. It has the before page's dimensions.
	Mask *image.Gray
	// Warped is the after page resampled into the before frame, with pixels
	// it does not cover set to white.
	Warped *image.Gray
}

// Render warps after into before's frame through h, takes the absolute
// difference with before, keeps pixels whose difference exceeds threshold
// and inverts the result so that changes are black.
func Render(h geometry.Homography, before, after *image.Gray, threshold int) (*Rendering, error) {
	if threshold < 0 || threshold > 255 {
		return nil, fmt.Errorf("%w: %d", ErrThresholdRange, threshold)
	}
	if before == nil || after == nil {
		return nil, fmt.Errorf("render diff: nil image")
	}

	beforeMat, err := pageimage.GrayToMat(before)
	if err != nil {
		return nil, fmt.Errorf("render diff: before: %w", err)
	}
	defer beforeMat.Close()

	afterMat, err := pageimage.GrayToMat(after)
	if err != nil {
		return nil, fmt.Errorf("render diff: after: %w", err)
	}
	defer afterMat.Close()

	w, ht := beforeMat.Cols(), beforeMat.Rows()

	// Coverage of the after page once warped; 0 marks pixels it cannot reach.
	coverage := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 0, 0, 0), afterMat.Rows(), afterMat.Cols(), gocv.MatTypeCV8UC1)
	defer coverage.Close()

	warped := alignment.WarpPerspective(afterMat, h, w, ht, 0)
	defer warped.Close()
	warpedCoverage := alignment.WarpPerspective(coverage, h, w, ht, 0)
	defer warpedCoverage.Close()

	holes := gocv.NewMat()
	defer holes.Close()
	gocv.Threshold(warpedCoverage, &holes, 0, 255, gocv.ThresholdBinaryInv)

	filled := gocv.NewMat()
	defer filled.Close()
	gocv.BitwiseOr(warped, holes, &filled)

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(beforeMat, filled, &delta)

	changed := gocv.NewMat()
	defer changed.Close()
	gocv.Threshold(delta, &changed, float32(threshold), 255, gocv.ThresholdBinary)

	inverted := gocv.NewMat()
	defer inverted.Close()
	gocv.BitwiseNot(changed, &inverted)

	mask, err := pageimage.MatToGray(inverted)
	if err != nil {
		return nil, fmt.Errorf("render diff: mask: %w", err)
	}
	warpedGray, err := pageimage.MatToGray(filled)
	if err != nil {
		return nil, fmt.Errorf("render diff: warped: %w", err)
	}
	return &Rendering{Mask: mask, Warped: warpedGray}, nil
}

// ChangedPixels counts the pixels marked as changed in a mask.
func ChangedPixels(mask *image.Gray) int {
	n := 0
	b := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := mask.Pix[mask.PixOffset(b.Min.X, y):mask.PixOffset(b.Max.X, y)]
		for _, v := range row {
			if v == 0 {
				n++
			}
		}
	}
	return n
}

// Caption returns a copy of mask with text drawn in black at its top left.
// mask itself is left untouched.
func Caption(mask *image.Gray, text string) (*image.Gray, error) {
	mat, err := pageimage.GrayToMat(mask)
	if err != nil {
		return nil, fmt.Errorf("caption: %w", err)
	}
	defer mat.Close()

	gocv.PutText(&mat, text, image.Pt(10, 30), gocv.FontHersheyPlain, 3,
		color.RGBA{A: 255}, 3)

	out, err := pageimage.MatToGray(mat)
	if err != nil {
		return nil, fmt.Errorf("caption: %w", err)
	}
	return out, nil
}
