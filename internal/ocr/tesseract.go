// Package ocr reads the text inside changed regions of a page pair.
package ocr

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"pagediff/pkg/geometry"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// ErrEmptyRegion reports a crop with no pixels inside the image.
var ErrEmptyRegion = errors.New("empty region")

// Engine provides OCR functionality using Tesseract. A Tesseract client is
// not safe for concurrent use, so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewEngine creates a new OCR engine for the given Tesseract language.
func NewEngine(language string) (*Engine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	return &Engine{client: client}, nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		err := e.client.Close()
		e.client = nil
		return err
	}
	return nil
}

// RecognizeRegion performs OCR on a region of a grayscale image.
func (e *Engine) RecognizeRegion(img gocv.Mat, bounds geometry.RectInt) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("empty image")
	}

	// Validate bounds
	x, y, w, h := bounds.X, bounds.Y, bounds.Width, bounds.Height
	imgH, imgW := img.Rows(), img.Cols()

	x = max(0, x)
	y = max(0, y)
	w = min(w, imgW-x)
	h = min(h, imgH-y)

	if w <= 0 || h <= 0 {
		return "", ErrEmptyRegion
	}

	region := img.Region(image.Rect(x, y, x+w, y+h))
	defer region.Close()

	processed := preprocessForOCR(region)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return "", fmt.Errorf("engine closed")
	}

	// PSM 6 = Assume a single uniform block of text
	if err := e.client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}

	return strings.Join(strings.Fields(text), " "), nil
}

// preprocessForOCR upscales small crops and binarizes them to dark text on
// a light background.
func preprocessForOCR(region gocv.Mat) gocv.Mat {
	h, w := region.Rows(), region.Cols()

	// Upscale small crops (target ~100px minimum)
	scaled := gocv.NewMat()
	minDim := min(h, w)
	if minDim < 100 {
		scale := 100.0 / float64(minDim)
		gocv.Resize(region, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		region.CopyTo(&scaled)
	}

	clahe := gocv.NewCLAHEWithParams(2.0, image.Point{8, 8})
	defer clahe.Close()

	enhanced := gocv.NewMat()
	clahe.Apply(scaled, &enhanced)
	scaled.Close()

	// Otsu's threshold for clean text/background separation
	binary := gocv.NewMat()
	gocv.Threshold(enhanced, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	enhanced.Close()

	// Tesseract expects dark text on light background
	whiteCount := gocv.CountNonZero(binary)
	totalPixels := binary.Rows() * binary.Cols()
	if float64(whiteCount)/float64(totalPixels) < 0.5 {
		gocv.BitwiseNot(binary, &binary)
	}

	return binary
}
