package image

import (
	"fmt"
	"image"
	"runtime"

	"gocv.io/x/gocv"
)

// GrayToMat converts a grayscale image to a single-channel CV_8U Mat.
// The Mat owns its pixel memory; the caller must Close it.
func GrayToMat(img *image.Gray) (gocv.Mat, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	// Pack rows so the buffer is continuous regardless of Stride.
	buf := make([]byte, w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(buf[y*w:(y+1)*w], img.Pix[off:off+w])
	}

	view, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to create mat: %w", err)
	}
	// NewMatFromBytes does not copy; detach from the Go buffer.
	mat := view.Clone()
	view.Close()
	runtime.KeepAlive(buf)
	return mat, nil
}

// MatToGray converts a single-channel CV_8U Mat to a grayscale image.
func MatToGray(mat gocv.Mat) (*image.Gray, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("unsupported mat type %v, want CV_8UC1", mat.Type())
	}
	w, h := mat.Cols(), mat.Rows()
	pix := mat.ToBytes()
	if len(pix) < w*h {
		return nil, fmt.Errorf("mat data too short: %d bytes for %dx%d", len(pix), w, h)
	}
	img := image.NewGray(image.Rect(0, 0, w, h))
	copy(img.Pix, pix[:w*h])
	return img, nil
}
