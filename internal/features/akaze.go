package features

import (
	"fmt"
	"image"

	pageimage "pagediff/internal/image"

	"gocv.io/x/gocv"
)

// Extract detects AKAZE keypoints on a grayscale page and computes one binary
// descriptor per keypoint. A page without features yields an empty Set.
func Extract(img *image.Gray) (Set, error) {
	if img == nil || img.Rect.Empty() {
		return Set{}, fmt.Errorf("extract features: empty image")
	}

	mat, err := pageimage.GrayToMat(img)
	if err != nil {
		return Set{}, fmt.Errorf("extract features: %w", err)
	}
	defer mat.Close()

	detector := gocv.NewAKAZE()
	defer detector.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := detector.DetectAndCompute(mat, mask)
	defer desc.Close()

	return fromOpenCV(kps, desc)
}

// fromOpenCV copies OpenCV keypoints and descriptor rows into Go memory.
func fromOpenCV(kps []gocv.KeyPoint, desc gocv.Mat) (Set, error) {
	set := Set{
		Keypoints:   make([]Keypoint, len(kps)),
		Descriptors: make([]Descriptor, len(kps)),
	}
	for i, kp := range kps {
		set.Keypoints[i] = Keypoint{
			X:        kp.X,
			Y:        kp.Y,
			Size:     kp.Size,
			Angle:    kp.Angle,
			Response: kp.Response,
			Octave:   kp.Octave,
			ClassID:  kp.ClassID,
		}
	}
	if len(kps) == 0 {
		return set, nil
	}

	if desc.Empty() || desc.Rows() != len(kps) {
		return Set{}, fmt.Errorf("extract features: %d keypoints but %d descriptor rows", len(kps), desc.Rows())
	}
	width := desc.Cols()
	data := desc.ToBytes()
	if len(data) < width*len(kps) {
		return Set{}, fmt.Errorf("extract features: descriptor data too short")
	}
	for i := range kps {
		d := make(Descriptor, width)
		copy(d, data[i*width:(i+1)*width])
		set.Descriptors[i] = d
	}
	return set, nil
}
