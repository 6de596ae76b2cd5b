package alignment

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"pagediff/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// RANSACOptions controls robust homography estimation.
type RANSACOptions struct {
	Threshold  float64 // Max reprojection error (pixels) for an inlier
	MaxIters   int     // Upper bound on sampling iterations
	Confidence float64 // Desired probability of drawing one clean sample
	Seed       int64   // Sampling seed
}

// DefaultRANSACOptions returns the defaults used for page alignment.
func DefaultRANSACOptions() RANSACOptions {
	return RANSACOptions{
		Threshold:  5.0,
		MaxIters:   2000,
		Confidence: 0.995,
	}
}

const minHomographyPoints = 4

// FindHomographyRANSAC estimates the homography mapping srcPoints onto
// dstPoints. Returns the transform and the indices of its inliers.
func FindHomographyRANSAC(srcPoints, dstPoints []geometry.Point2D, opts RANSACOptions) (geometry.Homography, []int, error) {
	if len(srcPoints) != len(dstPoints) {
		return geometry.Homography{}, nil, fmt.Errorf("point count mismatch: %d vs %d", len(srcPoints), len(dstPoints))
	}
	n := len(srcPoints)
	if n < minHomographyPoints {
		return geometry.Homography{}, nil, fmt.Errorf("need at least %d points, got %d", minHomographyPoints, n)
	}
	if opts.MaxIters <= 0 {
		opts.MaxIters = DefaultRANSACOptions().MaxIters
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultRANSACOptions().Threshold
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = DefaultRANSACOptions().Confidence
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var bestInliers []int
	var bestH geometry.Homography

	sample := make([]geometry.Point2D, minHomographyPoints)
	target := make([]geometry.Point2D, minHomographyPoints)
	maxIters := opts.MaxIters
	for iter := 0; iter < maxIters; iter++ {
		indices := samplePoints(rng, n, minHomographyPoints)
		for i, idx := range indices {
			sample[i] = srcPoints[idx]
			target[i] = dstPoints[idx]
		}
		if degenerateSample(sample, target) {
			continue
		}

		h, err := computeHomographyDLT(sample, target)
		if err != nil {
			continue
		}

		inliers := collectInliers(h, srcPoints, dstPoints, opts.Threshold)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			bestH = h
			maxIters = adaptiveIterations(len(inliers), n, opts.Confidence, maxIters)
		}
	}

	if len(bestInliers) < minHomographyPoints {
		return geometry.Homography{}, nil, fmt.Errorf("RANSAC failed to find enough inliers")
	}

	// Recompute transform using all inliers
	inlierSrc := make([]geometry.Point2D, len(bestInliers))
	inlierDst := make([]geometry.Point2D, len(bestInliers))
	for i, idx := range bestInliers {
		inlierSrc[i] = srcPoints[idx]
		inlierDst[i] = dstPoints[idx]
	}

	finalH, err := computeHomographyDLT(inlierSrc, inlierDst)
	if err != nil {
		return bestH, bestInliers, nil
	}
	refined := collectInliers(finalH, srcPoints, dstPoints, opts.Threshold)
	if len(refined) < len(bestInliers) {
		return bestH, bestInliers, nil
	}
	return finalH, refined, nil
}

// samplePoints draws k distinct indices in [0, n).
func samplePoints(rng *rand.Rand, n, k int) []int {
	out := make([]int, 0, k)
	for len(out) < k {
		idx := rng.Intn(n)
		dup := false
		for _, o := range out {
			if o == idx {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, idx)
		}
	}
	return out
}

// degenerateSample rejects 4-point samples where any three points are
// collinear, or where the src and dst quadrilaterals disagree in
// orientation for some triples but not others.
func degenerateSample(src, dst []geometry.Point2D) bool {
	triples := [4][3]int{{0, 1, 2}, {1, 2, 3}, {0, 1, 3}, {0, 2, 3}}
	flipped := 0
	for _, t := range triples {
		a, b, c := src[t[0]], src[t[1]], src[t[2]]
		p, q, r := dst[t[0]], dst[t[1]], dst[t[2]]
		if geometry.Collinear(a, b, c, 1e-6) || geometry.Collinear(p, q, r, 1e-6) {
			return true
		}
		if (geometry.Orientation(a, b, c) > 0) != (geometry.Orientation(p, q, r) > 0) {
			flipped++
		}
	}
	return flipped != 0 && flipped != len(triples)
}

func collectInliers(h geometry.Homography, src, dst []geometry.Point2D, threshold float64) []int {
	var inliers []int
	for i := range src {
		if h.ReprojectionError(src[i], dst[i]) <= threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// adaptiveIterations shrinks the iteration budget once the inlier ratio is
// known, so that a clean sample is drawn with the requested confidence.
func adaptiveIterations(inliers, n int, confidence float64, current int) int {
	w := float64(inliers) / float64(n)
	pClean := math.Pow(w, minHomographyPoints)
	if pClean >= 1 {
		return 0
	}
	if pClean <= 0 {
		return current
	}
	num := math.Log(1 - confidence)
	den := math.Log(1 - pClean)
	if den >= 0 || -num >= float64(current)*(-den) {
		return current
	}
	return int(math.Ceil(num / den))
}

// computeHomographyDLT solves the normalized direct linear transform for
// four or more correspondences. The solution is the right singular vector
// of the smallest singular value.
func computeHomographyDLT(src, dst []geometry.Point2D) (geometry.Homography, error) {
	n := len(src)
	if n < minHomographyPoints || len(dst) != n {
		return geometry.Homography{}, fmt.Errorf("need at least %d point pairs", minHomographyPoints)
	}

	tSrc, ok := normalizingTransform(src)
	if !ok {
		return geometry.Homography{}, fmt.Errorf("degenerate source points")
	}
	tDst, ok := normalizingTransform(dst)
	if !ok {
		return geometry.Homography{}, fmt.Errorf("degenerate destination points")
	}

	A := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		s, _ := tSrc.Apply(src[i])
		d, _ := tDst.Apply(dst[i])
		x, y := s.X, s.Y
		u, v := d.X, d.Y

		A.SetRow(i*2, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		A.SetRow(i*2+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFullV); !ok {
		return geometry.Homography{}, fmt.Errorf("SVD factorization failed")
	}
	var V mat.Dense
	svd.VTo(&V)

	var hn geometry.Homography
	for i := 0; i < 9; i++ {
		hn[i] = V.At(i, 8)
	}

	tDstInv, ok := tDst.Inverse()
	if !ok {
		return geometry.Homography{}, fmt.Errorf("singular normalization")
	}
	h := tDstInv.Compose(hn).Compose(tSrc)
	if math.Abs(h[8]) < 1e-12 {
		return geometry.Homography{}, fmt.Errorf("degenerate homography")
	}
	h = h.Normalize()
	for _, v := range h {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return geometry.Homography{}, fmt.Errorf("degenerate homography")
		}
	}
	return h, nil
}

// normalizingTransform moves the centroid to the origin and scales the
// points to a mean distance of sqrt(2).
func normalizingTransform(points []geometry.Point2D) (geometry.Homography, bool) {
	c := geometry.Centroid(points)
	mean := geometry.MeanDistance(points, c)
	if mean < 1e-12 {
		return geometry.Homography{}, false
	}
	s := math.Sqrt2 / mean
	return geometry.Homography{
		s, 0, -s * c.X,
		0, s, -s * c.Y,
		0, 0, 1,
	}, true
}

// WarpPerspective applies a homography to an image, producing an output of
// the given size. Uncovered pixels are filled with the border value.
func WarpPerspective(src gocv.Mat, h geometry.Homography, width, height int, border uint8) gocv.Mat {
	transformMat := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer transformMat.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			transformMat.SetDoubleAt(r, c, h[r*3+c])
		}
	}

	dst := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(src, &dst, transformMat, image.Point{width, height},
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{R: border, G: border, B: border, A: 255})
	return dst
}

// CalculateAlignmentError calculates the mean reprojection error after
// transformation.
func CalculateAlignmentError(srcPoints, dstPoints []geometry.Point2D, h geometry.Homography) float64 {
	if len(srcPoints) != len(dstPoints) || len(srcPoints) == 0 {
		return math.Inf(1)
	}

	var totalError float64
	for i := range srcPoints {
		totalError += h.ReprojectionError(srcPoints[i], dstPoints[i])
	}

	return totalError / float64(len(srcPoints))
}
