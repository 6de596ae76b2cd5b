// Package alignment estimates the projective transform that registers an
// after page onto its before page.
package alignment

import (
	"fmt"

	"pagediff/internal/features"
	"pagediff/pkg/geometry"
)

// Options configures the alignment process.
type Options struct {
	MatchThreshold float64       // Lowe ratio: keep best < MatchThreshold * second
	MinMatches     int           // Alignment fails unless more than this many matches survive
	RANSAC         RANSACOptions // Robust estimation settings
	Debug          bool          // Enable debug output
}

// DefaultOptions returns default alignment options.
func DefaultOptions() Options {
	return Options{
		MatchThreshold: 0.85,
		MinMatches:     10,
		RANSAC:         DefaultRANSACOptions(),
	}
}

// Result holds the outcome of aligning one page pair.
type Result struct {
	H           geometry.Homography // Maps after coordinates into the before frame
	GoodMatches []features.Match    // Matches surviving the ratio test
	Inliers     []int               // Indices into GoodMatches consistent with H
	MeanError   float64             // Mean reprojection error over inliers
}

// GoodMatches runs a 2-nearest-neighbour search with before descriptors as
// queries and after descriptors as train set and keeps the matches passing
// the ratio test. Queries with fewer than two candidates are skipped.
func GoodMatches(before, after []features.Descriptor, threshold float64) []features.Match {
	var good []features.Match
	for _, pair := range features.KnnMatch(before, after, 2) {
		if len(pair) < 2 {
			continue
		}
		if float64(pair[0].Distance) < threshold*float64(pair[1].Distance) {
			good = append(good, pair[0])
		}
	}
	return good
}

// Align computes the homography mapping after-page coordinates onto the
// before page.
func Align(before, after features.Set, opts Options) (*Result, error) {
	good := GoodMatches(before.Descriptors, after.Descriptors, opts.MatchThreshold)
	if opts.Debug {
		fmt.Printf("Alignment: %d before / %d after keypoints, %d good matches\n",
			before.Len(), after.Len(), len(good))
	}
	if len(good) <= opts.MinMatches {
		return nil, &InsufficientMatchesError{Good: len(good), Min: opts.MinMatches}
	}

	src := make([]geometry.Point2D, len(good))
	dst := make([]geometry.Point2D, len(good))
	for i, m := range good {
		src[i] = after.Keypoints[m.TrainIdx].Point()
		dst[i] = before.Keypoints[m.QueryIdx].Point()
	}

	h, inliers, err := FindHomographyRANSAC(src, dst, opts.RANSAC)
	if err != nil {
		return nil, fmt.Errorf("homography estimation: %w", err)
	}

	inSrc := make([]geometry.Point2D, len(inliers))
	inDst := make([]geometry.Point2D, len(inliers))
	for i, idx := range inliers {
		inSrc[i] = src[idx]
		inDst[i] = dst[idx]
	}
	meanErr := CalculateAlignmentError(inSrc, inDst, h)

	if opts.Debug {
		fmt.Printf("Alignment: %d/%d inliers, mean error %.3f px\n", len(inliers), len(good), meanErr)
		fmt.Printf("H = [%.6f %.6f %.3f; %.6f %.6f %.3f; %.8f %.8f %.3f]\n",
			h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], h[8])
	}

	return &Result{
		H:           h,
		GoodMatches: good,
		Inliers:     inliers,
		MeanError:   meanErr,
	}, nil
}
