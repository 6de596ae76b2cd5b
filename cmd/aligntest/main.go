// Command aligntest aligns an after page onto a before page and prints the
// homography and per-match residuals.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	"pagediff/internal/alignment"
	"pagediff/internal/diff"
	"pagediff/internal/features"
	"pagediff/internal/page"
	"pagediff/pkg/geometry"
)

func main() {
	before := flag.String("b", "", "Path to before page")
	after := flag.String("a", "", "Path to after page")
	threshold := flag.Float64("t", 0.85, "Ratio test threshold")
	seed := flag.Int64("seed", 0, "RANSAC seed")
	diffThreshold := flag.Int("diff", 220, "Also render the diff mask at this threshold (-1 skips)")
	worst := flag.Int("n", 20, "Number of residuals to print")
	debug := flag.Bool("debug", false, "Verbose alignment output")
	flag.Parse()

	if *before == "" || *after == "" {
		fmt.Println("Usage: aligntest -b <before> -a <after> [-t 0.85] [-seed 0] [-diff 220]")
		os.Exit(1)
	}

	fmt.Printf("=== Loading before: %s ===\n", *before)
	beforePage, err := page.LoadFromFiles("", *before)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load before: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Keypoints: %d\n", len(beforePage.Keypoints()))

	fmt.Printf("\n=== Loading after: %s ===\n", *after)
	afterPage, err := page.LoadFromFiles("", *after)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load after: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Keypoints: %d\n", len(afterPage.Keypoints()))

	opts := alignment.DefaultOptions()
	opts.MatchThreshold = *threshold
	opts.RANSAC.Seed = *seed
	opts.Debug = *debug

	fmt.Printf("\n=== Alignment ===\n")
	result, err := alignment.Align(page.Features(beforePage), page.Features(afterPage), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Alignment failed: %v\n", err)
		os.Exit(1)
	}

	h := result.H
	fmt.Printf("Good matches: %d\n", len(result.GoodMatches))
	fmt.Printf("Inliers: %d (%.1f%%)\n", len(result.Inliers), 100*float64(len(result.Inliers))/float64(len(result.GoodMatches)))
	fmt.Printf("Mean error: %.2f px\n", result.MeanError)
	fmt.Printf("H:\n")
	for r := 0; r < 3; r++ {
		fmt.Printf("  [% 12.6f % 12.6f % 12.6f]\n", h[r*3], h[r*3+1], h[r*3+2])
	}
	fmt.Printf("Rotation: %.4f°\n", math.Atan2(h[3], h[0])*180/math.Pi)
	fmt.Printf("Translation: (%.1f, %.1f)\n", h[2], h[5])

	printResiduals(result, page.Features(beforePage), page.Features(afterPage), *worst)

	if *diffThreshold >= 0 {
		fmt.Printf("\n=== Diff (threshold %d) ===\n", *diffThreshold)
		r, err := diff.Render(h, beforePage.ImageData(), afterPage.ImageData(), *diffThreshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render failed: %v\n", err)
			os.Exit(1)
		}
		b := r.Mask.Bounds()
		changed := diff.ChangedPixels(r.Mask)
		fmt.Printf("Changed pixels: %d of %d (%.3f%%)\n", changed, b.Dx()*b.Dy(), 100*float64(changed)/float64(b.Dx()*b.Dy()))
	}
}

// printResiduals lists the inliers with the largest reprojection error.
func printResiduals(result *alignment.Result, before, after features.Set, n int) {
	if len(result.Inliers) == 0 {
		return
	}
	fmt.Printf("\nWorst inlier residuals:\n")
	type entry struct {
		dst geometry.Point2D
		err float64
	}
	entries := make([]entry, 0, len(result.Inliers))
	for _, i := range result.Inliers {
		m := result.GoodMatches[i]
		src := after.Keypoints[m.TrainIdx].Point()
		dst := before.Keypoints[m.QueryIdx].Point()
		entries = append(entries, entry{dst, result.H.ReprojectionError(src, dst)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].err > entries[j].err })
	for _, e := range entries[:min(n, len(entries))] {
		fmt.Printf("  X=%5.0f Y=%5.0f  err=%.2f px\n", e.dst.X, e.dst.Y, e.err)
	}
}
