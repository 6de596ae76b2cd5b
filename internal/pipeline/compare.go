package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"

	"pagediff/internal/alignment"
	"pagediff/internal/blob"
	"pagediff/internal/cluster"
	"pagediff/internal/diff"
	pageimage "pagediff/internal/image"
	"pagediff/internal/page"
)

// RegionText is the text found inside one changed region on either page.
type RegionText struct {
	Region     cluster.Region `json:"region"`
	Before     string         `json:"before"`
	After      string         `json:"after"`
	Similarity float64        `json:"similarity"`
}

// Annotator reads the text inside changed regions. before and after share
// the before page's frame.
type Annotator interface {
	Annotate(before, after *image.Gray, regions []cluster.Region) ([]RegionText, error)
}

// Comparer aligns, diffs and clusters one page pair.
type Comparer struct {
	Loader    page.Loader
	Store     blob.Store              // Receives region lists and dev artefacts
	RANSAC    alignment.RANSACOptions // Seed is replaced per pair
	Annotator Annotator               // Optional
	Logger    *log.Logger
	Debug     bool
}

func (c *Comparer) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Compare runs every stage for one pair. The context is checked between
// stages; failures are returned as *StageError.
func (c *Comparer) Compare(ctx context.Context, job PairJob) (PairResult, error) {
	res := PairResult{BeforeIndex: job.BeforeIndex, AfterIndex: job.AfterIndex}
	if err := job.Params.Validate(); err != nil {
		return res, err
	}

	// load
	if err := ctx.Err(); err != nil {
		return res, err
	}
	before, err := c.Loader.Load(ctx, job.Before)
	if err != nil {
		return res, stageError(StageLoad, job, err)
	}
	after, err := c.Loader.Load(ctx, job.After)
	if err != nil {
		return res, stageError(StageLoad, job, err)
	}

	// align
	if err := ctx.Err(); err != nil {
		return res, err
	}
	opts := alignment.Options{
		MatchThreshold: job.Params.MatchThreshold,
		MinMatches:     alignment.DefaultOptions().MinMatches,
		RANSAC:         c.RANSAC,
		Debug:          c.Debug,
	}
	if opts.RANSAC.MaxIters == 0 {
		opts.RANSAC = alignment.DefaultRANSACOptions()
	}
	opts.RANSAC.Seed = job.Params.PairSeed(job.BeforeIndex, job.AfterIndex)
	aligned, err := alignment.Align(page.Features(before), page.Features(after), opts)
	if err != nil {
		return res, stageError(StageAlign, job, err)
	}
	res.GoodMatches = len(aligned.GoodMatches)
	res.Inliers = len(aligned.Inliers)
	res.MeanError = aligned.MeanError

	// render
	if err := ctx.Err(); err != nil {
		return res, err
	}
	rendering, err := diff.Render(aligned.H, before.ImageData(), after.ImageData(), job.Params.DiffThreshold)
	if err != nil {
		return res, stageError(StageRender, job, err)
	}

	// cluster
	if err := ctx.Err(); err != nil {
		return res, err
	}
	res.Regions = cluster.Regions(rendering.Mask, job.Params.Eps, job.Params.MinSamples)
	if c.Debug {
		c.logger().Printf("pair %s: %d good matches, %d inliers, %d changed pixels, %d regions",
			PairKey(job.BeforeIndex, job.AfterIndex), res.GoodMatches, res.Inliers,
			diff.ChangedPixels(rendering.Mask), len(res.Regions))
	}

	// flush
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := c.flush(ctx, job, res.Regions, rendering, before.ImageData()); err != nil {
		return res, stageError(StageFlush, job, err)
	}
	return res, nil
}

func (c *Comparer) flush(ctx context.Context, job PairJob, regions []cluster.Region, r *diff.Rendering, before *image.Gray) error {
	if c.Store == nil {
		return nil
	}
	b, a := job.BeforeIndex, job.AfterIndex

	data, err := cluster.EncodeRegions(regions)
	if err != nil {
		return err
	}
	if err := c.Store.Put(ctx, clustersKey(job.JobID, b, a), data); err != nil {
		return err
	}

	if job.Dev {
		warped, err := pageimage.EncodePNG(r.Warped)
		if err != nil {
			return err
		}
		if err := c.Store.Put(ctx, processingKey(job.JobID, b, a), warped); err != nil {
			return err
		}
		captioned, err := diff.Caption(r.Mask, job.Params.caption())
		if err != nil {
			return err
		}
		mask, err := pageimage.EncodePNG(captioned)
		if err != nil {
			return err
		}
		if err := c.Store.Put(ctx, diffKey(job.JobID, b, a), mask); err != nil {
			return err
		}
	}

	if c.Annotator != nil && len(regions) > 0 {
		texts, err := c.Annotator.Annotate(before, r.Warped, regions)
		if err != nil {
			return fmt.Errorf("annotate regions: %w", err)
		}
		data, err := json.Marshal(texts)
		if err != nil {
			return fmt.Errorf("encode annotations: %w", err)
		}
		if err := c.Store.Put(ctx, annotationsKey(job.JobID, b, a), data); err != nil {
			return err
		}
	}
	return nil
}
