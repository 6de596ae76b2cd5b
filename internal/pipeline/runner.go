package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"pagediff/internal/blob"
	"pagediff/internal/cluster"
	"pagediff/internal/features"
	"pagediff/internal/matching"
	"pagediff/internal/page"
	"pagediff/internal/similarity"
)

// Runner executes whole jobs: it loads every page, scores all pairs,
// resolves the page mapping and submits each matched pair to the Invoker.
type Runner struct {
	Loader      page.Loader
	Store       blob.Store // Receives the similarity matrix when WriteMatrix is set
	Invoker     Invoker
	Scorer      similarity.Scorer
	Workers     int
	WriteMatrix bool
	Logger      *log.Logger
	Debug       bool
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

func (r *Runner) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.NumCPU()
}

// Run executes a job. Invalid params and an unreachable store abort the
// job; failures of single pages or pairs are recorded in the Result.
func (r *Runner) Run(ctx context.Context, job Job) (*Result, error) {
	if err := job.Params.Validate(); err != nil {
		return nil, err
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	res := &Result{
		JobID:           job.JobID,
		Mapping:         [][2]int{},
		UnmatchedBefore: []int{},
		UnmatchedAfter:  []int{},
		RegionsByPair:   make(map[string][]cluster.Region),
		FailedPairs:     make(map[string]PairFailure),
		FailedPages:     make(map[string]string),
	}

	before, after, err := r.loadPages(ctx, job, res)
	if err != nil {
		return nil, err
	}
	if r.Debug {
		logMemory(r.logger(), "pages loaded")
	}

	scorer := r.Scorer
	if scorer.Ratio == 0 {
		scorer = similarity.NewScorer()
	}
	matrix, err := similarity.Build(ctx, descriptorsOf(before), descriptorsOf(after), scorer, r.workers())
	if err != nil {
		return nil, err
	}
	if r.WriteMatrix && r.Store != nil {
		var buf bytes.Buffer
		if err := matrix.WriteCSV(&buf); err != nil {
			return nil, err
		}
		if err := r.Store.Put(ctx, matrixKey(job.JobID), buf.Bytes()); err != nil {
			r.logger().Printf("job %s: failed to store similarity matrix: %v", job.JobID, err)
		}
	}

	mapping := matching.Resolve(matrix)
	res.UnmatchedBefore = append(res.UnmatchedBefore, mapping.UnmatchedBefore...)
	res.UnmatchedAfter = append(res.UnmatchedAfter, mapping.UnmatchedAfter...)
	for _, p := range mapping.Pairs {
		res.Mapping = append(res.Mapping, [2]int{p.Before, p.After})
	}
	r.logger().Printf("job %s: %d pairs matched, %d before and %d after pages unmatched",
		job.JobID, len(mapping.Pairs), len(mapping.UnmatchedBefore), len(mapping.UnmatchedAfter))

	if err := r.comparePairs(ctx, job, mapping.Pairs, before, after, res); err != nil {
		return nil, err
	}
	if r.Debug {
		logMemory(r.logger(), "job finished")
	}
	return res, nil
}

// loadPages loads every page concurrently. Failed pages are recorded and
// left nil. If no page at all could be fetched the store is considered
// unavailable.
func (r *Runner) loadPages(ctx context.Context, job Job, res *Result) ([]page.Asset, []page.Asset, error) {
	before := make([]page.Asset, len(job.BeforePages))
	after := make([]page.Asset, len(job.AfterPages))

	var mu sync.Mutex
	var storeErrs int
	var lastErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	load := func(side string, refs []page.Ref, out []page.Asset) {
		for i, ref := range refs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				asset, err := r.Loader.Load(gctx, ref)
				if err == nil {
					out[i] = asset
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				mu.Lock()
				res.FailedPages[fmt.Sprintf("%s_%d", side, i)] = err.Error()
				if !page.IsMalformed(err) {
					storeErrs++
					lastErr = err
				}
				mu.Unlock()
				r.logger().Printf("job %s: %s page %d failed to load: %v", job.JobID, side, i, err)
				return nil
			})
		}
	}
	load("before", job.BeforePages, before)
	load("after", job.AfterPages, after)
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	total := len(job.BeforePages) + len(job.AfterPages)
	if total > 0 && storeErrs == total {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
	}
	return before, after, nil
}

func (r *Runner) comparePairs(ctx context.Context, job Job, pairs []matching.Pair, before, after []page.Asset, res *Result) error {
	var mu sync.Mutex
	fail := func(b, a int, stage string, err error) {
		mu.Lock()
		res.FailedPairs[PairKey(b, a)] = PairFailure{Stage: stage, Error: err.Error()}
		mu.Unlock()
		r.logger().Printf("job %s: pair %s failed at %s: %v", job.JobID, PairKey(b, a), stage, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	// Pages that failed to load score +Inf everywhere and are never paired.
	for _, p := range pairs {
		pj := PairJob{
			JobID:       job.JobID,
			BeforeIndex: p.Before,
			AfterIndex:  p.After,
			Before:      job.BeforePages[p.Before],
			After:       job.AfterPages[p.After],
			Params:      job.Params,
			Dev:         job.Dev,
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pr, err := r.Invoker.Invoke(gctx, pj)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var se *StageError
				if errors.As(err, &se) {
					fail(pj.BeforeIndex, pj.AfterIndex, se.Stage, se.Err)
				} else {
					fail(pj.BeforeIndex, pj.AfterIndex, StageInvoke, err)
				}
				return nil
			}
			regions := pr.Regions
			if regions == nil {
				regions = []cluster.Region{}
			}
			mu.Lock()
			res.RegionsByPair[PairKey(pj.BeforeIndex, pj.AfterIndex)] = regions
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func descriptorsOf(assets []page.Asset) [][]features.Descriptor {
	out := make([][]features.Descriptor, len(assets))
	for i, a := range assets {
		if a == nil {
			continue
		}
		d := a.Descriptors()
		if d == nil {
			d = []features.Descriptor{}
		}
		out[i] = d
	}
	return out
}

func logMemory(logger *log.Logger, stage string) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Printf("memory (%s): heap %s", stage, humanize.Bytes(ms.HeapAlloc))
		return
	}
	logger.Printf("memory (%s): heap %s, system available %s of %s",
		stage, humanize.Bytes(ms.HeapAlloc), humanize.Bytes(vm.Available), humanize.Bytes(vm.Total))
}
