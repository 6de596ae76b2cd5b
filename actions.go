package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pagediff/internal/alignment"
	"pagediff/internal/blob"
	"pagediff/internal/cluster"
	"pagediff/internal/config"
	"pagediff/internal/diff"
	"pagediff/internal/features"
	pageimage "pagediff/internal/image"
	"pagediff/internal/invoke"
	"pagediff/internal/jobfile"
	"pagediff/internal/matching"
	"pagediff/internal/ocr"
	"pagediff/internal/page"
	"pagediff/internal/pipeline"
	"pagediff/internal/similarity"

	"github.com/urfave/cli/v2"
)

// loadConfig reads the config file and applies command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("store") {
		cfg.Store.Backend = c.String("store")
	}
	if c.IsSet("store-path") {
		cfg.Store.Path = c.String("store-path")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	for name, dst := range map[string]*bool{
		"dev":          &cfg.Dev,
		"annotate":     &cfg.Annotate,
		"write-matrix": &cfg.WriteMatrix,
	} {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}
	if c.IsSet("worker-url") {
		cfg.WorkerURL = c.String("worker-url")
	}
	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	applyParamFlags(c, &cfg.Params)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyParamFlags(c *cli.Context, p *pipeline.Params) {
	if c.IsSet("match-threshold") {
		p.MatchThreshold = c.Float64("match-threshold")
	}
	if c.IsSet("diff-threshold") {
		p.DiffThreshold = c.Int("diff-threshold")
	}
	if c.IsSet("eps") {
		p.Eps = c.Float64("eps")
	}
	if c.IsSet("min-samples") {
		p.MinSamples = c.Int("min-samples")
	}
	if c.IsSet("seed") {
		p.Seed = c.Int64("seed")
	}
}

// openStore opens the configured blob store. The returned func releases it.
func openStore(cfg *config.Config) (blob.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case config.StoreMemory:
		return blob.NewMemoryStore(), noop, nil
	case config.StoreDir:
		s, err := blob.NewDirStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case config.StoreSQLite:
		s, err := blob.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// services bundles the wired pipeline collaborators.
type services struct {
	comparer *pipeline.Comparer
	runner   *pipeline.Runner
	remote   *invoke.HTTPClient // Set when pairs go to a worker
	closers  []func() error
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

// newServices wires store, loader, comparer, invoker and runner from cfg.
// cached memoizes decoded pages for the lifetime of the services.
func newServices(cfg *config.Config, cached bool) (*services, error) {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	s := &services{closers: []func() error{closeStore}}

	var loader page.Loader = page.StoreLoader{Store: store}
	if cached {
		loader = page.NewCache(loader)
	}

	s.comparer = &pipeline.Comparer{
		Loader: loader,
		Store:  store,
		RANSAC: cfg.RANSACOptions(),
		Debug:  cfg.Debug,
	}
	if cfg.Annotate {
		ann, err := ocr.NewAnnotator(cfg.OCRLanguage)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.comparer.Annotator = ann
		s.closers = append(s.closers, ann.Close)
	}

	var invoker pipeline.Invoker = invoke.NewLocal(s.comparer)
	if cfg.WorkerURL != "" {
		s.remote = invoke.NewHTTPClient(cfg.WorkerURL, cfg.InvokeTimeout)
		invoker = s.remote
		log.Printf("Sending pairs to %s", cfg.WorkerURL)
	}

	s.runner = &pipeline.Runner{
		Loader:      loader,
		Store:       store,
		Invoker:     invoker,
		Scorer:      similarity.Scorer{Ratio: cfg.SimilarityRatio},
		Workers:     cfg.WorkerCount(),
		WriteMatrix: cfg.WriteMatrix,
		Debug:       cfg.Debug,
	}
	return s, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadJobPages reads every page of a job file from disk.
func loadJobPages(path string) (before, after []page.Asset, err error) {
	f, err := jobfile.Load(path)
	if err != nil {
		return nil, nil, err
	}
	load := func(pages []jobfile.PageFile) ([]page.Asset, error) {
		out := make([]page.Asset, len(pages))
		for i, p := range pages {
			a, err := page.LoadFromFiles(jobfile.Resolve(path, p.Descriptors), jobfile.Resolve(path, p.Image))
			if err != nil {
				return nil, fmt.Errorf("page %s: %w", p.Image, err)
			}
			out[i] = a
		}
		return out, nil
	}
	if before, err = load(f.Before); err != nil {
		return nil, nil, err
	}
	if after, err = load(f.After); err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func descriptors(assets []page.Asset) [][]features.Descriptor {
	out := make([][]features.Descriptor, len(assets))
	for i, a := range assets {
		out[i] = a.Descriptors()
	}
	return out
}

func scoreJob(ctx context.Context, cfg *config.Config, path string) (*similarity.Matrix, error) {
	before, after, err := loadJobPages(path)
	if err != nil {
		return nil, err
	}
	scorer := similarity.Scorer{Ratio: cfg.SimilarityRatio}
	return similarity.Build(ctx, descriptors(before), descriptors(after), scorer, cfg.WorkerCount())
}

// writePNG encodes img to path; an empty path writes nothing.
func writePNG(path string, img *image.Gray) error {
	if path == "" {
		return nil
	}
	data, err := pageimage.EncodePNG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExtractAction writes the descriptor blob of one page.
func ExtractAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: pagediff extract <image>", 1)
	}
	img, err := pageimage.Load(c.Args().First())
	if err != nil {
		return err
	}
	set, err := features.Extract(img)
	if err != nil {
		return err
	}
	data, err := features.Encode(set)
	if err != nil {
		return err
	}
	log.Printf("Extracted %d keypoints (%d-byte descriptors)", set.Len(), set.Width())

	if out := c.String("out"); out != "" {
		return os.WriteFile(out, data, 0644)
	}
	_, err = os.Stdout.Write(data)
	return err
}

// ScoreAction prints the similarity matrix of a job file.
func ScoreAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: pagediff score <job.pdjob>", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	m, err := scoreJob(c.Context, cfg, c.Args().First())
	if err != nil {
		return err
	}
	return m.WriteCSV(os.Stdout)
}

// ResolveAction prints the page mapping of a job file.
func ResolveAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: pagediff resolve <job.pdjob>", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	m, err := scoreJob(c.Context, cfg, c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(matching.Resolve(m))
}

// DiffAction aligns one page pair and prints its changed regions.
func DiffAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: pagediff diff <before> <after>", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	params := cfg.Params

	before, err := page.LoadFromFiles(c.String("before-desc"), c.Args().Get(0))
	if err != nil {
		return err
	}
	after, err := page.LoadFromFiles(c.String("after-desc"), c.Args().Get(1))
	if err != nil {
		return err
	}

	opts := alignment.DefaultOptions()
	opts.MatchThreshold = params.MatchThreshold
	opts.RANSAC = cfg.RANSACOptions()
	opts.RANSAC.Seed = params.PairSeed(0, 0)
	opts.Debug = cfg.Debug
	res, err := alignment.Align(page.Features(before), page.Features(after), opts)
	if err != nil {
		return err
	}
	log.Printf("Aligned with %d/%d inliers, mean error %.2f px", len(res.Inliers), len(res.GoodMatches), res.MeanError)

	r, err := diff.Render(res.H, before.ImageData(), after.ImageData(), params.DiffThreshold)
	if err != nil {
		return err
	}
	if err := writePNG(c.String("mask"), r.Mask); err != nil {
		return err
	}
	if err := writePNG(c.String("warped"), r.Warped); err != nil {
		return err
	}

	return printJSON(cluster.Regions(r.Mask, params.Eps, params.MinSamples))
}

// RunAction stages a job file into the store and runs it.
func RunAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: pagediff run <job.pdjob>", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	path := c.Args().First()
	f, err := jobfile.Load(path)
	if err != nil {
		return err
	}

	svc, err := newServices(cfg, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if svc.remote != nil {
		if err := svc.remote.CheckHealth(ctx); err != nil {
			return fmt.Errorf("worker %s: %w", cfg.WorkerURL, err)
		}
	}

	job, err := f.Stage(ctx, path, svc.runner.Store, cfg.Params)
	if err != nil {
		return err
	}
	// Flags override the job file.
	applyParamFlags(c, &job.Params)
	job.Dev = job.Dev || cfg.Dev

	start := time.Now()
	res, err := svc.runner.Run(ctx, job)
	if err != nil {
		return err
	}
	log.Printf("Job %s finished in %s: %d pairs, %d failed", res.JobID, time.Since(start).Round(time.Millisecond), len(res.Mapping), len(res.FailedPairs))
	return printJSON(res)
}

// ServeAction runs the HTTP worker until interrupted.
func ServeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := newServices(cfg, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	handler := invoke.NewHandler(invoke.NewLocal(svc.comparer), svc.runner, nil)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s (%d workers, %s store)", cfg.Listen, cfg.WorkerCount(), cfg.Store.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
