package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"testing"

	"pagediff/internal/alignment"
	"pagediff/internal/blob"
	"pagediff/internal/cluster"
	"pagediff/internal/features"
	pageimage "pagediff/internal/image"
	"pagediff/internal/page"
)

// putPage stores a blank raster and the given descriptor set under
// "<name>.png" and "<name>.json".
func putPage(t *testing.T, store *blob.MemoryStore, name string, set features.Set) page.Ref {
	t.Helper()
	ctx := context.Background()
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	raster, err := pageimage.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	desc, err := features.Encode(set)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	store.Put(ctx, name+".png", raster)
	store.Put(ctx, name+".json", desc)
	return page.Ref{VersionID: "v", ImageKey: name + ".png", DescriptorKey: name + ".json"}
}

func randomFeatures(r *rand.Rand, n int) features.Set {
	var s features.Set
	for i := 0; i < n; i++ {
		d := make(features.Descriptor, 61)
		r.Read(d)
		s.Keypoints = append(s.Keypoints, features.Keypoint{X: float64(i), Y: float64(i), ClassID: -1})
		s.Descriptors = append(s.Descriptors, d)
	}
	return s
}

type recordingInvoker struct {
	mu    sync.Mutex
	jobs  []PairJob
	fails map[string]error
}

func (ri *recordingInvoker) Invoke(ctx context.Context, job PairJob) (PairResult, error) {
	ri.mu.Lock()
	ri.jobs = append(ri.jobs, job)
	ri.mu.Unlock()
	if err := ri.fails[PairKey(job.BeforeIndex, job.AfterIndex)]; err != nil {
		return PairResult{}, err
	}
	return PairResult{
		BeforeIndex: job.BeforeIndex,
		AfterIndex:  job.AfterIndex,
		Regions:     []cluster.Region{{MinX: job.BeforeIndex, MaxX: job.AfterIndex}},
	}, nil
}

// reorderedJob builds before pages {p0, p1, p2} and after pages
// {p2, featureless, p0}.
func reorderedJob(t *testing.T, store *blob.MemoryStore) Job {
	t.Helper()
	r := rand.New(rand.NewSource(1))
	p0, p1, p2 := randomFeatures(r, 100), randomFeatures(r, 100), randomFeatures(r, 100)
	return Job{
		JobID: "job-1",
		BeforePages: []page.Ref{
			putPage(t, store, "b0", p0),
			putPage(t, store, "b1", p1),
			putPage(t, store, "b2", p2),
		},
		AfterPages: []page.Ref{
			putPage(t, store, "a0", p2),
			putPage(t, store, "a1", features.Set{}),
			putPage(t, store, "a2", p0),
		},
		Params: DefaultParams(),
	}
}

func TestRunnerResolvesAndInvokes(t *testing.T) {
	store := blob.NewMemoryStore()
	job := reorderedJob(t, store)
	inv := &recordingInvoker{}
	runner := &Runner{Loader: page.StoreLoader{Store: store}, Store: store, Invoker: inv, Workers: 2, WriteMatrix: true}

	res, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if want := [][2]int{{0, 2}, {2, 0}}; !reflect.DeepEqual(res.Mapping, want) {
		t.Errorf("Mapping = %v, want %v", res.Mapping, want)
	}
	if !reflect.DeepEqual(res.UnmatchedBefore, []int{1}) || !reflect.DeepEqual(res.UnmatchedAfter, []int{1}) {
		t.Errorf("unmatched = %v / %v, want [1] / [1]", res.UnmatchedBefore, res.UnmatchedAfter)
	}
	if len(res.RegionsByPair) != 2 {
		t.Errorf("RegionsByPair = %v", res.RegionsByPair)
	}
	if _, ok := res.RegionsByPair["2_0"]; !ok {
		t.Error("missing regions for pair 2_0")
	}
	if len(inv.jobs) != 2 {
		t.Errorf("invoked %d pairs, want 2", len(inv.jobs))
	}
	for _, pj := range inv.jobs {
		if pj.JobID != "job-1" || pj.Params != job.Params {
			t.Errorf("pair job = %+v", pj)
		}
	}
	if _, err := store.Get(context.Background(), "job-1/matching_result.csv"); err != nil {
		t.Errorf("similarity matrix not stored: %v", err)
	}
}

func TestRunnerRecordsPairFailures(t *testing.T) {
	store := blob.NewMemoryStore()
	job := reorderedJob(t, store)
	inv := &recordingInvoker{fails: map[string]error{
		"2_0": &StageError{Stage: StageAlign, Before: 2, After: 0, Err: &alignment.InsufficientMatchesError{Good: 4, Min: 10}},
		"0_2": errors.New("connection reset"),
	}}
	runner := &Runner{Loader: page.StoreLoader{Store: store}, Invoker: inv}

	res, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.RegionsByPair) != 0 {
		t.Errorf("RegionsByPair = %v, want none", res.RegionsByPair)
	}
	if f := res.FailedPairs["2_0"]; f.Stage != StageAlign {
		t.Errorf("failure 2_0 = %+v, want stage align", f)
	}
	if f := res.FailedPairs["0_2"]; f.Stage != StageInvoke {
		t.Errorf("failure 0_2 = %+v, want stage invoke", f)
	}
}

func TestRunnerMalformedPage(t *testing.T) {
	store := blob.NewMemoryStore()
	job := reorderedJob(t, store)
	store.Put(context.Background(), "b0.json", []byte("{broken"))

	inv := &recordingInvoker{}
	runner := &Runner{Loader: page.StoreLoader{Store: store}, Invoker: inv}
	res, err := runner.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := res.FailedPages["before_0"]; !ok {
		t.Errorf("FailedPages = %v, want before_0", res.FailedPages)
	}
	for _, pj := range inv.jobs {
		if pj.BeforeIndex == 0 {
			t.Errorf("malformed page was submitted: %+v", pj)
		}
	}
	if _, ok := res.RegionsByPair["2_0"]; !ok {
		t.Error("healthy pair 2_0 was not processed")
	}
	if len(res.UnmatchedBefore) == 0 || res.UnmatchedBefore[0] != 0 {
		t.Errorf("UnmatchedBefore = %v, want it to start with 0", res.UnmatchedBefore)
	}
	for key := range res.FailedPairs {
		if strings.HasPrefix(key, "0_") {
			t.Errorf("failed page produced pair failure %s", key)
		}
	}
}

type failingLoader struct{ calls int }

func (l *failingLoader) Load(ctx context.Context, ref page.Ref) (page.Asset, error) {
	l.calls++
	return nil, fmt.Errorf("dial tcp: connection refused")
}

func TestRunnerRejectsInvalidParams(t *testing.T) {
	loader := &failingLoader{}
	runner := &Runner{Loader: loader, Invoker: &recordingInvoker{}}
	job := Job{BeforePages: []page.Ref{{ImageKey: "x"}}, Params: DefaultParams()}
	job.Params.DiffThreshold = 300

	_, err := runner.Run(context.Background(), job)
	var invalid *InvalidParamsError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidParamsError", err)
	}
	if loader.calls != 0 {
		t.Errorf("loader called %d times before params were rejected", loader.calls)
	}
}

func TestRunnerStoreUnavailable(t *testing.T) {
	runner := &Runner{Loader: &failingLoader{}, Invoker: &recordingInvoker{}, Workers: 1}
	job := Job{
		BeforePages: []page.Ref{{ImageKey: "a"}},
		AfterPages:  []page.Ref{{ImageKey: "b"}},
		Params:      DefaultParams(),
	}
	_, err := runner.Run(context.Background(), job)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestRunnerCancelled(t *testing.T) {
	store := blob.NewMemoryStore()
	job := reorderedJob(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &Runner{Loader: page.StoreLoader{Store: store}, Invoker: &recordingInvoker{}}
	if _, err := runner.Run(ctx, job); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunnerAssignsJobID(t *testing.T) {
	runner := &Runner{Loader: &failingLoader{}, Invoker: &recordingInvoker{}}
	res, err := runner.Run(context.Background(), Job{Params: DefaultParams()})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.JobID) != 36 {
		t.Errorf("JobID = %q, want a UUID", res.JobID)
	}
}
