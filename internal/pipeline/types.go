package pipeline

import (
	"context"
	"fmt"

	"pagediff/internal/cluster"
	"pagediff/internal/page"
)

// Job describes one version comparison.
type Job struct {
	JobID       string     `json:"jobId,omitempty"`
	BeforePages []page.Ref `json:"beforePages"`
	AfterPages  []page.Ref `json:"afterPages"`
	Params      Params     `json:"params"`
	Dev         bool       `json:"dev,omitempty"`
}

// PairFailure describes why a matched pair produced no regions.
type PairFailure struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// Result is the outcome of a job.
type Result struct {
	JobID           string                      `json:"jobId"`
	Mapping         [][2]int                    `json:"mapping"`
	UnmatchedBefore []int                       `json:"unmatchedBefore"`
	UnmatchedAfter  []int                       `json:"unmatchedAfter"`
	RegionsByPair   map[string][]cluster.Region `json:"regionsByPair"`
	FailedPairs     map[string]PairFailure      `json:"failedPairs,omitempty"`
	FailedPages     map[string]string           `json:"failedPages,omitempty"`
}

// PairJob is one matched page pair submitted across the invocation
// boundary.
type PairJob struct {
	JobID       string   `json:"jobId"`
	BeforeIndex int      `json:"beforeIndex"`
	AfterIndex  int      `json:"afterIndex"`
	Before      page.Ref `json:"before"`
	After       page.Ref `json:"after"`
	Params      Params   `json:"params"`
	Dev         bool     `json:"dev,omitempty"`
}

// PairResult is the outcome of one successful pair comparison.
type PairResult struct {
	BeforeIndex int              `json:"beforeIndex"`
	AfterIndex  int              `json:"afterIndex"`
	Regions     []cluster.Region `json:"regions"`
	GoodMatches int              `json:"goodMatches"`
	Inliers     int              `json:"inliers"`
	MeanError   float64          `json:"meanError"`
}

// Invoker submits a pair job and waits for its result. Failures of the
// pair itself are reported as *StageError.
type Invoker interface {
	Invoke(ctx context.Context, job PairJob) (PairResult, error)
}

// PairKey formats the "<before>_<after>" key used in results and blob keys.
func PairKey(before, after int) string {
	return fmt.Sprintf("%d_%d", before, after)
}

// Blob keys of per-pair artefacts.
func clustersKey(jobID string, b, a int) string {
	return fmt.Sprintf("%s/clusters_%s.json", jobID, PairKey(b, a))
}

func processingKey(jobID string, b, a int) string {
	return fmt.Sprintf("%s/processing_%s.png", jobID, PairKey(b, a))
}

func diffKey(jobID string, b, a int) string {
	return fmt.Sprintf("%s/diff_%s.png", jobID, PairKey(b, a))
}

func annotationsKey(jobID string, b, a int) string {
	return fmt.Sprintf("%s/annotations_%s.json", jobID, PairKey(b, a))
}

func matrixKey(jobID string) string {
	return jobID + "/matching_result.csv"
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, job PairJob) (PairResult, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, job PairJob) (PairResult, error) {
	return f(ctx, job)
}
