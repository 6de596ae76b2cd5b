package pipeline

import (
	"errors"
	"fmt"
)

// Stages of a page pair comparison.
const (
	StageLoad    = "load"
	StageAlign   = "align"
	StageRender  = "render"
	StageCluster = "cluster"
	StageFlush   = "flush"
	StageInvoke  = "invoke"
)

// ErrStoreUnavailable aborts a job when no page could be fetched.
var ErrStoreUnavailable = errors.New("blob store unavailable")

// StageError records which stage of which pair failed.
type StageError struct {
	Stage  string
	Before int
	After  int
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pair %d_%d: %s: %v", e.Before, e.After, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage string, job PairJob, err error) error {
	return &StageError{Stage: stage, Before: job.BeforeIndex, After: job.AfterIndex, Err: err}
}
