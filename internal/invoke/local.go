// Package invoke carries page pair jobs across the invocation boundary,
// either in process or over HTTP.
package invoke

import (
	"context"

	"pagediff/internal/pipeline"
)

// Local runs pair jobs in the calling process.
type Local struct {
	Comparer *pipeline.Comparer
}

// NewLocal creates an in-process invoker.
func NewLocal(c *pipeline.Comparer) *Local {
	return &Local{Comparer: c}
}

// Invoke implements pipeline.Invoker.
func (l *Local) Invoke(ctx context.Context, job pipeline.PairJob) (pipeline.PairResult, error) {
	return l.Comparer.Compare(ctx, job)
}
