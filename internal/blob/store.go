// Package blob provides key/value blob storage for page rasters, descriptor
// blobs and job artefacts.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob exists under the key.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value blob store. Keys are slash-separated paths
// such as "<jobId>/clusters_0_1.json".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}
