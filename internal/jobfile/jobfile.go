// Package jobfile provides job file handling for local comparisons.
package jobfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pagediff/internal/blob"
	"pagediff/internal/page"
	"pagediff/internal/pipeline"
)

// File represents a comparison job on disk (.pdjob).
type File struct {
	Version  int       `json:"version"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Page paths (relative to job file)
	Before []PageFile `json:"before"`
	After  []PageFile `json:"after"`

	// Nil uses the configured defaults
	Params *pipeline.Params `json:"params,omitempty"`
	Dev    bool             `json:"dev,omitempty"`
}

// PageFile locates one page. Without a descriptor file the page's
// features are extracted from the raster.
type PageFile struct {
	Image       string `json:"image"`
	Descriptors string `json:"descriptors,omitempty"`
}

// New creates a new empty job file.
func New(name string) *File {
	now := time.Now()
	return &File{
		Version:  1,
		Name:     name,
		Created:  now,
		Modified: now,
	}
}

// Load loads a job from a file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse job file %s: %w", path, err)
	}

	return &f, nil
}

// Save saves the job to a file.
func (f *File) Save(path string) error {
	f.Modified = time.Now()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// AddBefore appends a page to the before version, storing its paths
// relative to the job file.
func (f *File) AddBefore(jobPath, imagePath, descPath string) {
	f.Before = append(f.Before, pageFile(jobPath, imagePath, descPath))
	f.Modified = time.Now()
}

// AddAfter appends a page to the after version.
func (f *File) AddAfter(jobPath, imagePath, descPath string) {
	f.After = append(f.After, pageFile(jobPath, imagePath, descPath))
	f.Modified = time.Now()
}

func pageFile(jobPath, imagePath, descPath string) PageFile {
	return PageFile{
		Image:       relative(jobPath, imagePath),
		Descriptors: relative(jobPath, descPath),
	}
}

func relative(jobPath, p string) string {
	if p == "" {
		return ""
	}
	rel, err := filepath.Rel(filepath.Dir(jobPath), p)
	if err != nil {
		return p
	}
	return rel
}

// Resolve returns the absolute path of a path stored in the job file.
func Resolve(jobPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(jobPath), p)
}

// Stage copies every page of the job into store and returns the job
// referencing the stored blobs. defaults is used when the file carries no
// params.
func (f *File) Stage(ctx context.Context, jobPath string, store blob.Store, defaults pipeline.Params) (pipeline.Job, error) {
	job := pipeline.Job{Params: defaults, Dev: f.Dev}
	if f.Params != nil {
		job.Params = *f.Params
	}

	var err error
	if job.BeforePages, err = stagePages(ctx, jobPath, store, "before", f.Before); err != nil {
		return pipeline.Job{}, err
	}
	if job.AfterPages, err = stagePages(ctx, jobPath, store, "after", f.After); err != nil {
		return pipeline.Job{}, err
	}
	return job, nil
}

func stagePages(ctx context.Context, jobPath string, store blob.Store, version string, pages []PageFile) ([]page.Ref, error) {
	refs := make([]page.Ref, 0, len(pages))
	for i, p := range pages {
		ref := page.Ref{VersionID: version, Index: i}

		imgPath := Resolve(jobPath, p.Image)
		ref.ImageKey = fmt.Sprintf("%s/pages/%d/image%s", version, i, strings.ToLower(filepath.Ext(imgPath)))
		if err := copyToStore(ctx, store, imgPath, ref.ImageKey); err != nil {
			return nil, err
		}

		if p.Descriptors != "" {
			ref.DescriptorKey = fmt.Sprintf("%s/pages/%d/descriptors.json", version, i)
			if err := copyToStore(ctx, store, Resolve(jobPath, p.Descriptors), ref.DescriptorKey); err != nil {
				return nil, err
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func copyToStore(ctx context.Context, store blob.Store, path, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}
	return nil
}
