// Package page loads the raster and descriptor data of a single page.
package page

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	"pagediff/internal/blob"
	"pagediff/internal/features"
	pageimage "pagediff/internal/image"
)

// Ref identifies one page of one document version and the blob keys
// holding its data. An empty DescriptorKey means descriptors are extracted
// from the raster on load.
type Ref struct {
	VersionID     string `json:"versionId"`
	Index         int    `json:"index"`
	DescriptorKey string `json:"descriptorKey,omitempty"`
	ImageKey      string `json:"imageKey"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.VersionID, r.Index)
}

// Asset exposes the data of one loaded page.
type Asset interface {
	Descriptors() []features.Descriptor
	Keypoints() []features.Keypoint
	ImageData() *image.Gray
}

// Blob kinds reported by MalformedBlobError.
const (
	KindDescriptors = "descriptors"
	KindImage       = "image"
)

// MalformedBlobError reports a descriptor or raster blob that could not be
// decoded.
type MalformedBlobError struct {
	Key  string
	Kind string
	Err  error
}

func (e *MalformedBlobError) Error() string {
	return fmt.Sprintf("malformed %s blob %q: %v", e.Kind, e.Key, e.Err)
}

func (e *MalformedBlobError) Unwrap() error {
	return e.Err
}

// loaded is the in-memory Asset shared by every loading strategy.
type loaded struct {
	set features.Set
	img *image.Gray
}

func (p *loaded) Descriptors() []features.Descriptor { return p.set.Descriptors }
func (p *loaded) Keypoints() []features.Keypoint     { return p.set.Keypoints }
func (p *loaded) ImageData() *image.Gray             { return p.img }

// New wraps already decoded page data as an Asset.
func New(set features.Set, img *image.Gray) Asset {
	return &loaded{set: set, img: img}
}

// Features returns the keypoints and descriptors of an asset as a Set.
func Features(a Asset) features.Set {
	return features.Set{Keypoints: a.Keypoints(), Descriptors: a.Descriptors()}
}

// LoadFromStore fetches and decodes a page's raster and descriptor blobs.
// Store failures are returned as is; decode failures as
// *MalformedBlobError.
func LoadFromStore(ctx context.Context, store blob.Store, ref Ref) (Asset, error) {
	raw, err := store.Get(ctx, ref.ImageKey)
	if err != nil {
		return nil, fmt.Errorf("load page %s: %w", ref, err)
	}
	var descRaw []byte
	if ref.DescriptorKey != "" {
		descRaw, err = store.Get(ctx, ref.DescriptorKey)
		if err != nil {
			return nil, fmt.Errorf("load page %s: %w", ref, err)
		}
	}
	return decode(raw, ref.ImageKey, descRaw, ref.DescriptorKey)
}

// LoadFromFiles reads a page from local files. An empty descPath means
// descriptors are extracted from the raster.
func LoadFromFiles(descPath, imagePath string) (Asset, error) {
	raw, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	var descRaw []byte
	if descPath != "" {
		descRaw, err = os.ReadFile(descPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read descriptors: %w", err)
		}
	}
	return decode(raw, imagePath, descRaw, descPath)
}

func decode(raw []byte, imageKey string, descRaw []byte, descKey string) (Asset, error) {
	img, err := pageimage.Decode(raw)
	if err != nil {
		return nil, &MalformedBlobError{Key: imageKey, Kind: KindImage, Err: err}
	}

	if descKey == "" {
		set, err := features.Extract(img)
		if err != nil {
			return nil, &MalformedBlobError{Key: imageKey, Kind: KindImage, Err: err}
		}
		return &loaded{set: set, img: img}, nil
	}

	set, err := features.Decode(descRaw)
	if err != nil {
		return nil, &MalformedBlobError{Key: descKey, Kind: KindDescriptors, Err: err}
	}
	return &loaded{set: set, img: img}, nil
}

// IsMalformed reports whether err stems from an undecodable blob.
func IsMalformed(err error) bool {
	var mb *MalformedBlobError
	return errors.As(err, &mb)
}
