package page

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"pagediff/internal/blob"
	"pagediff/internal/features"
	pageimage "pagediff/internal/image"
)

func testRaster(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 40, 30))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	data, err := pageimage.EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	return data
}

func testDescriptors(t *testing.T) []byte {
	t.Helper()
	data, err := features.Encode(features.Set{
		Keypoints:   []features.Keypoint{{X: 1, Y: 2, ClassID: -1}},
		Descriptors: []features.Descriptor{{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	store.Put(ctx, "v1/0.png", testRaster(t))
	store.Put(ctx, "v1/0.json", testDescriptors(t))

	asset, err := LoadFromStore(ctx, store, Ref{VersionID: "v1", ImageKey: "v1/0.png", DescriptorKey: "v1/0.json"})
	if err != nil {
		t.Fatalf("LoadFromStore failed: %v", err)
	}
	if len(asset.Descriptors()) != 1 || len(asset.Keypoints()) != 1 {
		t.Errorf("got %d descriptors, %d keypoints", len(asset.Descriptors()), len(asset.Keypoints()))
	}
	if asset.ImageData().Bounds() != image.Rect(0, 0, 40, 30) {
		t.Errorf("image bounds = %v", asset.ImageData().Bounds())
	}
}

func TestLoadFromStoreMalformed(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	store.Put(ctx, "good.png", testRaster(t))
	store.Put(ctx, "bad.png", []byte("not a png"))
	store.Put(ctx, "good.json", testDescriptors(t))
	store.Put(ctx, "bad.json", []byte(`{"keypoints":[{"x":1}],"descriptors":[]}`))

	tests := []struct {
		name     string
		ref      Ref
		wantKind string
		wantKey  string
	}{
		{"bad raster", Ref{ImageKey: "bad.png", DescriptorKey: "good.json"}, KindImage, "bad.png"},
		{"bad descriptors", Ref{ImageKey: "good.png", DescriptorKey: "bad.json"}, KindDescriptors, "bad.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromStore(ctx, store, tt.ref)
			var mb *MalformedBlobError
			if !errors.As(err, &mb) {
				t.Fatalf("err = %v, want MalformedBlobError", err)
			}
			if mb.Kind != tt.wantKind || mb.Key != tt.wantKey {
				t.Errorf("error = %+v, want kind %s key %s", mb, tt.wantKind, tt.wantKey)
			}
			if !IsMalformed(err) {
				t.Error("IsMalformed = false")
			}
		})
	}
}

func TestLoadFromStoreMissing(t *testing.T) {
	_, err := LoadFromStore(context.Background(), blob.NewMemoryStore(), Ref{ImageKey: "nope.png"})
	if !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if IsMalformed(err) {
		t.Error("missing blob reported as malformed")
	}
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "page.png")
	descPath := filepath.Join(dir, "page.json")
	os.WriteFile(imgPath, testRaster(t), 0644)
	os.WriteFile(descPath, testDescriptors(t), 0644)

	asset, err := LoadFromFiles(descPath, imgPath)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	set := Features(asset)
	if set.Len() != 1 || set.Width() != 3 {
		t.Errorf("features = %d x %d", set.Len(), set.Width())
	}
}

func TestLoadExtractsWithoutDescriptors(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "page.png")
	os.WriteFile(imgPath, testRaster(t), 0644)

	asset, err := LoadFromFiles("", imgPath)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	// A blank page has no features.
	if len(asset.Keypoints()) != 0 {
		t.Errorf("got %d keypoints on a blank page", len(asset.Keypoints()))
	}
}

type countingLoader struct {
	calls int
	next  Loader
}

func (l *countingLoader) Load(ctx context.Context, ref Ref) (Asset, error) {
	l.calls++
	return l.next.Load(ctx, ref)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemoryStore()
	store.Put(ctx, "p.png", testRaster(t))
	store.Put(ctx, "p.json", testDescriptors(t))

	counter := &countingLoader{next: StoreLoader{Store: store}}
	cache := NewCache(counter)
	ref := Ref{ImageKey: "p.png", DescriptorKey: "p.json"}

	for i := 0; i < 3; i++ {
		if _, err := cache.Load(ctx, ref); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
	}
	if counter.calls != 1 {
		t.Errorf("underlying loader called %d times, want 1", counter.calls)
	}

	if _, err := cache.Load(ctx, Ref{ImageKey: "missing.png"}); err == nil {
		t.Error("Expected error, got nil")
	}
	if cache.Len() != 1 {
		t.Errorf("cache holds %d assets, want 1", cache.Len())
	}
}
