package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// setupTestStores returns every Store implementation backed by throwaway
// storage.
func setupTestStores(t *testing.T) map[string]Store {
	t.Helper()

	dir, err := NewDirStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("failed to create dir store: %v", err)
	}
	sqlite, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"dir":    dir,
		"sqlite": sqlite,
	}
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	for name, store := range setupTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, "job-1/clusters_0_1.json", []byte(`[]`)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			got, err := store.Get(ctx, "job-1/clusters_0_1.json")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != "[]" {
				t.Errorf("Get = %q, want []", got)
			}

			// Overwrite
			if err := store.Put(ctx, "job-1/clusters_0_1.json", []byte(`[{"minX":1}]`)); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			got, _ = store.Get(ctx, "job-1/clusters_0_1.json")
			if string(got) != `[{"minX":1}]` {
				t.Errorf("Get after overwrite = %q", got)
			}
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range setupTestStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "missing/page.png")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStoreEmptyBlob(t *testing.T) {
	ctx := context.Background()
	for name, store := range setupTestStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Put(ctx, "empty", nil); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			got, err := store.Get(ctx, "empty")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if len(got) != 0 {
				t.Errorf("Get = %q, want empty", got)
			}
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	data := []byte("abc")
	store.Put(ctx, "k", data)
	data[0] = 'x'

	got, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored blob aliased caller buffer: %q", got)
	}
	if keys := store.Keys(); len(keys) != 1 || keys[0] != "k" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestDirStoreRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	for _, key := range []string{"", "../outside", "/etc/passwd", "a/../../b"} {
		if err := store.Put(ctx, key, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded, want error", key)
		}
	}
}

func TestDirStoreLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewDirStore(root)
	if err != nil {
		t.Fatalf("NewDirStore failed: %v", err)
	}
	if err := store.Put(ctx, "job/diff_0_0.png", []byte("png")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "job", "diff_0_0.png")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}

func TestSQLiteCount(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer store.Close()

	for _, k := range []string{"a", "b", "a"} {
		if err := store.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}
