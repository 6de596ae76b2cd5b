package main

import (
	"context"
	"flag"
	"path/filepath"
	"testing"

	"pagediff/internal/config"

	"github.com/urfave/cli/v2"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend, path string
	}{
		{config.StoreMemory, ""},
		{config.StoreDir, filepath.Join(dir, "blobs")},
		{config.StoreSQLite, filepath.Join(dir, "blobs.db")},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Backend = tt.backend
			cfg.Store.Path = tt.path

			store, closeStore, err := openStore(cfg)
			if err != nil {
				t.Fatalf("openStore failed: %v", err)
			}
			defer closeStore()

			ctx := context.Background()
			if err := store.Put(ctx, "job/clusters_0_0.json", []byte("[]")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if got, err := store.Get(ctx, "job/clusters_0_0.json"); err != nil || string(got) != "[]" {
				t.Errorf("Get = %q, %v", got, err)
			}
		})
	}
}

func TestApplyParamFlags(t *testing.T) {
	set := flag.NewFlagSet("run", flag.ContinueOnError)
	set.Float64("eps", 0, "")
	set.Int("diff-threshold", 0, "")
	if err := set.Parse([]string{"-eps", "12.5"}); err != nil {
		t.Fatal(err)
	}
	c := cli.NewContext(cli.NewApp(), set, nil)

	cfg := config.Default()
	applyParamFlags(c, &cfg.Params)
	if cfg.Params.Eps != 12.5 {
		t.Errorf("eps = %v, want 12.5", cfg.Params.Eps)
	}
	if cfg.Params.DiffThreshold != 220 {
		t.Errorf("unset diff threshold changed to %d", cfg.Params.DiffThreshold)
	}
}
