// Package config loads pagediff settings from a YAML file and PAGEDIFF_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"gopkg.in/yaml.v3"

	"pagediff/internal/alignment"
	"pagediff/internal/pipeline"
	"pagediff/internal/similarity"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreDir    = "dir"
	StoreSQLite = "sqlite"
)

// bytesPerWorker is the memory budget assumed for one concurrent pair.
const bytesPerWorker = 512 << 20

// Config holds every setting of the CLI and the worker service.
type Config struct {
	Store struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"store"`

	Workers         int             `yaml:"workers"` // 0 sizes the pool from CPU and memory
	Params          pipeline.Params `yaml:"params"`
	SimilarityRatio float64         `yaml:"similarity_ratio"`

	RANSAC struct {
		Threshold  float64 `yaml:"threshold"`
		MaxIters   int     `yaml:"max_iters"`
		Confidence float64 `yaml:"confidence"`
	} `yaml:"ransac"`

	Dev         bool   `yaml:"dev"`
	Annotate    bool   `yaml:"annotate"`
	OCRLanguage string `yaml:"ocr_language"`
	WriteMatrix bool   `yaml:"write_matrix"`

	Listen        string        `yaml:"listen"`
	WorkerURL     string        `yaml:"worker_url"` // Empty runs pairs in process
	InvokeTimeout time.Duration `yaml:"invoke_timeout"`

	Debug bool `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{
		Params:          pipeline.DefaultParams(),
		SimilarityRatio: similarity.DefaultRatio,
		OCRLanguage:     "eng",
		Listen:          ":8080",
		InvokeTimeout:   5 * time.Minute,
	}
	c.Store.Backend = StoreDir
	c.Store.Path = "./pagediff-data"
	r := alignment.DefaultRANSACOptions()
	c.RANSAC.Threshold = r.Threshold
	c.RANSAC.MaxIters = r.MaxIters
	c.RANSAC.Confidence = r.Confidence
	return c
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	c.Store.Backend = getEnv("PAGEDIFF_STORE", c.Store.Backend)
	c.Store.Path = getEnv("PAGEDIFF_STORE_PATH", c.Store.Path)
	c.Listen = getEnv("PAGEDIFF_LISTEN", c.Listen)
	c.WorkerURL = getEnv("PAGEDIFF_WORKER_URL", c.WorkerURL)
	c.OCRLanguage = getEnv("PAGEDIFF_OCR_LANGUAGE", c.OCRLanguage)

	var err error
	if c.Workers, err = getEnvInt("PAGEDIFF_WORKERS", c.Workers); err != nil {
		return err
	}
	if c.Params.Seed, err = getEnvInt64("PAGEDIFF_SEED", c.Params.Seed); err != nil {
		return err
	}
	if c.Dev, err = getEnvBool("PAGEDIFF_DEV", c.Dev); err != nil {
		return err
	}
	if c.Annotate, err = getEnvBool("PAGEDIFF_ANNOTATE", c.Annotate); err != nil {
		return err
	}
	if c.Debug, err = getEnvBool("PAGEDIFF_DEBUG", c.Debug); err != nil {
		return err
	}
	return nil
}

// Validate checks the settings that are not covered by Params.Validate.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreDir, StoreSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.SimilarityRatio <= 0 || c.SimilarityRatio > 1 {
		return fmt.Errorf("similarity_ratio must be in (0, 1], got %v", c.SimilarityRatio)
	}
	return c.Params.Validate()
}

// RANSACOptions returns the configured robust estimation settings.
func (c *Config) RANSACOptions() alignment.RANSACOptions {
	return alignment.RANSACOptions{
		Threshold:  c.RANSAC.Threshold,
		MaxIters:   c.RANSAC.MaxIters,
		Confidence: c.RANSAC.Confidence,
	}
}

// WorkerCount returns the configured pool size, or one sized from the
// machine when Workers is zero.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return AutoWorkers()
}

// AutoWorkers returns min(NumCPU, available memory / 512 MiB), at least 1.
func AutoWorkers() int {
	n := runtime.NumCPU()
	if vm, err := mem.VirtualMemory(); err == nil {
		if byMem := int(vm.Available / bytesPerWorker); byMem < n {
			n = byMem
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
