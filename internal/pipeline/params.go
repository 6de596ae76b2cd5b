// Package pipeline runs page correspondence and visual diffing for a pair
// of document versions.
package pipeline

import (
	"fmt"
	"math"
)

// Params fully determine the numeric behavior of one job.
type Params struct {
	MatchThreshold float64 `json:"matchThreshold" yaml:"match_threshold"`
	DiffThreshold  int     `json:"diffThreshold" yaml:"diff_threshold"`
	Eps            float64 `json:"eps" yaml:"eps"`
	MinSamples     int     `json:"minSamples" yaml:"min_samples"`
	Seed           int64   `json:"seed" yaml:"seed"`
}

// DefaultParams returns the standard parameters for scanned pages.
func DefaultParams() Params {
	return Params{
		MatchThreshold: 0.85,
		DiffThreshold:  220,
		Eps:            20,
		MinSamples:     50,
	}
}

// InvalidParamsError reports a parameter outside its documented domain.
type InvalidParamsError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Validate checks every field against its domain. Values are never
// clamped.
func (p Params) Validate() error {
	switch {
	case math.IsNaN(p.MatchThreshold) || p.MatchThreshold <= 0 || p.MatchThreshold > 1:
		return &InvalidParamsError{Field: "matchThreshold", Value: p.MatchThreshold, Reason: "must be in (0, 1]"}
	case p.DiffThreshold < 0 || p.DiffThreshold > 255:
		return &InvalidParamsError{Field: "diffThreshold", Value: p.DiffThreshold, Reason: "must be in [0, 255]"}
	case math.IsNaN(p.Eps) || math.IsInf(p.Eps, 0) || p.Eps <= 0:
		return &InvalidParamsError{Field: "eps", Value: p.Eps, Reason: "must be a finite value > 0"}
	case p.MinSamples <= 0:
		return &InvalidParamsError{Field: "minSamples", Value: p.MinSamples, Reason: "must be > 0"}
	}
	return nil
}

// PairSeed derives the RANSAC seed of one page pair from the job seed.
func (p Params) PairSeed(before, after int) int64 {
	return p.Seed + int64(before)*1_000_003 + int64(after)
}

// caption describes the params on dev diff images.
func (p Params) caption() string {
	return fmt.Sprintf("match_threshold:%g, threshold:%d, eps:%g, min_samples:%d",
		p.MatchThreshold, p.DiffThreshold, p.Eps, p.MinSamples)
}
