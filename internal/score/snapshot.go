// Package score implements the deterministic relevance and quality scorers.
//
// All scorer entry points are pure functions of their inputs plus an
// immutable Snapshot, so a unit can be re-scored at any time with identical
// results. Hot-reloading configuration means building a new Snapshot between
// batches, never mutating one in flight.
package score

import (
	"fmt"
	"math"
)

// weightEpsilon is the tolerance when checking that block weights sum to 1.
const weightEpsilon = 1e-9

// Weights holds the five quality block weights.
type Weights struct {
	Access    float64
	Structure float64
	Richness  float64
	Coherence float64
	Integrity float64
}

// DefaultWeights returns the documented default weighting.
func DefaultWeights() Weights {
	return Weights{
		Access:    0.30,
		Structure: 0.15,
		Richness:  0.25,
		Coherence: 0.20,
		Integrity: 0.10,
	}
}

// Sum adds the five block weights.
func (w Weights) Sum() float64 {
	return w.Access + w.Structure + w.Richness + w.Coherence + w.Integrity
}

// Snapshot freezes every scorer knob for one batch.
type Snapshot struct {
	Weights             Weights
	MinContentLength    int
	TitleMultiplier     float64
	BodyMultiplier      float64
	RelevanceSaturation float64
	TargetWordCount     int
	Languages           []string
}

// DefaultSnapshot returns a Snapshot with the documented defaults.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Weights:             DefaultWeights(),
		MinContentLength:    100,
		TitleMultiplier:     10,
		BodyMultiplier:      1,
		RelevanceSaturation: 10,
		TargetWordCount:     1200,
		Languages:           []string{"en"},
	}
}

// NewSnapshot validates the candidate snapshot and returns it, defaulting
// zero-valued knobs that have documented defaults.
func NewSnapshot(s Snapshot) (Snapshot, error) {
	if s.MinContentLength == 0 {
		s.MinContentLength = 100
	}
	if s.TargetWordCount == 0 {
		s.TargetWordCount = 1200
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Validate rejects snapshots that would produce unbounded or skewed scores.
func (s Snapshot) Validate() error {
	if sum := s.Weights.Sum(); math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("quality weights must sum to 1.0, got %v", sum)
	}
	if s.MinContentLength <= 0 {
		return fmt.Errorf("min content length must be > 0")
	}
	if s.TitleMultiplier <= 0 || s.BodyMultiplier <= 0 {
		return fmt.Errorf("relevance multipliers must be > 0")
	}
	if s.RelevanceSaturation <= 0 {
		return fmt.Errorf("relevance saturation must be > 0")
	}
	if s.TargetWordCount <= 0 {
		return fmt.Errorf("target word count must be > 0")
	}
	if len(s.Languages) == 0 {
		return fmt.Errorf("at least one land language is required")
	}
	return nil
}
