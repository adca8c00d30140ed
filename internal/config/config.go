// Package config loads sampler tuning parameters from JSON. The schema uses
// pointer-optional fields so a partial file only overrides what it names;
// anything left nil falls back to the built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/particlefield/smcnuts/internal/smc"
)

// SamplerConfig is the on-disk tuning schema.
type SamplerConfig struct {
	Particles        *int     `json:"particles,omitempty"`
	Iterations       *int     `json:"iterations,omitempty"`
	StepSize         *float64 `json:"step_size,omitempty"`
	LKernel          *string  `json:"lkernel,omitempty"` // forwards | gaussian | asymptotic
	Tempering        *bool    `json:"tempering,omitempty"`
	ESSThresholdFrac *float64 `json:"ess_threshold_frac,omitempty"`
	MaxTreeDepth     *int     `json:"max_tree_depth,omitempty"`
	Seed             *uint64  `json:"seed,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// DefaultSamplerConfig returns the built-in defaults: 500 particles, 20
// iterations, forwards L-kernel, no tempering.
func DefaultSamplerConfig() *SamplerConfig {
	return &SamplerConfig{
		Particles:        ptrInt(500),
		Iterations:       ptrInt(20),
		StepSize:         ptrFloat64(0.5),
		LKernel:          ptrString("forwards"),
		Tempering:        ptrBool(false),
		ESSThresholdFrac: ptrFloat64(0.5),
		MaxTreeDepth:     ptrInt(10),
		Seed:             ptrUint64(0),
	}
}

// LoadSamplerConfig reads a JSON tuning file and overlays it on the
// defaults.
func LoadSamplerConfig(path string) (*SamplerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultSamplerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge overlays the non-nil fields of other onto c.
func (c *SamplerConfig) Merge(other *SamplerConfig) {
	if other == nil {
		return
	}
	if other.Particles != nil {
		c.Particles = other.Particles
	}
	if other.Iterations != nil {
		c.Iterations = other.Iterations
	}
	if other.StepSize != nil {
		c.StepSize = other.StepSize
	}
	if other.LKernel != nil {
		c.LKernel = other.LKernel
	}
	if other.Tempering != nil {
		c.Tempering = other.Tempering
	}
	if other.ESSThresholdFrac != nil {
		c.ESSThresholdFrac = other.ESSThresholdFrac
	}
	if other.MaxTreeDepth != nil {
		c.MaxTreeDepth = other.MaxTreeDepth
	}
	if other.Seed != nil {
		c.Seed = other.Seed
	}
}

// SMCConfig converts the tuning schema into the sampler's construction
// parameters. Nil fields use the defaults.
func (c *SamplerConfig) SMCConfig() (smc.Config, error) {
	merged := DefaultSamplerConfig()
	merged.Merge(c)

	kind, err := smc.ParseLKernelKind(*merged.LKernel)
	if err != nil {
		return smc.Config{}, err
	}

	return smc.Config{
		Iterations:       *merged.Iterations,
		Particles:        *merged.Particles,
		StepSize:         *merged.StepSize,
		LKernel:          kind,
		Tempering:        *merged.Tempering,
		ESSThresholdFrac: *merged.ESSThresholdFrac,
		MaxTreeDepth:     *merged.MaxTreeDepth,
	}, nil
}

// SeedValue returns the configured RNG seed, defaulting to 0.
func (c *SamplerConfig) SeedValue() uint64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}
