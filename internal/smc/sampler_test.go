package smc

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/particlefield/smcnuts/internal/model"
	"github.com/particlefield/smcnuts/internal/randx"
)

func newGaussianSampler(t *testing.T, cfg Config, seed uint64) *Sampler {
	t.Helper()
	rng := randx.NewStream(seed)
	target, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)
	proposal, err := model.NewIsotropicProposal(2, 3.0, rng)
	require.NoError(t, err)
	s, err := NewSampler(cfg, target, proposal, rng)
	require.NoError(t, err)
	return s
}

func TestNewSamplerValidation(t *testing.T) {
	t.Parallel()

	rng := randx.NewStream(1)
	target, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)
	proposal, err := model.NewIsotropicProposal(2, 3.0, rng)
	require.NoError(t, err)

	_, err = NewSampler(Config{Iterations: 0, Particles: 10, StepSize: 0.5}, target, proposal, rng)
	assert.Error(t, err)

	_, err = NewSampler(Config{Iterations: 5, Particles: 10, StepSize: 0}, target, proposal, rng)
	assert.Error(t, err)

	wrongDim, err := model.NewIsotropicProposal(3, 3.0, rng)
	require.NoError(t, err)
	_, err = NewSampler(Config{Iterations: 5, Particles: 10, StepSize: 0.5}, target, wrongDim, rng)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = NewSampler(Config{Iterations: 5, Particles: 10, StepSize: 0.5, Momentum: wrongDim}, target, proposal, rng)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSamplerGaussianConvergence(t *testing.T) {
	t.Parallel()

	s := newGaussianSampler(t, Config{
		Iterations: 10,
		Particles:  500,
		StepSize:   0.5,
		LKernel:    ForwardsLKernel,
		Tempering:  false,
	}, 42)

	require.NoError(t, s.Sample(false))

	K := 10
	for d := 0; d < 2; d++ {
		assert.InDelta(t, 0.0, s.MeanEstimate[K][d], 0.1, "mean dim %d", d)
		assert.InDelta(t, 1.0, s.VarianceEstimate[K][d], 0.2, "variance dim %d", d)
	}

	// Without tempering phi stays pinned at 1.
	for k := 0; k <= K; k++ {
		assert.Equal(t, 1.0, s.Phi[k], "phi at iteration %d", k)
	}

	assert.Greater(t, s.RunTime.Nanoseconds(), int64(0))
	for k := 0; k <= K; k++ {
		assert.GreaterOrEqual(t, s.ESS[k], 1.0)
		assert.LessOrEqual(t, s.ESS[k], 500.0+1e-9)
	}
}

func TestSamplerDeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	run := func() *Sampler {
		s := newGaussianSampler(t, Config{
			Iterations: 10,
			Particles:  50,
			StepSize:   0.5,
			LKernel:    ForwardsLKernel,
			Tempering:  false,
		}, 42)
		require.NoError(t, s.Sample(false))
		return s
	}

	a, b := run(), run()

	// Bit-identical traces: same seed, same consumption order.
	assert.True(t, cmp.Equal(a.MeanEstimate, b.MeanEstimate))
	assert.True(t, cmp.Equal(a.VarianceEstimate, b.VarianceEstimate))
	assert.True(t, cmp.Equal(a.ESS, b.ESS))
	assert.True(t, cmp.Equal(a.Phi, b.Phi))
	assert.True(t, cmp.Equal(a.AcceptanceRate, b.AcceptanceRate))
}

func TestSamplerSnapshotRestoreReplays(t *testing.T) {
	t.Parallel()

	rng := randx.NewStream(42)
	state, err := rng.Snapshot()
	require.NoError(t, err)

	build := func() *Sampler {
		target, err := model.NewStandardGaussian(2, 3.0)
		require.NoError(t, err)
		proposal, err := model.NewIsotropicProposal(2, 3.0, rng)
		require.NoError(t, err)
		s, err := NewSampler(Config{
			Iterations: 5,
			Particles:  40,
			StepSize:   0.5,
			LKernel:    ForwardsLKernel,
		}, target, proposal, rng)
		require.NoError(t, err)
		require.NoError(t, s.Sample(false))
		return s
	}

	a := build()
	require.NoError(t, rng.Restore(state))
	b := build()

	assert.True(t, cmp.Equal(a.MeanEstimate, b.MeanEstimate))
	assert.True(t, cmp.Equal(a.ESS, b.ESS))
}

func TestSamplerAsymptoticTempered(t *testing.T) {
	t.Parallel()

	K := 15
	s := newGaussianSampler(t, Config{
		Iterations: K,
		Particles:  200,
		StepSize:   0.5,
		LKernel:    AsymptoticLKernel,
		Tempering:  true,
	}, 42)

	require.NoError(t, s.Sample(false))

	// Phi is non-decreasing and terminates at exactly 1.0.
	for k := 1; k <= K; k++ {
		assert.GreaterOrEqual(t, s.Phi[k], s.Phi[k-1], "phi not monotone at %d", k)
	}
	assert.Equal(t, 1.0, s.Phi[K])

	// The tempered re-estimation pass ran and produced finite estimates for
	// every recorded iteration.
	for k := 0; k <= K; k++ {
		for d := 0; d < 2; d++ {
			assert.False(t, math.IsNaN(s.MeanEstimate[k][d]) || math.IsInf(s.MeanEstimate[k][d], 0),
				"mean estimate k=%d d=%d", k, d)
			assert.False(t, math.IsNaN(s.VarianceEstimate[k][d]) || math.IsInf(s.VarianceEstimate[k][d], 0),
				"variance estimate k=%d d=%d", k, d)
			assert.GreaterOrEqual(t, s.VarianceEstimate[k][d], 0.0)
		}
	}
}

func TestSamplerGaussianApproxLKernel(t *testing.T) {
	t.Parallel()

	s := newGaussianSampler(t, Config{
		Iterations: 8,
		Particles:  300,
		StepSize:   0.5,
		LKernel:    GaussianApproxLKernel,
		Tempering:  false,
	}, 7)

	require.NoError(t, s.Sample(false))

	K := 8
	for d := 0; d < 2; d++ {
		assert.InDelta(t, 0.0, s.MeanEstimate[K][d], 0.25, "mean dim %d", d)
		assert.InDelta(t, 1.0, s.VarianceEstimate[K][d], 0.5, "variance dim %d", d)
	}
}

// constrainedGaussian reports estimates on a 1-dimensional transform of its
// 2-dimensional sampling space.
type constrainedGaussian struct {
	*model.TemperedGaussian
}

func (constrainedGaussian) ConstrainedDim() int { return 1 }

func (constrainedGaussian) Constrain(x []float64) []float64 {
	return []float64{2 * x[0]}
}

func TestSamplerConstrainedEstimates(t *testing.T) {
	t.Parallel()

	rng := randx.NewStream(21)
	base, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)
	target := constrainedGaussian{base}
	proposal, err := model.NewIsotropicProposal(2, 3.0, rng)
	require.NoError(t, err)

	K := 6
	s, err := NewSampler(Config{
		Iterations: K,
		Particles:  500,
		StepSize:   0.5,
		LKernel:    ForwardsLKernel,
	}, target, proposal, rng)
	require.NoError(t, err)
	require.NoError(t, s.Sample(false))

	// Every estimate comes out in the constrained space.
	for k := 0; k <= K; k++ {
		require.Len(t, s.MeanEstimate[k], 1, "iteration %d", k)
		require.Len(t, s.VarianceEstimate[k], 1, "iteration %d", k)
	}

	// 2*x0 for a standard normal x0 has mean 0 and variance 4.
	assert.InDelta(t, 0.0, s.MeanEstimate[K][0], 0.25)
	assert.InDelta(t, 4.0, s.VarianceEstimate[K][0], 1.0)
}

func TestSamplerCustomMomentumProposal(t *testing.T) {
	t.Parallel()

	rng := randx.NewStream(8)
	target, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)
	proposal, err := model.NewIsotropicProposal(2, 3.0, rng)
	require.NoError(t, err)
	momentum, err := model.NewIsotropicProposal(2, 1.5, rng)
	require.NoError(t, err)

	K := 10
	s, err := NewSampler(Config{
		Iterations: K,
		Particles:  500,
		StepSize:   0.5,
		LKernel:    ForwardsLKernel,
		Momentum:   momentum,
	}, target, proposal, rng)
	require.NoError(t, err)
	require.NoError(t, s.Sample(false))

	for d := 0; d < 2; d++ {
		assert.InDelta(t, 0.0, s.MeanEstimate[K][d], 0.3, "mean dim %d", d)
		assert.InDelta(t, 1.0, s.VarianceEstimate[K][d], 0.5, "variance dim %d", d)
	}
	for k := 0; k <= K; k++ {
		assert.GreaterOrEqual(t, s.ESS[k], 1.0)
		assert.LessOrEqual(t, s.ESS[k], 500.0+1e-9)
	}
}

func TestSamplerRecordsHistory(t *testing.T) {
	t.Parallel()

	s := newGaussianSampler(t, Config{
		Iterations: 4,
		Particles:  30,
		StepSize:   0.5,
		LKernel:    ForwardsLKernel,
	}, 3)

	require.NoError(t, s.Sample(false))

	require.Len(t, s.xSaved, 5)
	require.Len(t, s.logwSaved, 5)
	for k := 0; k < 5; k++ {
		require.Len(t, s.xSaved[k], 30, "iteration %d", k)
		require.Len(t, s.logwSaved[k], 30, "iteration %d", k)
	}

	// History is a snapshot, not an alias of the live population.
	s.Particles().X[0][0] = 1e9
	assert.NotEqual(t, 1e9, s.xSaved[4][0][0])
}
