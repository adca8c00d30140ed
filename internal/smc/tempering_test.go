package smc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/particlefield/smcnuts/internal/model"
	"github.com/particlefield/smcnuts/internal/randx"
)

func TestTemperingDisabledPinsPhi(t *testing.T) {
	t.Parallel()

	target, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)

	temp := &Tempering{Enabled: false, TargetESS: 25}
	x := [][]float64{{0, 0}, {1, 1}}

	for _, phiCurrent := range []float64{0.0, 0.3, 1.0} {
		phi, err := temp.CalculatePhi(target, x, phiCurrent)
		require.NoError(t, err)
		assert.Equal(t, 1.0, phi)
	}
}

func TestTemperingTerminalState(t *testing.T) {
	t.Parallel()

	target, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)

	temp := &Tempering{Enabled: true, TargetESS: 25}
	phi, err := temp.CalculatePhi(target, [][]float64{{0, 0}}, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, phi)
}

func TestTemperingMonotoneAndBounded(t *testing.T) {
	t.Parallel()

	const n = 100
	rng := randx.NewStream(17)
	target, err := model.NewStandardGaussian(2, 6.0)
	require.NoError(t, err)

	// Particles drawn from the wide base density: the jump to phi=1 is
	// degenerate enough that the controller must take partial steps.
	x := make([][]float64, n)
	for i := range x {
		x[i] = []float64{6 * rng.NormFloat64(), 6 * rng.NormFloat64()}
	}

	temp := &Tempering{Enabled: true, TargetESS: n / 2}

	phiPrev := 0.0
	for step := 0; step < 50 && phiPrev < 1.0; step++ {
		phi, err := temp.CalculatePhi(target, x, phiPrev)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, phi, phiPrev, "phi must be non-decreasing")
		assert.LessOrEqual(t, phi, 1.0)
		phiPrev = phi
	}
	assert.Equal(t, 1.0, phiPrev, "phi must reach exactly 1.0")
}

func TestTemperingFirstStepIsPartial(t *testing.T) {
	t.Parallel()

	const n = 200
	rng := randx.NewStream(23)
	target, err := model.NewStandardGaussian(2, 10.0)
	require.NoError(t, err)

	x := make([][]float64, n)
	for i := range x {
		x[i] = []float64{10 * rng.NormFloat64(), 10 * rng.NormFloat64()}
	}

	temp := &Tempering{Enabled: true, TargetESS: n / 2}
	phi, err := temp.CalculatePhi(target, x, 0.0)
	require.NoError(t, err)
	assert.Greater(t, phi, 0.0)
	assert.Less(t, phi, 1.0, "a 10x-too-wide cloud cannot jump straight to phi=1 at ESS N/2")
}

func TestTemperingRejectsBadPhi(t *testing.T) {
	t.Parallel()

	target, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)
	temp := &Tempering{Enabled: true, TargetESS: 1}

	_, err = temp.CalculatePhi(target, [][]float64{{0, 0}}, -0.5)
	assert.ErrorIs(t, err, ErrTemperingSearch)
}
