package runstore

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/particlefield/smcnuts/internal/model"
	"github.com/particlefield/smcnuts/internal/randx"
	"github.com/particlefield/smcnuts/internal/smc"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenAppliesMigrations(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	version, dirty, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	// Reopening an existing database is a no-op migration.
	var count int
	require.NoError(t, store.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count))
	assert.Zero(t, count)
}

func TestSaveAndListRuns(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	run := Run{
		ID:             uuid.New(),
		Target:         "gaussian-2d",
		Particles:      100,
		Iterations:     10,
		StepSize:       0.5,
		LKernel:        "forwards",
		Tempering:      true,
		Seed:           42,
		RunTimeSeconds: 1.25,
	}
	require.NoError(t, store.SaveRun(run))

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, "gaussian-2d", runs[0].Target)
	assert.Equal(t, 100, runs[0].Particles)
	assert.True(t, runs[0].Tempering)
	assert.Equal(t, uint64(42), runs[0].Seed)
	assert.InDelta(t, 1.25, runs[0].RunTimeSeconds, 1e-12)
}

func TestSaveAndReadIterations(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	rng := randx.NewStream(5)
	target, err := model.NewStandardGaussian(2, 3.0)
	require.NoError(t, err)
	proposal, err := model.NewIsotropicProposal(2, 3.0, rng)
	require.NoError(t, err)
	sampler, err := smc.NewSampler(smc.Config{
		Iterations: 3,
		Particles:  25,
		StepSize:   0.5,
		LKernel:    smc.ForwardsLKernel,
	}, target, proposal, rng)
	require.NoError(t, err)
	require.NoError(t, sampler.Sample(false))

	runID := uuid.New()
	require.NoError(t, store.SaveRun(Run{ID: runID, Target: "gaussian-2d", Particles: 25, Iterations: 3, StepSize: 0.5, LKernel: "forwards"}))
	require.NoError(t, store.SaveIterations(runID, sampler))

	rows, err := store.Iterations(runID)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	for k, row := range rows {
		assert.Equal(t, k, row.K)
		assert.Equal(t, sampler.ESS[k], row.ESS)
		assert.Equal(t, sampler.Phi[k], row.Phi)
		require.Len(t, row.Mean, 2)
		require.Len(t, row.Variance, 2)
		assert.Equal(t, sampler.MeanEstimate[k], row.Mean)
		assert.Equal(t, sampler.VarianceEstimate[k], row.Variance)
	}
}
