// Package runstore persists run metadata and per-iteration diagnostics to
// sqlite so separate sampler runs can be compared after the fact. Sampler
// state itself is never persisted; only the traces a finished run reports.
package runstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/particlefield/smcnuts/internal/smc"
)

// RunStore wraps the sqlite handle.
type RunStore struct {
	*sql.DB
}

// Open opens (or creates) the run database at path and applies any pending
// schema migrations.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store %s: %w", path, err)
	}

	rs := &RunStore{db}
	if err := rs.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return rs, nil
}

// Run is one sampler execution's metadata row.
type Run struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Target         string
	Particles      int
	Iterations     int
	StepSize       float64
	LKernel        string
	Tempering      bool
	Seed           uint64
	RunTimeSeconds float64
}

// SaveRun inserts the run metadata row.
func (rs *RunStore) SaveRun(run Run) error {
	_, err := rs.Exec(`
		INSERT INTO runs (run_id, target, particles, iterations, step_size, lkernel, tempering, seed, run_time_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Target, run.Particles, run.Iterations, run.StepSize,
		run.LKernel, run.Tempering, run.Seed, run.RunTimeSeconds)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// SaveIterations stores the per-iteration diagnostics of a finished sampler
// under the given run ID. Mean and variance estimates are stored as JSON
// arrays.
func (rs *RunStore) SaveIterations(runID uuid.UUID, s *smc.Sampler) error {
	tx, err := rs.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO run_iterations (run_id, k, phi, ess, log_likelihood, acceptance_rate, resampled, divergences, mean_estimate, variance_estimate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare iteration insert: %w", err)
	}
	defer stmt.Close()

	for k := range s.ESS {
		meanJSON, err := json.Marshal(s.MeanEstimate[k])
		if err != nil {
			return fmt.Errorf("failed to marshal mean estimate at k=%d: %w", k, err)
		}
		varJSON, err := json.Marshal(s.VarianceEstimate[k])
		if err != nil {
			return fmt.Errorf("failed to marshal variance estimate at k=%d: %w", k, err)
		}

		if _, err := stmt.Exec(runID.String(), k, s.Phi[k], s.ESS[k], s.LogLikelihood[k],
			s.AcceptanceRate[k], s.Resampled[k], s.Divergences[k], string(meanJSON), string(varJSON)); err != nil {
			return fmt.Errorf("failed to insert iteration k=%d: %w", k, err)
		}
	}

	return tx.Commit()
}

// IterationRow is one stored diagnostic row.
type IterationRow struct {
	K              int
	Phi            float64
	ESS            float64
	LogLikelihood  float64
	AcceptanceRate float64
	Resampled      bool
	Divergences    int
	Mean           []float64
	Variance       []float64
}

// Iterations reads back the per-iteration diagnostics for a run, ordered by
// iteration index.
func (rs *RunStore) Iterations(runID uuid.UUID) ([]IterationRow, error) {
	rows, err := rs.Query(`
		SELECT k, phi, ess, log_likelihood, acceptance_rate, resampled, divergences, mean_estimate, variance_estimate
		FROM run_iterations WHERE run_id = ? ORDER BY k`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []IterationRow
	for rows.Next() {
		var r IterationRow
		var meanJSON, varJSON string
		if err := rows.Scan(&r.K, &r.Phi, &r.ESS, &r.LogLikelihood, &r.AcceptanceRate,
			&r.Resampled, &r.Divergences, &meanJSON, &varJSON); err != nil {
			return nil, fmt.Errorf("failed to scan iteration row: %w", err)
		}
		if err := json.Unmarshal([]byte(meanJSON), &r.Mean); err != nil {
			return nil, fmt.Errorf("failed to decode mean estimate at k=%d: %w", r.K, err)
		}
		if err := json.Unmarshal([]byte(varJSON), &r.Variance); err != nil {
			return nil, fmt.Errorf("failed to decode variance estimate at k=%d: %w", r.K, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Runs lists stored runs, most recent first.
func (rs *RunStore) Runs() ([]Run, error) {
	rows, err := rs.Query(`
		SELECT run_id, created_at, target, particles, iterations, step_size, lkernel, tempering, seed, run_time_seconds
		FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var id string
		if err := rows.Scan(&id, &r.CreatedAt, &r.Target, &r.Particles, &r.Iterations,
			&r.StepSize, &r.LKernel, &r.Tempering, &r.Seed, &r.RunTimeSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse run id %q: %w", id, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
