package smc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/particlefield/smcnuts/internal/model"
)

// temperingTol is the bisection width at which the temperature search stops.
const temperingTol = 1e-8

// Tempering adapts the annealing parameter phi. When disabled, phi is pinned
// at 1.0 for every iteration. When enabled, CalculatePhi finds the smallest
// phi_next >= phi_current whose incremental weights keep the effective
// sample size at TargetESS particles, clamping at the terminal value 1.0.
type Tempering struct {
	Enabled   bool
	TargetESS float64 // absolute particle count, conventionally N/2
}

// CalculatePhi bisects for the next temperature given the current particle
// positions. The incremental weight of particle i at a candidate phi is
// target.LogPdf(x_i, phi) - target.LogPdf(x_i, phi_current); the returned
// phi makes the ESS of those weights equal TargetESS. Guaranteed to lie in
// [phiCurrent, 1].
func (t *Tempering) CalculatePhi(target model.Target, x [][]float64, phiCurrent float64) (float64, error) {
	if !t.Enabled || phiCurrent >= 1 {
		return 1.0, nil
	}
	if phiCurrent < 0 || phiCurrent > 1 {
		return 0, fmt.Errorf("%w: current phi %v outside [0,1]", ErrTemperingSearch, phiCurrent)
	}

	base := make([]float64, len(x))
	for i := range x {
		base[i] = target.LogPdf(x[i], phiCurrent)
	}

	essAt := func(phi float64) float64 {
		logw := make([]float64, len(x))
		for i := range x {
			logw[i] = target.LogPdf(x[i], phi) - base[i]
		}
		logZ := floats.LogSumExp(logw)
		var sumSq float64
		for _, lw := range logw {
			w := math.Exp(lw - logZ)
			sumSq += w * w
		}
		return 1 / sumSq
	}

	// The full step to phi=1 may already satisfy the degeneracy target.
	if essAt(1.0) >= t.TargetESS {
		return 1.0, nil
	}

	lo, hi := phiCurrent, 1.0
	for hi-lo > temperingTol {
		mid := 0.5 * (lo + hi)
		if essAt(mid) >= t.TargetESS {
			lo = mid
		} else {
			hi = mid
		}
	}

	phiNext := 0.5 * (lo + hi)
	if math.IsNaN(phiNext) || phiNext < phiCurrent || phiNext > 1 {
		return 0, fmt.Errorf("%w: searched [%v,1], got %v", ErrTemperingSearch, phiCurrent, phiNext)
	}
	return phiNext, nil
}
