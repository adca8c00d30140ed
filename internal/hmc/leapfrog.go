// Package hmc implements the Hamiltonian dynamics used to move particles:
// a leapfrog integrator and a No-U-Turn trajectory builder with an optional
// Metropolis accept-reject correction.
package hmc

import (
	"gonum.org/v1/gonum/floats"

	"github.com/particlefield/smcnuts/internal/model"
)

// Leapfrog advances one leapfrog step from (x, r) with gradient grad already
// evaluated at x: half-step momentum kick, full position drift, gradient
// recompute, second half-step kick. direction of -1 reverses time, which the
// NUTS tree uses to grow trajectories backwards.
//
// Returns the new position, momentum, gradient and the tempered log-density
// at the new position. Deterministic given its inputs.
func Leapfrog(target model.Target, x, r, grad []float64, stepSize, phi float64, direction int) (xNew, rNew, gradNew []float64, logp float64) {
	eps := stepSize * float64(direction)

	rNew = append([]float64(nil), r...)
	floats.AddScaled(rNew, eps/2, grad)

	xNew = append([]float64(nil), x...)
	floats.AddScaled(xNew, eps, rNew)

	gradNew = target.GradLogPdf(xNew, phi)
	logp = target.LogPdf(xNew, phi)

	floats.AddScaled(rNew, eps/2, gradNew)
	return xNew, rNew, gradNew, logp
}
