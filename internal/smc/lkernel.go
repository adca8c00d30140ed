package smc

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/particlefield/smcnuts/internal/model"
)

// LKernelKind selects one of the three L-kernel approximations. The choice
// is dispatched once at sampler construction, never re-checked per
// iteration.
type LKernelKind int

const (
	// ForwardsLKernel assumes the reverse kernel equals the forward kernel;
	// the increment is the joint position-and-momentum log-density ratio.
	ForwardsLKernel LKernelKind = iota

	// GaussianApproxLKernel fits a joint Gaussian to the proposed states and
	// adds the conditional density of the reversed momentum as a correction.
	GaussianApproxLKernel

	// AsymptoticLKernel uses the identity L-kernel, valid as phi approaches 1
	// when the proposal carries a Metropolis accept-reject step. Estimates
	// formed under it must be corrected by EstimateFromTempered.
	AsymptoticLKernel
)

// ParseLKernelKind maps a config string to its kind.
func ParseLKernelKind(name string) (LKernelKind, error) {
	switch name {
	case "forwards":
		return ForwardsLKernel, nil
	case "gaussian":
		return GaussianApproxLKernel, nil
	case "asymptotic":
		return AsymptoticLKernel, nil
	}
	return 0, fmt.Errorf("unknown lkernel %q (want forwards, gaussian or asymptotic)", name)
}

func (k LKernelKind) String() string {
	switch k {
	case ForwardsLKernel:
		return "forwards"
	case GaussianApproxLKernel:
		return "gaussian"
	case AsymptoticLKernel:
		return "asymptotic"
	}
	return fmt.Sprintf("LKernelKind(%d)", int(k))
}

// LKernel turns a proposal step into per-particle log-weight increments.
type LKernel interface {
	Reweight(target model.Target, xCond, xPrime, rCond, rPrime [][]float64, phiOld, phiNew float64) ([]float64, error)
}

// NewLKernel returns the implementation for kind. momentum is the density the
// sampler draws momenta from; the forwards and Gaussian kernels score momenta
// against it.
func NewLKernel(kind LKernelKind, momentum model.Proposal) (LKernel, error) {
	switch kind {
	case ForwardsLKernel:
		return forwardsLKernel{momentum: momentum}, nil
	case GaussianApproxLKernel:
		return gaussianApproxLKernel{momentum: momentum}, nil
	case AsymptoticLKernel:
		return asymptoticLKernel{}, nil
	}
	return nil, fmt.Errorf("unknown lkernel kind %d", int(kind))
}

type forwardsLKernel struct {
	momentum model.Proposal
}

// Reweight assumes the reverse kernel equals the forward kernel, so the
// proposal densities cancel and the increment is the joint (position plus
// momentum) log-density ratio. Near-exact energy conservation in the
// trajectory makes these increments small, which is what keeps the
// population from degenerating.
func (l forwardsLKernel) Reweight(target model.Target, xCond, xPrime, rCond, rPrime [][]float64, phiOld, phiNew float64) ([]float64, error) {
	inc := make([]float64, len(xCond))
	for i := range xCond {
		inc[i] = target.LogPdf(xPrime[i], phiNew) + l.momentum.LogPdf(rPrime[i]) -
			target.LogPdf(xCond[i], phiOld) - l.momentum.LogPdf(rCond[i])
	}
	return inc, nil
}

type asymptoticLKernel struct{}

// Reweight applies the identity L-kernel: the increment is the tempering
// ratio at the new positions. The accept-reject step in the proposal
// supplies the detailed balance this relies on.
func (asymptoticLKernel) Reweight(target model.Target, xCond, xPrime, rCond, rPrime [][]float64, phiOld, phiNew float64) ([]float64, error) {
	inc := make([]float64, len(xPrime))
	for i := range xPrime {
		inc[i] = target.LogPdf(xPrime[i], phiNew) - target.LogPdf(xPrime[i], phiOld)
	}
	return inc, nil
}

type gaussianApproxLKernel struct {
	momentum model.Proposal
}

// Reweight approximates the optimal L-kernel with a Gaussian: a joint
// Gaussian is fitted over (x', -r') across the population, and the
// correction term is the conditional density of the reversed momentum given
// the new position, minus the forward momentum proposal density. A singular
// empirical covariance is fatal.
func (l gaussianApproxLKernel) Reweight(target model.Target, xCond, xPrime, rCond, rPrime [][]float64, phiOld, phiNew float64) ([]float64, error) {
	n := len(xPrime)
	if n == 0 {
		return nil, nil
	}
	d := len(xPrime[0])

	// Joint sample matrix: row i = [x'_i, -r'_i].
	joint := mat.NewDense(n, 2*d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			joint.Set(i, j, xPrime[i][j])
			joint.Set(i, d+j, -rPrime[i][j])
		}
	}

	mu := make([]float64, 2*d)
	for j := 0; j < 2*d; j++ {
		mu[j] = stat.Mean(mat.Col(nil, j, joint), nil)
	}
	cov := mat.NewSymDense(2*d, nil)
	stat.CovarianceMatrix(cov, joint, nil)

	// Partition the joint covariance into position and momentum blocks.
	sxx := mat.NewSymDense(d, nil)
	srr := mat.NewSymDense(d, nil)
	sxr := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sxx.SetSym(i, j, cov.At(i, j))
			srr.SetSym(i, j, cov.At(d+i, d+j))
		}
		for j := 0; j < d; j++ {
			sxr.Set(i, j, cov.At(i, d+j))
		}
	}

	var cholXX mat.Cholesky
	if !cholXX.Factorize(sxx) {
		return nil, fmt.Errorf("gaussian lkernel: singular position covariance")
	}

	// w = Sxx^-1 Sxr; conditional covariance = Srr - Sxr^T w.
	var w mat.Dense
	if err := cholXX.SolveTo(&w, sxr); err != nil {
		return nil, fmt.Errorf("gaussian lkernel: conditioning solve failed: %w", err)
	}
	var cross mat.Dense
	cross.Mul(sxr.T(), &w)

	condCov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			condCov.SetSym(i, j, 0.5*(srr.At(i, j)+srr.At(j, i))-0.5*(cross.At(i, j)+cross.At(j, i)))
		}
	}

	condDist, ok := distmv.NewNormal(make([]float64, d), condCov, nil)
	if !ok {
		return nil, fmt.Errorf("gaussian lkernel: conditional covariance is not positive definite")
	}

	inc := make([]float64, n)
	diff := make([]float64, d)
	condMean := make([]float64, d)
	centered := make([]float64, d)
	for i := 0; i < n; i++ {
		// Conditional mean: mu_r + w^T (x'_i - mu_x).
		for j := 0; j < d; j++ {
			diff[j] = xPrime[i][j] - mu[j]
		}
		for j := 0; j < d; j++ {
			condMean[j] = mu[d+j]
			for l := 0; l < d; l++ {
				condMean[j] += w.At(l, j) * diff[l]
			}
		}
		for j := 0; j < d; j++ {
			centered[j] = -rPrime[i][j] - condMean[j]
		}

		logL := condDist.LogProb(centered)
		logQ := l.momentum.LogPdf(rCond[i])

		inc[i] = target.LogPdf(xPrime[i], phiNew) - target.LogPdf(xCond[i], phiOld) + logL - logQ
	}
	return inc, nil
}
