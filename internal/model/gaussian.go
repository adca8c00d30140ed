package model

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// TemperedGaussian is a multivariate Gaussian target with a geometric bridge
// to a wider base Gaussian: logpdf(x, phi) = phi*logN(x; mu, Sigma) +
// (1-phi)*logN(x; mu0, Sigma0). At phi=1 it is the target itself, at phi=0
// the base density the initial particles are cheap to cover.
type TemperedGaussian struct {
	dim   int
	mu    []float64
	mu0   []float64
	dist  *distmv.Normal
	dist0 *distmv.Normal
	chol  mat.Cholesky
	chol0 mat.Cholesky
}

// NewTemperedGaussian builds a tempered Gaussian target. sigma and sigma0
// must be positive definite.
func NewTemperedGaussian(mu []float64, sigma *mat.SymDense, mu0 []float64, sigma0 *mat.SymDense) (*TemperedGaussian, error) {
	dim := len(mu)
	if len(mu0) != dim || sigma.SymmetricDim() != dim || sigma0.SymmetricDim() != dim {
		return nil, fmt.Errorf("inconsistent dimensions: mu=%d mu0=%d sigma=%d sigma0=%d",
			dim, len(mu0), sigma.SymmetricDim(), sigma0.SymmetricDim())
	}

	t := &TemperedGaussian{dim: dim, mu: append([]float64(nil), mu...), mu0: append([]float64(nil), mu0...)}

	var ok bool
	if t.dist, ok = distmv.NewNormal(mu, sigma, nil); !ok {
		return nil, fmt.Errorf("target covariance is not positive definite")
	}
	if t.dist0, ok = distmv.NewNormal(mu0, sigma0, nil); !ok {
		return nil, fmt.Errorf("base covariance is not positive definite")
	}
	if !t.chol.Factorize(sigma) {
		return nil, fmt.Errorf("target covariance failed Cholesky factorization")
	}
	if !t.chol0.Factorize(sigma0) {
		return nil, fmt.Errorf("base covariance failed Cholesky factorization")
	}

	return t, nil
}

// NewStandardGaussian returns a tempered target whose phi=1 density is the
// standard D-dimensional Gaussian and whose phi=0 base is an isotropic
// Gaussian with standard deviation scale0.
func NewStandardGaussian(dim int, scale0 float64) (*TemperedGaussian, error) {
	sigma := mat.NewSymDense(dim, nil)
	sigma0 := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		sigma.SetSym(i, i, 1)
		sigma0.SetSym(i, i, scale0*scale0)
	}
	return NewTemperedGaussian(make([]float64, dim), sigma, make([]float64, dim), sigma0)
}

func (t *TemperedGaussian) Dim() int { return t.dim }

func (t *TemperedGaussian) LogPdf(x []float64, phi float64) float64 {
	if phi >= 1 {
		return t.dist.LogProb(x)
	}
	return phi*t.dist.LogProb(x) + (1-phi)*t.dist0.LogProb(x)
}

// GradLogPdf returns phi*(-Sigma^-1 (x-mu)) + (1-phi)*(-Sigma0^-1 (x-mu0)).
// Both factorizations were validated at construction, so a failed solve is a
// programming error and panics rather than returning a wrong gradient.
func (t *TemperedGaussian) GradLogPdf(x []float64, phi float64) []float64 {
	grad := make([]float64, t.dim)
	diff := mat.NewVecDense(t.dim, nil)
	var solved mat.VecDense

	for i := 0; i < t.dim; i++ {
		diff.SetVec(i, x[i]-t.mu[i])
	}
	if err := t.chol.SolveVecTo(&solved, diff); err != nil {
		panic(fmt.Sprintf("tempered gaussian gradient solve: %v", err))
	}
	for i := 0; i < t.dim; i++ {
		grad[i] -= phi * solved.AtVec(i)
	}

	if phi < 1 {
		for i := 0; i < t.dim; i++ {
			diff.SetVec(i, x[i]-t.mu0[i])
		}
		if err := t.chol0.SolveVecTo(&solved, diff); err != nil {
			panic(fmt.Sprintf("tempered gaussian base gradient solve: %v", err))
		}
		for i := 0; i < t.dim; i++ {
			grad[i] -= (1 - phi) * solved.AtVec(i)
		}
	}

	return grad
}

// GaussianProposal draws initial particle positions from a multivariate
// Gaussian. The supplied source should be the sampler's shared stream.
type GaussianProposal struct {
	dim  int
	dist *distmv.Normal
}

// NewGaussianProposal builds a Gaussian initial-sample proposal.
func NewGaussianProposal(mu []float64, sigma *mat.SymDense, src rand.Source) (*GaussianProposal, error) {
	dist, ok := distmv.NewNormal(mu, sigma, src)
	if !ok {
		return nil, fmt.Errorf("proposal covariance is not positive definite")
	}
	return &GaussianProposal{dim: len(mu), dist: dist}, nil
}

// NewIsotropicProposal is a convenience wrapper for a zero-mean isotropic
// Gaussian proposal with the given standard deviation.
func NewIsotropicProposal(dim int, sd float64, src rand.Source) (*GaussianProposal, error) {
	sigma := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		sigma.SetSym(i, i, sd*sd)
	}
	return NewGaussianProposal(make([]float64, dim), sigma, src)
}

func (p *GaussianProposal) Dim() int { return p.dim }

func (p *GaussianProposal) Rand() []float64 { return p.dist.Rand(nil) }

func (p *GaussianProposal) LogPdf(x []float64) float64 { return p.dist.LogProb(x) }
