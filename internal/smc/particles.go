// Package smc implements the sequential Monte Carlo particle population
// state machine: weight normalization, ESS-driven resampling, temperature
// adaptation, L-kernel reweighting and the iteration loop that ties them to
// the NUTS proposal.
package smc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/particlefield/smcnuts/internal/model"
	"github.com/particlefield/smcnuts/internal/randx"
)

// Particles holds the weighted particle population for one iteration:
// positions, momenta, gradients and log-weights, plus the normalized weights
// and the log normalizing constant produced by the last NormaliseWeights
// call.
type Particles struct {
	N, D int

	X     [][]float64 // positions
	R     [][]float64 // momenta, redrawn before each proposal
	GradX [][]float64 // gradient of the tempered log-density at X
	Logw  []float64

	Wn            []float64 // normalized weights, valid after NormaliseWeights
	LogLikelihood float64   // log normalizing constant estimate
	ESS           float64   // valid after EffectiveSampleSize

	rng *randx.Stream
}

// NewParticles draws n initial positions from the sample proposal and
// weights them against the target at temperature initialPhi:
// logw = target.LogPdf(x, initialPhi) - proposal.LogPdf(x).
func NewParticles(n int, proposal model.Proposal, target model.Target, initialPhi float64, rng *randx.Stream) (*Particles, error) {
	if proposal.Dim() != target.Dim() {
		return nil, fmt.Errorf("%w: proposal dim %d, target dim %d", ErrDimensionMismatch, proposal.Dim(), target.Dim())
	}

	d := target.Dim()
	p := &Particles{
		N:     n,
		D:     d,
		X:     make([][]float64, n),
		R:     make([][]float64, n),
		GradX: make([][]float64, n),
		Logw:  make([]float64, n),
		Wn:    make([]float64, n),
		rng:   rng,
	}

	for i := 0; i < n; i++ {
		p.X[i] = proposal.Rand()
		p.R[i] = make([]float64, d)
		p.GradX[i] = target.GradLogPdf(p.X[i], initialPhi)
		p.Logw[i] = target.LogPdf(p.X[i], initialPhi) - proposal.LogPdf(p.X[i])
	}

	return p, nil
}

// NormaliseWeights computes the normalized weights in log space. Entries
// with -Inf log-weight are excluded from the log-sum-exp and get weight
// exactly 0; the remaining weights sum to 1. The log normalizing constant is
// stored in LogLikelihood.
func (p *Particles) NormaliseWeights() error {
	finite := make([]float64, 0, p.N)
	for _, lw := range p.Logw {
		if !math.IsInf(lw, -1) {
			finite = append(finite, lw)
		}
	}
	if len(finite) == 0 {
		return fmt.Errorf("%w (N=%d)", ErrDegenerateWeights, p.N)
	}

	logZ := floats.LogSumExp(finite)
	for i, lw := range p.Logw {
		if math.IsInf(lw, -1) {
			p.Wn[i] = 0
		} else {
			p.Wn[i] = math.Exp(lw - logZ)
		}
	}
	p.LogLikelihood = logZ
	return nil
}

// EffectiveSampleSize computes 1/sum(wn^2) from the normalized weights and
// stores it in ESS. The value lies in [1, N]: N for uniform weights, 1 when
// all mass sits on a single particle.
func (p *Particles) EffectiveSampleSize() float64 {
	var sumSq float64
	for _, w := range p.Wn {
		sumSq += w * w
	}
	p.ESS = 1 / sumSq
	return p.ESS
}

// ResampleIfRequired performs multinomial resampling when ESS has dropped
// below threshold: N indices are drawn with replacement proportional to the
// normalized weights, positions and gradients are replaced by the drawn set,
// and every log-weight is reset to LogLikelihood - log(N) so the population
// is uniformly weighted while still carrying the normalizing constant.
// Returns whether resampling happened.
func (p *Particles) ResampleIfRequired(threshold float64) bool {
	if p.ESS >= threshold {
		return false
	}

	cat := distuv.NewCategorical(p.Wn, p.rng)

	xNew := make([][]float64, p.N)
	gradNew := make([][]float64, p.N)
	for i := 0; i < p.N; i++ {
		idx := int(cat.Rand())
		xNew[i] = append([]float64(nil), p.X[idx]...)
		gradNew[i] = append([]float64(nil), p.GradX[idx]...)
	}

	logwReset := p.LogLikelihood - math.Log(float64(p.N))
	for i := range p.Logw {
		p.Logw[i] = logwReset
	}
	p.X = xNew
	p.GradX = gradNew
	return true
}
