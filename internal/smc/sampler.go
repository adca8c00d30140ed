package smc

import (
	"fmt"
	"log"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/particlefield/smcnuts/internal/hmc"
	"github.com/particlefield/smcnuts/internal/model"
	"github.com/particlefield/smcnuts/internal/randx"
)

// Config carries the sampler construction parameters.
type Config struct {
	Iterations int     // K
	Particles  int     // N
	StepSize   float64 // leapfrog step size
	LKernel    LKernelKind
	Tempering  bool

	// Momentum is the distribution momenta are drawn from before each
	// proposal and scored against in the Hamiltonian. Nil means the unit
	// Gaussian.
	Momentum model.Proposal

	// ESSThresholdFrac is the resampling trigger as a fraction of N.
	// Zero means the conventional 1/2.
	ESSThresholdFrac float64

	// MaxTreeDepth bounds NUTS tree doublings. Zero means hmc.MaxTreeDepth.
	MaxTreeDepth int
}

// Sampler runs the SMC-with-NUTS iteration cycle and aggregates diagnostics.
// All result slices have length K+1: index k holds the state recorded at the
// start of iteration k, index K the terminal pass.
type Sampler struct {
	cfg       Config
	target    model.Target
	proposal  *hmc.NUTS
	momentum  model.Proposal
	lkernel   LKernel
	tempering *Tempering
	rng       *randx.Stream
	particles *Particles

	phiCurrent float64

	// Diagnostics traces, written once per iteration index.
	ESS            []float64
	LogLikelihood  []float64
	Phi            []float64
	AcceptanceRate []float64
	Resampled      []bool
	Divergences    []int

	// Point estimates per iteration, in the constrained space when the
	// target implements model.Constrainer.
	MeanEstimate     [][]float64
	VarianceEstimate [][]float64

	// Position and log-weight history for the tempered re-estimation pass.
	xSaved    [][][]float64
	logwSaved [][]float64

	RunTime time.Duration
}

// NewSampler validates the configuration, initializes the particle
// population from sampleProposal and wires the proposal, momentum
// distribution and L-kernel. The asymptotic L-kernel forces the
// accept-reject NUTS variant.
func NewSampler(cfg Config, target model.Target, sampleProposal model.Proposal, rng *randx.Stream) (*Sampler, error) {
	if cfg.Iterations <= 0 || cfg.Particles <= 0 {
		return nil, fmt.Errorf("iterations (%d) and particles (%d) must be positive", cfg.Iterations, cfg.Particles)
	}
	if cfg.StepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %v", cfg.StepSize)
	}
	if cfg.ESSThresholdFrac == 0 {
		cfg.ESSThresholdFrac = 0.5
	}
	if cfg.MaxTreeDepth == 0 {
		cfg.MaxTreeDepth = hmc.MaxTreeDepth
	}

	momentum := cfg.Momentum
	if momentum == nil {
		var err error
		momentum, err = model.NewIsotropicProposal(target.Dim(), 1.0, rng)
		if err != nil {
			return nil, err
		}
	}
	if momentum.Dim() != target.Dim() {
		return nil, fmt.Errorf("%w: momentum dim %d, target dim %d", ErrDimensionMismatch, momentum.Dim(), target.Dim())
	}

	lkernel, err := NewLKernel(cfg.LKernel, momentum)
	if err != nil {
		return nil, err
	}

	s := &Sampler{
		cfg:      cfg,
		target:   target,
		momentum: momentum,
		lkernel:  lkernel,
		rng:      rng,
		tempering: &Tempering{
			Enabled:   cfg.Tempering,
			TargetESS: float64(cfg.Particles) / 2,
		},
	}

	s.proposal = hmc.New(target, momentum, hmc.Options{
		StepSize:     cfg.StepSize,
		MaxDepth:     cfg.MaxTreeDepth,
		AcceptReject: cfg.LKernel == AsymptoticLKernel,
	}, rng)

	s.phiCurrent = 1.0
	if cfg.Tempering {
		s.phiCurrent = 0.0
	}

	s.particles, err = NewParticles(cfg.Particles, sampleProposal, target, s.phiCurrent, rng)
	if err != nil {
		return nil, err
	}

	k1 := cfg.Iterations + 1
	s.ESS = make([]float64, k1)
	s.LogLikelihood = make([]float64, k1)
	s.Phi = make([]float64, k1)
	s.AcceptanceRate = make([]float64, k1)
	s.Resampled = make([]bool, k1)
	s.Divergences = make([]int, k1)
	s.MeanEstimate = make([][]float64, k1)
	s.VarianceEstimate = make([][]float64, k1)
	s.xSaved = make([][][]float64, k1)
	s.logwSaved = make([][]float64, k1)
	s.xSaved[0] = copyMatrix(s.particles.X)
	s.logwSaved[0] = append([]float64(nil), s.particles.Logw...)

	return s, nil
}

// Particles exposes the current population, mainly for tests and reporting.
func (s *Sampler) Particles() *Particles { return s.particles }

// Sample runs K iterations of the weight/resample/propose/temper/reweight
// cycle plus a terminal estimation pass, then the tempered re-estimation
// pass when the asymptotic L-kernel is in use.
func (s *Sampler) Sample(showProgress bool) error {
	start := time.Now()
	p := s.particles
	threshold := s.cfg.ESSThresholdFrac * float64(p.N)
	progressEvery := max(1, s.cfg.Iterations/10)

	for k := 0; k < s.cfg.Iterations; k++ {
		s.Phi[k] = s.phiCurrent

		if err := p.NormaliseWeights(); err != nil {
			return fmt.Errorf("iteration %d: %w", k, err)
		}
		s.MeanEstimate[k], s.VarianceEstimate[k] = s.estimate(p.X, p.Wn)
		p.EffectiveSampleSize()
		s.Resampled[k] = p.ResampleIfRequired(threshold)

		// Fresh momenta for every particle before the trajectory step.
		for i := range p.R {
			p.R[i] = s.momentum.Rand()
		}

		xPrime, rPrime, gradPrime := s.proposal.Rvs(p.X, p.R, p.GradX, s.phiCurrent)
		s.Divergences[k] = s.proposal.Divergences()

		phiNew, err := s.tempering.CalculatePhi(s.target, xPrime, s.phiCurrent)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", k, err)
		}

		inc, err := s.lkernel.Reweight(s.target, p.X, xPrime, p.R, rPrime, s.phiCurrent, phiNew)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", k, err)
		}

		s.LogLikelihood[k] = p.LogLikelihood
		s.ESS[k] = p.ESS
		s.AcceptanceRate[k] = movedFraction(p.X, xPrime)

		// Commit the proposed state as the next iteration's current state.
		for i := range p.Logw {
			p.Logw[i] += inc[i]
		}
		p.X = xPrime
		p.GradX = gradPrime
		s.phiCurrent = phiNew

		s.xSaved[k+1] = copyMatrix(p.X)
		s.logwSaved[k+1] = append([]float64(nil), p.Logw...)

		if showProgress && (k+1)%progressEvery == 0 {
			log.Printf("[Sampler] iteration %d/%d ess=%.1f phi=%.4f accepted=%.2f divergences=%d",
				k+1, s.cfg.Iterations, s.ESS[k], s.Phi[k], s.AcceptanceRate[k], s.Divergences[k])
		}
	}

	// Terminal pass: estimate without another propose step.
	K := s.cfg.Iterations
	s.Phi[K] = s.phiCurrent
	if err := p.NormaliseWeights(); err != nil {
		return fmt.Errorf("terminal pass: %w", err)
	}
	s.MeanEstimate[K], s.VarianceEstimate[K] = s.estimate(p.X, p.Wn)
	p.EffectiveSampleSize()
	s.LogLikelihood[K] = p.LogLikelihood
	s.ESS[K] = p.ESS

	if s.cfg.LKernel == AsymptoticLKernel {
		if err := s.EstimateFromTempered(); err != nil {
			return fmt.Errorf("tempered re-estimation: %w", err)
		}
	}

	s.RunTime = time.Since(start)
	return nil
}

// estimate forms importance-sampling mean and variance estimates under the
// given normalized weights, mapping positions through the target's
// constraint when it has one.
func (s *Sampler) estimate(x [][]float64, wn []float64) (mean, variance []float64) {
	cx := x
	d := s.target.Dim()
	if c, ok := s.target.(model.Constrainer); ok {
		d = c.ConstrainedDim()
		cx = make([][]float64, len(x))
		for i := range x {
			cx[i] = c.Constrain(x[i])
		}
	}

	mean = make([]float64, d)
	variance = make([]float64, d)
	for i := range cx {
		floats.AddScaled(mean, wn[i], cx[i])
	}
	for i := range cx {
		for j := 0; j < d; j++ {
			diff := cx[i][j] - mean[j]
			variance[j] += wn[i] * diff * diff
		}
	}
	return mean, variance
}

// EstimateFromTempered recomputes the mean/variance estimates for every
// recorded iteration using importance weights against the untempered
// (phi=1) target. Weights computed at intermediate temperatures target the
// wrong distribution; this pass resamples each saved population under its
// own weights and corrects with logpdf(x, 1) - logpdf(x, phi_k).
func (s *Sampler) EstimateFromTempered() error {
	n := s.cfg.Particles
	for k := 0; k <= s.cfg.Iterations; k++ {
		wn, _, err := normaliseLogWeights(s.logwSaved[k])
		if err != nil {
			return fmt.Errorf("iteration %d: %w", k, err)
		}

		cat := distuv.NewCategorical(wn, s.rng)
		x := make([][]float64, n)
		for i := 0; i < n; i++ {
			x[i] = s.xSaved[k][int(cat.Rand())]
		}

		logw := make([]float64, n)
		for i := 0; i < n; i++ {
			logw[i] = s.target.LogPdf(x[i], 1.0) - s.target.LogPdf(x[i], s.Phi[k])
		}
		essWn, _, err := normaliseLogWeights(logw)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", k, err)
		}

		s.MeanEstimate[k], s.VarianceEstimate[k] = s.estimate(x, essWn)
	}
	return nil
}

// normaliseLogWeights is the standalone form of Particles.NormaliseWeights
// used by the tempered re-estimation pass.
func normaliseLogWeights(logw []float64) (wn []float64, logZ float64, err error) {
	finite := make([]float64, 0, len(logw))
	for _, lw := range logw {
		if !math.IsInf(lw, -1) {
			finite = append(finite, lw)
		}
	}
	if len(finite) == 0 {
		return nil, 0, ErrDegenerateWeights
	}
	logZ = floats.LogSumExp(finite)
	wn = make([]float64, len(logw))
	for i, lw := range logw {
		if !math.IsInf(lw, -1) {
			wn[i] = math.Exp(lw - logZ)
		}
	}
	return wn, logZ, nil
}

// movedFraction is the acceptance-rate proxy: the fraction of particles
// whose proposed position differs from the conditioning position.
func movedFraction(x, xPrime [][]float64) float64 {
	if len(x) == 0 {
		return 0
	}
	moved := 0
	for i := range x {
		if !floats.Equal(x[i], xPrime[i]) {
			moved++
		}
	}
	return float64(moved) / float64(len(x))
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}
