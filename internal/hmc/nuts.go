package hmc

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/particlefield/smcnuts/internal/model"
	"github.com/particlefield/smcnuts/internal/randx"
)

// MaxTreeDepth is the default doubling limit for the NUTS trajectory tree,
// bounding a single proposal at ~2^10 leapfrog steps.
const MaxTreeDepth = 10

// deltaMax is the energy-error threshold beyond which a leaf is treated as
// divergent and its subtree contributes zero weight.
const deltaMax = 1000.0

// Options configures a NUTS proposal. MaxDepth bounds the number of tree
// doublings; at 0 the trajectory is a single leapfrog step. AcceptReject
// adds a final Metropolis test per particle against the Hamiltonian,
// reverting to the conditioning state on rejection; the asymptotic L-kernel
// requires it.
type Options struct {
	StepSize     float64
	MaxDepth     int
	AcceptReject bool
}

// NUTS propagates particles with the No-U-Turn sampler of Hoffman & Gelman
// (Alg. 3): the trajectory doubles in a random direction until the path
// turns back on itself, and the proposed state is drawn among the valid
// leaves with probability proportional to local path weight. The momentum
// proposal supplies the kinetic term of the Hamiltonian.
type NUTS struct {
	target      model.Target
	momentum    model.Proposal
	opts        Options
	rng         *randx.Stream
	divergences int
}

// New returns a NUTS proposal over target using the shared random stream.
// momentum scores the momenta the caller draws before each Rvs call.
func New(target model.Target, momentum model.Proposal, opts Options, rng *randx.Stream) *NUTS {
	return &NUTS{target: target, momentum: momentum, opts: opts, rng: rng}
}

// Divergences reports the number of divergent leaves seen by the most
// recent Rvs call.
func (n *NUTS) Divergences() int { return n.divergences }

// Rvs proposes one new (position, momentum) pair per particle at temperature
// phi. Gradients for the returned positions are recomputed alongside so the
// caller can reuse them. Particles are processed strictly in order to keep
// random-stream consumption reproducible.
func (n *NUTS) Rvs(x, r, grad [][]float64, phi float64) (xPrime, rPrime, gradPrime [][]float64) {
	xPrime = make([][]float64, len(x))
	rPrime = make([][]float64, len(x))
	gradPrime = make([][]float64, len(x))

	n.divergences = 0
	for i := range x {
		xPrime[i], rPrime[i], gradPrime[i] = n.propose(x[i], r[i], grad[i], phi)
	}
	return xPrime, rPrime, gradPrime
}

// propose runs the doubling loop for a single particle.
func (n *NUTS) propose(x0, r0, grad0 []float64, phi float64) (xNew, rNew, gradNew []float64) {
	joint0 := n.target.LogPdf(x0, phi) + n.momentum.LogPdf(r0)
	if math.IsNaN(joint0) || math.IsInf(joint0, 0) {
		// Cannot even evaluate the starting Hamiltonian; keep the particle.
		n.divergences++
		return append([]float64(nil), x0...), append([]float64(nil), r0...), append([]float64(nil), grad0...)
	}

	// Slice variable: u ~ Uniform(0, exp(joint0)), kept in log space.
	logu := joint0 + math.Log(n.rng.Float64())

	t := &tree{
		xMinus: append([]float64(nil), x0...),
		rMinus: append([]float64(nil), r0...),
		gMinus: append([]float64(nil), grad0...),
		xPlus:  append([]float64(nil), x0...),
		rPlus:  append([]float64(nil), r0...),
		gPlus:  append([]float64(nil), grad0...),
		xCand:  append([]float64(nil), x0...),
		rCand:  append([]float64(nil), r0...),
		gCand:  append([]float64(nil), grad0...),
		n:      1,
		s:      true,
	}

	for j := 0; ; j++ {
		var sub *tree
		if n.rng.Float64() < 0.5 {
			sub = n.buildTree(t.xMinus, t.rMinus, t.gMinus, logu, -1, j, phi)
			t.xMinus, t.rMinus, t.gMinus = sub.xMinus, sub.rMinus, sub.gMinus
		} else {
			sub = n.buildTree(t.xPlus, t.rPlus, t.gPlus, logu, +1, j, phi)
			t.xPlus, t.rPlus, t.gPlus = sub.xPlus, sub.rPlus, sub.gPlus
		}

		if sub.s && n.rng.Float64() < float64(sub.n)/float64(t.n) {
			t.xCand, t.rCand, t.gCand = sub.xCand, sub.rCand, sub.gCand
		}
		t.n += sub.n
		t.s = sub.s && noUTurn(t.xMinus, t.xPlus, t.rMinus, t.rPlus)

		if !t.s || j >= n.opts.MaxDepth {
			break
		}
	}

	if n.opts.AcceptReject {
		jointNew := n.target.LogPdf(t.xCand, phi) + n.momentum.LogPdf(t.rCand)
		alpha := math.Exp(jointNew - joint0)
		if !(n.rng.Float64() < alpha) {
			return append([]float64(nil), x0...), append([]float64(nil), r0...), append([]float64(nil), grad0...)
		}
	}

	return t.xCand, t.rCand, t.gCand
}

// tree carries one (sub)trajectory: outermost states in both time
// directions, the current candidate leaf, the count of slice-accepted
// leaves, and the continue flag.
type tree struct {
	xMinus, rMinus, gMinus []float64
	xPlus, rPlus, gPlus    []float64
	xCand, rCand, gCand    []float64
	n                      int
	s                      bool
}

// buildTree recursively constructs a subtree of height j starting from
// (x, r, g) in direction v. A divergent leaf (non-finite or slice-violating
// energy) terminates its branch with zero weight rather than propagating an
// error.
func (n *NUTS) buildTree(x, r, g []float64, logu float64, v, j int, phi float64) *tree {
	if j == 0 {
		xn, rn, gn, logp := Leapfrog(n.target, x, r, g, n.opts.StepSize, phi, v)
		joint := logp + n.momentum.LogPdf(rn)

		t := &tree{
			xMinus: xn, rMinus: rn, gMinus: gn,
			xPlus: xn, rPlus: rn, gPlus: gn,
			xCand: xn, rCand: rn, gCand: gn,
		}
		if math.IsNaN(joint) || math.IsInf(joint, 0) {
			n.divergences++
			return t // n=0, s=false: zero-weight branch
		}
		if logu <= joint {
			t.n = 1
		}
		t.s = logu < joint+deltaMax
		if !t.s {
			n.divergences++
		}
		return t
	}

	// First half of the doubling.
	t1 := n.buildTree(x, r, g, logu, v, j-1, phi)
	if !t1.s {
		return t1
	}

	// Second half grows from the outermost state in direction v.
	var t2 *tree
	if v == -1 {
		t2 = n.buildTree(t1.xMinus, t1.rMinus, t1.gMinus, logu, v, j-1, phi)
		t1.xMinus, t1.rMinus, t1.gMinus = t2.xMinus, t2.rMinus, t2.gMinus
	} else {
		t2 = n.buildTree(t1.xPlus, t1.rPlus, t1.gPlus, logu, v, j-1, phi)
		t1.xPlus, t1.rPlus, t1.gPlus = t2.xPlus, t2.rPlus, t2.gPlus
	}

	if t2.n > 0 && n.rng.Float64() < float64(t2.n)/float64(t1.n+t2.n) {
		t1.xCand, t1.rCand, t1.gCand = t2.xCand, t2.rCand, t2.gCand
	}
	t1.n += t2.n
	t1.s = t2.s && noUTurn(t1.xMinus, t1.xPlus, t1.rMinus, t1.rPlus)
	return t1
}

// noUTurn reports whether the trajectory spanned by the endpoint states is
// still moving apart in both time directions.
func noUTurn(xMinus, xPlus, rMinus, rPlus []float64) bool {
	diff := make([]float64, len(xPlus))
	floats.SubTo(diff, xPlus, xMinus)
	return floats.Dot(diff, rMinus) >= 0 && floats.Dot(diff, rPlus) >= 0
}
