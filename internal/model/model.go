// Package model defines the adapter surface the sampler drives. A Target
// exposes a log-density interpolated by a temperature phi together with its
// gradient; the sampler never sees how the model itself is parsed or
// compiled. The package also carries a reference multivariate Gaussian
// target and proposal used by the tests and the CLI.
package model

// Target is the probabilistic-model adapter consumed by the sampler.
//
// LogPdf and GradLogPdf take an annealing parameter phi in [0, 1]. At phi=1
// they evaluate the true target density; at phi=0 an easy initial density;
// values in between interpolate monotonically.
type Target interface {
	Dim() int
	LogPdf(x []float64, phi float64) float64
	GradLogPdf(x []float64, phi float64) []float64
}

// Constrainer is implemented by targets whose sampling space is a
// reparameterization of the reporting space. Constrain maps an unconstrained
// position to the constrained space before point estimates are formed.
type Constrainer interface {
	ConstrainedDim() int
	Constrain(x []float64) []float64
}

// Proposal draws initial particle positions and scores them. Implementations
// are expected to hold the shared random stream so draw order stays
// reproducible.
type Proposal interface {
	Dim() int
	Rand() []float64
	LogPdf(x []float64) float64
}
