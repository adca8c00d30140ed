package smc

import "errors"

var (
	// ErrDimensionMismatch is returned at construction when the initial
	// sample proposal and the target disagree on dimensionality.
	ErrDimensionMismatch = errors.New("proposal and target dimensionality mismatch")

	// ErrDegenerateWeights is returned when every log-weight is -Inf; ESS
	// and resampling are undefined past that point.
	ErrDegenerateWeights = errors.New("all particle log-weights are -Inf")

	// ErrTemperingSearch is returned when no temperature in
	// [phi_current, 1] satisfies the target degeneracy level.
	ErrTemperingSearch = errors.New("tempering search failed to find next temperature")
)
