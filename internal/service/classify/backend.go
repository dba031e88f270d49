// Package classify maps samples to labelled candidates, either in-process
// or through a remote service.
package classify

import (
	"context"
	"errors"

	"ecobin/internal/dto"
)

var (
	// ErrBackendNotReady is returned while a backend is still initializing.
	ErrBackendNotReady = errors.New("classification backend not ready")
	// ErrMalformedResponse is returned when a backend answers with nothing usable.
	ErrMalformedResponse = errors.New("malformed classification response")
)

// Backend classifies one sample into candidate labels.
type Backend interface {
	Name() string
	Ready() bool
	Classify(ctx context.Context, sample dto.Sample) ([]dto.Candidate, error)
}

// SelectBest returns the highest-probability candidate. Only a strictly
// greater probability replaces the current best, so the first of several
// equal maxima wins.
func SelectBest(candidates []dto.Candidate) (dto.Candidate, bool) {
	if len(candidates) == 0 {
		return dto.Candidate{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Probability > best.Probability {
			best = c
		}
	}
	return best, true
}
