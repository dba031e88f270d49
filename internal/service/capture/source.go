// Package capture provides the input sources a detection loop samples from.
package capture

import (
	"errors"

	"ecobin/internal/dto"
)

var (
	// ErrSourceInactive is returned when sampling a source that is switched off.
	ErrSourceInactive = errors.New("source is not active")
	// ErrNoFrame is returned while an active source has nothing to hand out yet.
	ErrNoFrame = errors.New("no frame available")
)

// Source is an input that yields samples only while active.
type Source interface {
	Name() string
	Activate() error
	Deactivate() error
	Active() bool
	Sample() (dto.Sample, error)
}
