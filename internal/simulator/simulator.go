// Package simulator runs Opentrons protocols through opentrons_simulate and
// reports the run log as leveled entries.
package simulator

import (
	"context"
	"errors"

	"github.com/ashureev/catalyze/internal/domain"
)

// ErrUnavailable is returned when no simulator backend can be reached.
var ErrUnavailable = errors.New("simulator unavailable")

// Simulator executes the protocol file at protocolPath and returns its log.
// A non-nil error means the simulation could not be carried out at all; a
// protocol that fails inside the simulator is reported through the log.
type Simulator interface {
	Simulate(ctx context.Context, protocolPath string) ([]domain.LogEntry, error)
}

// Func adapts a function to the Simulator interface.
type Func func(ctx context.Context, protocolPath string) ([]domain.LogEntry, error)

// Simulate calls f.
func (f Func) Simulate(ctx context.Context, protocolPath string) ([]domain.LogEntry, error) {
	return f(ctx, protocolPath)
}

// Disabled always reports ErrUnavailable.
type Disabled struct{}

// Simulate implements Simulator.
func (Disabled) Simulate(context.Context, string) ([]domain.LogEntry, error) {
	return nil, ErrUnavailable
}
