package simulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/ashureev/catalyze/internal/domain"
)

// DefaultBinary is the simulator entrypoint shipped with the opentrons package.
const DefaultBinary = "opentrons_simulate"

// LocalSimulator runs the simulator binary as a child process.
type LocalSimulator struct {
	binary string
	logger *slog.Logger
}

// NewLocalSimulator creates a simulator that executes binary on the host.
func NewLocalSimulator(binary string, logger *slog.Logger) *LocalSimulator {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSimulator{binary: binary, logger: logger}
}

// Simulate implements Simulator.
func (s *LocalSimulator) Simulate(ctx context.Context, protocolPath string) ([]domain.LogEntry, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary, protocolPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("simulate %s: %w", protocolPath, ctx.Err())
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, s.binary)
		default:
			return nil, fmt.Errorf("run %s: %w", s.binary, err)
		}
	}

	s.logger.Debug("Local simulation finished", "binary", s.binary, "exit_code", exitCode)
	return ParseOutput(stdout.String(), stderr.String(), exitCode), nil
}

// Available reports whether the binary can be found on PATH.
func (s *LocalSimulator) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}
