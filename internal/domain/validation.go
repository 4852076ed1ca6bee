package domain

import "time"

// Log levels reported by the simulator.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// LogEntry is one diagnostic line produced by a simulation run.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ValidationResult is the verdict for one candidate protocol.
type ValidationResult struct {
	Success        bool          `json:"success"`
	Errors         []string      `json:"errors"`
	Warnings       []string      `json:"warnings"`
	Suggestions    []string      `json:"suggestions"`
	SimulationTime time.Duration `json:"simulation_time,omitempty"`
	Simulated      bool          `json:"simulated"`
	RawLog         []LogEntry    `json:"raw_log,omitempty"`
}

// NewValidationResult builds a result whose Success follows from errs.
// Nil slices are normalized to empty ones.
func NewValidationResult(errs, warnings, suggestions []string) ValidationResult {
	return ValidationResult{
		Success:     len(errs) == 0,
		Errors:      nonNil(errs),
		Warnings:    nonNil(warnings),
		Suggestions: nonNil(suggestions),
	}
}

// ApplyTo copies the verdict into a router response.
func (v ValidationResult) ApplyTo(r *RouterResult) {
	r.Success = v.Success
	r.Errors = append([]string(nil), v.Errors...)
	r.Warnings = append([]string(nil), v.Warnings...)
	r.Suggestions = append([]string(nil), v.Suggestions...)
}

// ValidationFromRouterResult recovers the verdict carried by a router response.
func ValidationFromRouterResult(r RouterResult) ValidationResult {
	v := NewValidationResult(
		append([]string(nil), r.Errors...),
		append([]string(nil), r.Warnings...),
		append([]string(nil), r.Suggestions...),
	)
	v.Success = r.Success
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
