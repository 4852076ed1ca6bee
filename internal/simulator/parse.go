package simulator

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
)

// ParseOutput converts opentrons_simulate output into log entries.
//
// Run-log lines on stdout become info entries, or warnings when they carry a
// Python warning marker. A traceback on stderr collapses into one error entry
// holding the final exception line. A nonzero exit code without any error
// entry adds a generic one.
func ParseOutput(stdout, stderr string, exitCode int) []domain.LogEntry {
	entries := []domain.LogEntry{}

	for _, line := range lines(stdout) {
		entries = append(entries, domain.LogEntry{Level: levelOf(line), Message: line})
	}

	errLines := lines(stderr)
	inTraceback := false
	var exception string
	for _, line := range errLines {
		if strings.HasPrefix(line, "Traceback (most recent call last)") {
			inTraceback = true
			continue
		}
		if inTraceback {
			if isExceptionLine(line) {
				exception = line
			}
			continue
		}
		entries = append(entries, domain.LogEntry{Level: levelOf(line), Message: line})
	}
	if inTraceback {
		if exception == "" && len(errLines) > 0 {
			exception = errLines[len(errLines)-1]
		}
		entries = append(entries, domain.LogEntry{Level: domain.LevelError, Message: exception})
	}

	if exitCode != 0 && !hasError(entries) {
		entries = append(entries, domain.LogEntry{
			Level:   domain.LevelError,
			Message: fmt.Sprintf("simulation exited with status %d", exitCode),
		})
	}
	return entries
}

func lines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func levelOf(line string) string {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "warning"),
		strings.Contains(line, "UserWarning"),
		strings.Contains(line, "DeprecationWarning"),
		strings.Contains(line, "RuntimeWarning"):
		return domain.LevelWarning
	default:
		return domain.LevelInfo
	}
}

// isExceptionLine matches the "module.SomeError: message" line that ends a traceback.
func isExceptionLine(line string) bool {
	name, _, _ := strings.Cut(line, ":")
	if name == "" || strings.ContainsAny(name, " \t(") {
		return false
	}
	return strings.Contains(name, "Error") || strings.HasSuffix(name, "Exception")
}

func hasError(entries []domain.LogEntry) bool {
	for _, e := range entries {
		if e.Level == domain.LevelError {
			return true
		}
	}
	return false
}
