package generation

import (
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
)

type adviceRule struct {
	keywords []string
	advice   string
}

var logAdvice = []adviceRule{
	{[]string{"import", "module"}, "Check import statements and ensure all required modules are imported"},
	{[]string{"pipette"}, "Verify pipette configuration and tip rack setup"},
	{[]string{"labware"}, "Check labware definitions and deck positions"},
	{[]string{"volume", "capacity"}, "Verify volume calculations and pipette capacity limits"},
	{[]string{"deck", "position"}, "Check deck layout and labware positioning"},
	{[]string{"temperature"}, "Verify temperature module configuration and parameters"},
}

var genericAdvice = []string{
	"Review protocol structure and ensure all steps are properly defined",
	"Check for syntax errors and proper Opentrons API usage",
}

// ClassifyLog splits simulator log entries into errors and warnings. Entries
// tagged error, or whose message mentions error, failed, or exception and
// are not tagged warning, are errors. Each entry is counted once.
func ClassifyLog(entries []domain.LogEntry) (errs, warnings []string) {
	errs, warnings = []string{}, []string{}
	for _, e := range entries {
		level := strings.ToLower(strings.TrimSpace(e.Level))
		switch {
		case level == domain.LevelError:
			errs = append(errs, e.Message)
		case level == domain.LevelWarning:
			warnings = append(warnings, e.Message)
		case mentionsFailure(e.Message):
			errs = append(errs, e.Message)
		}
	}
	return errs, warnings
}

func mentionsFailure(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "exception")
}

// Suggest maps error messages to remediation hints. When nothing matches
// but the run produced errors or warnings, two generic hints are returned.
func Suggest(errs, warnings []string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, e := range errs {
		lower := strings.ToLower(e)
		for _, rule := range logAdvice {
			if !containsAny(lower, rule.keywords) {
				continue
			}
			if _, dup := seen[rule.advice]; dup {
				continue
			}
			seen[rule.advice] = struct{}{}
			out = append(out, rule.advice)
		}
	}
	if len(out) == 0 && (len(errs) > 0 || len(warnings) > 0) {
		out = append(out, genericAdvice...)
	}
	return out
}

// ErrorSuggestions derives hints from an infrastructure failure message.
func ErrorSuggestions(msg string) []string {
	lower := strings.ToLower(msg)
	var out []string
	if strings.Contains(lower, "syntax") {
		out = append(out, "Fix Python syntax errors in the protocol code")
	}
	if strings.Contains(lower, "indentation") {
		out = append(out, "Check Python indentation and code structure")
	}
	if strings.Contains(lower, "name") && strings.Contains(lower, "not defined") {
		out = append(out, "Define all required variables and functions before use")
	}
	if strings.Contains(lower, "import") {
		out = append(out, "Add missing import statements for required modules")
	}
	if strings.Contains(lower, "protocol") {
		out = append(out, "Ensure protocol function is properly defined with correct signature")
	}
	if len(out) == 0 {
		return []string{"Review the protocol code for common issues and try again"}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
