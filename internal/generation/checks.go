package generation

import (
	"fmt"
	"strings"
)

// ScriptCheck is the result of the static, simulator-free script review.
type ScriptCheck struct {
	Valid       bool     `json:"valid"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// CheckScript looks for missing protocol scaffolding and common mistakes.
// Findings are advisory.
func CheckScript(code string) ScriptCheck {
	c := ScriptCheck{Valid: true, Warnings: []string{}, Suggestions: []string{}}

	if !strings.Contains(code, "protocol_api") {
		c.Valid = false
		c.Warnings = append(c.Warnings, "Missing protocol_api import")
	}
	if !strings.Contains(code, "def run(") {
		c.Valid = false
		c.Warnings = append(c.Warnings, "Missing run function")
	}
	if !strings.Contains(code, "load_labware") {
		c.Warnings = append(c.Warnings, "No labware loaded")
	}
	if !strings.Contains(code, "load_instrument") {
		c.Warnings = append(c.Warnings, "No pipette loaded")
	}
	if strings.Contains(code, "pick_up_tip()") && !strings.Contains(code, "drop_tip()") {
		c.Warnings = append(c.Warnings, "Tips picked up but not dropped")
	}
	if strings.Contains(code, "transfer(") && !strings.Contains(code, "new_tip=") {
		c.Suggestions = append(c.Suggestions, "Consider specifying new_tip parameter for transfers")
	}
	return c
}

// ScriptSummary describes what a protocol does.
type ScriptSummary struct {
	Transfers         int    `json:"total_transfers"`
	Mixes             int    `json:"total_mixes"`
	HasIncubation     bool   `json:"has_incubation"`
	HasHeating        bool   `json:"has_heating"`
	EstimatedDuration string `json:"estimated_duration"`
}

// Summarize counts liquid-handling steps and estimates run time at 30s per
// transfer and 20s per mix.
func Summarize(code string) ScriptSummary {
	lower := strings.ToLower(code)
	transfers := strings.Count(code, "transfer(")
	mixes := strings.Count(code, "mix(")
	return ScriptSummary{
		Transfers:         transfers,
		Mixes:             mixes,
		HasIncubation:     strings.Contains(lower, "incubate"),
		HasHeating:        strings.Contains(lower, "heat") || strings.Contains(lower, "60°c"),
		EstimatedDuration: formatDuration(transfers*30 + mixes*20),
	}
}

func formatDuration(total int) string {
	if total < 60 {
		return fmt.Sprintf("%d seconds", total)
	}
	minutes, seconds := total/60, total%60
	if seconds == 0 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%d minutes %d seconds", minutes, seconds)
}
