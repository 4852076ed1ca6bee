// Package domain contains core domain types for the Catalyze service.
package domain

import (
	"fmt"
	"strings"
)

// Intent is the closed category a query is routed to.
type Intent string

const (
	IntentResearch Intent = "research"
	IntentProtocol Intent = "protocol"
	IntentAutomate Intent = "automate"
	IntentSafety   Intent = "safety"
	IntentUnknown  Intent = "unknown"
)

// Intents lists the routable intents in tie-break order.
var Intents = []Intent{IntentAutomate, IntentProtocol, IntentSafety, IntentResearch}

// ParseIntent maps free text (case-insensitive) onto an Intent.
// Anything outside the closed set becomes IntentUnknown.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentResearch:
		return IntentResearch
	case IntentProtocol:
		return IntentProtocol
	case IntentAutomate:
		return IntentAutomate
	case IntentSafety:
		return IntentSafety
	default:
		return IntentUnknown
	}
}

// Description returns a human-readable description of the intent.
func (i Intent) Description() string {
	switch i {
	case IntentResearch:
		return "Chemistry research questions, explanations, and compound lookups"
	case IntentProtocol:
		return "Lab protocol generation and experimental procedures"
	case IntentAutomate:
		return "Lab automation scripts and robotic systems"
	case IntentSafety:
		return "Safety analysis and hazard assessment"
	default:
		return "Unable to classify query"
	}
}

// ScoredIntent is a secondary intent with its score normalized against the best.
type ScoredIntent struct {
	Intent Intent  `json:"intent"`
	Score  float64 `json:"score"`
}

// ClassificationResult is the single decision produced for a query.
type ClassificationResult struct {
	Intent           Intent         `json:"intent"`
	Confidence       float64        `json:"confidence"`
	Entities         []string       `json:"entities"`
	Reasoning        string         `json:"reasoning"`
	SecondaryIntents []ScoredIntent `json:"secondary_intents,omitempty"`
	// Rejected is set only when the guardrail refused the query.
	Rejected bool `json:"rejected,omitempty"`
}

func (c ClassificationResult) String() string {
	return fmt.Sprintf("%s (%.2f)", c.Intent, c.Confidence)
}

// ClampConfidence bounds v to [0,1].
func ClampConfidence(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
