package domain

import (
	"regexp"
	"strings"
)

// Platform identifies the liquid-handling robot a protocol targets.
type Platform string

const (
	PlatformOT2   Platform = "ot2"
	PlatformFlex  Platform = "flex"
	PlatformOther Platform = "other"
)

var platformWords = map[Platform]*regexp.Regexp{
	PlatformFlex: regexp.MustCompile(`(?i)\bflex\b`),
	PlatformOT2:  regexp.MustCompile(`(?i)\bot-?2\b`),
}

// MentionsPlatform reports whether text names p as a whole word, so
// "flexible" does not select the Flex.
func MentionsPlatform(text string, p Platform) bool {
	re, ok := platformWords[p]
	return ok && re.MatchString(text)
}

// ParsePlatform normalizes a platform hint. Unknown values map to PlatformOther.
func ParsePlatform(s string) Platform {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ot2", "ot-2", "ot_2":
		return PlatformOT2
	case "flex", "ot3", "ot-3":
		return PlatformFlex
	case "":
		return ""
	default:
		return PlatformOther
	}
}

// DetectPlatform picks the platform for a request: an explicit hint wins,
// then platform words in the text, then fallback.
func DetectPlatform(hint, text string, fallback Platform) Platform {
	if p := ParsePlatform(hint); p != "" {
		return p
	}
	switch {
	case MentionsPlatform(text, PlatformFlex):
		return PlatformFlex
	case MentionsPlatform(text, PlatformOT2):
		return PlatformOT2
	default:
		return fallback
	}
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryContext carries optional request context alongside the query text.
type QueryContext struct {
	ConversationHistory []Message `json:"conversation_history,omitempty"`
	PlatformHint        string    `json:"platform_hint,omitempty"`
	ThreadID            string    `json:"thread_id,omitempty"`
	// Memory is the summarized thread context loaded from the conversation store.
	Memory string `json:"-"`
}

// Query is an immutable user request.
type Query struct {
	Text    string       `json:"query"`
	Context QueryContext `json:"context"`
}

// RouterResult is the response contract returned for every query.
type RouterResult struct {
	Success     bool     `json:"success"`
	Response    string   `json:"response"`
	Intent      string   `json:"intent"`
	Confidence  float64  `json:"confidence"`
	Code        string   `json:"code,omitempty"`
	Platform    string   `json:"platform,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Attempts    int      `json:"attempts,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	ThreadID    string   `json:"thread_id,omitempty"`
}
