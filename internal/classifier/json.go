package classifier

import (
	"errors"
	"strings"
)

// ErrNoJSONObject is returned when no balanced {...} block is present.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// ExtractJSON returns the first balanced {...} block in s. It tolerates code
// fences, preambles, and postambles, and ignores braces inside JSON strings.
func ExtractJSON(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], nil
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSONObject
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
