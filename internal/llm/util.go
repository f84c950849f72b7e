package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseError is returned when no JSON object can be recovered from a model response
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model response as JSON: %v", e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ParseFailureMarker is carried in the error field of fallback results
const ParseFailureMarker = "Failed to parse AI response"

// DecodeJSON recovers a JSON object from free model text and decodes it into v.
// It tries the greedy span from the first '{' to the last '}', then the whole response with any
// markdown fence removed. On failure v may be partially written and a *ParseError is returned.
func DecodeJSON(text string, v any) error {
	var firstErr error
	if span, ok := braceSpan(text); ok {
		firstErr = json.Unmarshal([]byte(span), v)
		if firstErr == nil {
			return nil
		}
	}
	if err := json.Unmarshal([]byte(CleanJSONBlock(text)), v); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return &ParseError{Raw: text, Cause: firstErr}
	}
	return nil
}

// braceSpan returns text from the first '{' through the last '}'
func braceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Truncate shortens s to at most n bytes for logging without splitting a character
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// CleanJSONBlock removes markdown code block wrappers from JSON responses.
// LLMs often wrap JSON in ```json ... ``` blocks even when instructed not to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip potential language identifier on first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	return text
}
