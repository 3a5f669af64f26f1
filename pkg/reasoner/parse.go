package reasoner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError describes structured output that could not be decoded. It is a
// value the calling phase branches on, carried in StructuredResult rather
// than returned as an error.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("reasoner: parse structured output: %s", e.Reason)
}

// DecodeJSON cleans common LLM JSON noise (markdown fences, prose around
// the object) and decodes into out. Returns nil on success.
func DecodeJSON(raw string, out any) *ParseError {
	cleaned := CleanJSON(raw)
	if cleaned == "" {
		return &ParseError{Reason: "no JSON object found", Raw: raw}
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return &ParseError{Reason: err.Error(), Raw: raw}
	}
	return nil
}

// CleanJSON strips markdown code fences and surrounding prose, returning
// the innermost {...} or [...] span.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find the outermost object or array span.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if end := strings.LastIndex(text, "}"); end > objStart {
			return strings.TrimSpace(text[objStart : end+1])
		}
	}
	if arrStart >= 0 {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			return strings.TrimSpace(text[arrStart : end+1])
		}
	}

	return ""
}
