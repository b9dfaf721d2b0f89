package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON recovers the first JSON object from an LLM response using the
// fixed three-step repair strategy: strip code fences, slice the outermost
// {...}, then escape stray control characters inside string literals. Each
// step's candidate is parse-checked; the first that parses wins. Beyond the
// three steps, extraction fails.
func ExtractJSON(raw string) (json.RawMessage, error) {
	candidates := []string{
		stripFences(raw),
	}
	if sliced := sliceObject(candidates[0]); sliced != "" {
		candidates = append(candidates, sliced)
		candidates = append(candidates, sanitizeControlChars(sliced))
	}

	var lastErr error
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if json.Valid([]byte(c)) {
			return json.RawMessage(c), nil
		}
		lastErr = fmt.Errorf("invalid JSON candidate (%d bytes)", len(c))
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("response contains no JSON object")
	}
	return nil, fmt.Errorf("extracting JSON from response: %w", lastErr)
}

// stripFences removes markdown code fences (``` or ```json) wrapping the
// payload, keeping inner content.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	rest := trimmed[start+3:]
	// Drop an optional language tag up to the first newline.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(rest[:nl])
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// sliceObject returns the substring from the first '{' to the matching
// last '}', or "" when no object is present.
func sliceObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// sanitizeControlChars escapes raw control characters that appear inside
// JSON string literals (unescaped newlines and tabs are the usual LLM
// artifacts) and drops other control bytes.
func sanitizeControlChars(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			sb.WriteByte(ch)
			escaped = false
			continue
		}
		switch {
		case inString && ch == '\\':
			sb.WriteByte(ch)
			escaped = true
		case ch == '"':
			inString = !inString
			sb.WriteByte(ch)
		case inString && ch < 0x20:
			switch ch {
			case '\n':
				sb.WriteString(`\n`)
			case '\r':
				sb.WriteString(`\r`)
			case '\t':
				sb.WriteString(`\t`)
			}
			// Other control bytes are dropped.
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}
