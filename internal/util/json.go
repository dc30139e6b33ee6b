package util

import "strings"

// FirstJSONObject scans text for the first balanced top-level JSON object and
// returns it. Braces inside string literals (including escaped quotes) do not
// affect balancing. The second return is false when no balanced object exists.
func FirstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

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
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

// StripCodeFences removes a surrounding markdown code fence (``` or ```json)
// if the text is wrapped in one, returning the inner content. Text without a
// fence is returned unchanged.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		// Drop the language hint line (e.g. "json").
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// Truncate shortens s to at most n bytes, appending an ellipsis marker when
// content was dropped. Used to carry raw model output in audit payloads
// without unbounded growth.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
