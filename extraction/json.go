package extraction

import "strings"

// FindJSONObject returns the first balanced {...} in raw. Braces inside
// JSON strings are ignored, so prose or markdown fences around the object
// do not matter. Text before the first '{' is not scanned for strings.
func FindJSONObject(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", &ParseError{Reason: "no JSON object found in response"}
	}

	inString := false
	escape := false
	depth := 0
	for i := start; i < len(raw); i++ {
		b := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if b == '\\' {
				escape = true
				continue
			}
			if b == '"' {
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}

	return "", &ParseError{Reason: "unterminated JSON object in response"}
}
