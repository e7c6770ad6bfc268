package salvage

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	errNoObject = errors.New("no JSON object found")
	errNoPairs  = errors.New("no key-value pairs found")

	fencePattern         = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\n?```\\s*$")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	spanPattern          = regexp.MustCompile(`(?s)\{.*\}`)
	pairPattern          = regexp.MustCompile(
		`"([A-Za-z_][A-Za-z0-9_-]*)"\s*:\s*("(?:[^"\\]|\\.)*"|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?|true|false|null)`,
	)
)

// Direct strips code fences and control characters and parses the remainder.
func Direct(text string) (map[string]any, error) {
	return decodeObject(clean(text))
}

// Repair closes unterminated strings, objects and arrays, drops trailing
// commas and retries. It handles output truncated by a token limit.
func Repair(text string) (map[string]any, error) {
	s := clean(text)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errNoObject
	}
	s = s[start:]

	var (
		stack    []byte
		inString bool
		escaped  bool
		end      = len(s)
	)
scan:
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch ch {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				end = i + 1
				break scan
			}
		}
	}

	var b strings.Builder
	b.WriteString(s[:end])
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}

	repaired := strings.TrimRight(b.String(), " \t\r\n")
	repaired = strings.TrimRight(repaired, ",")
	if strings.HasSuffix(repaired, ":") {
		repaired += "null"
	}
	for i := len(stack) - 1; i >= 0; i-- {
		repaired += string(stack[i])
	}
	repaired = trailingCommaPattern.ReplaceAllString(repaired, "$1")

	return decodeObject(repaired)
}

// ExtractSpan parses the largest brace-delimited span, then the first
// balanced object, embedded in surrounding prose.
func ExtractSpan(text string) (map[string]any, error) {
	s := clean(text)
	if span := spanPattern.FindString(s); span != "" {
		if obj, err := decodeObject(span); err == nil {
			return obj, nil
		}
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if span, ok := balancedObject(s[i:]); ok {
			if obj, err := decodeObject(span); err == nil {
				return obj, nil
			}
		}
	}
	return nil, errNoObject
}

// ExtractPairs collects every `"key": scalar` pair in the text into a flat
// object. Later occurrences of a key do not override earlier ones.
func ExtractPairs(text string) (map[string]any, error) {
	matches := pairPattern.FindAllStringSubmatch(clean(text), -1)
	if len(matches) == 0 {
		return nil, errNoPairs
	}

	out := make(map[string]any, len(matches))
	for _, m := range matches {
		if _, seen := out[m[1]]; seen {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(m[2]), &v); err != nil {
			continue
		}
		out[m[1]] = v
	}
	if len(out) == 0 {
		return nil, errNoPairs
	}
	return out, nil
}

// balancedObject returns the first complete top-level object in s,
// which must start with '{'. Braces inside strings are ignored.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// clean removes a surrounding code fence and control characters other
// than common whitespace.
func clean(text string) string {
	s := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if strings.HasPrefix(s, "```") {
		// Unterminated fence from a truncated reply.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNoObject
	}
	return obj, nil
}
