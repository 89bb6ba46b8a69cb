// Package jsonx parses JSON out of LLM response text. Strict parsing is
// always attempted first; repair steps are applied only as fallbacks, ending
// with the jsonrepair library and a balanced-span scan for JSON embedded in
// prose.
package jsonx

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when no parseable JSON object or array can be
// recovered from the input.
var ErrNoJSON = errors.New("no parseable JSON found")

// Parse returns the first JSON object or array recoverable from text,
// applying lenient repair only when strict parsing fails.
func Parse(text string) (map[string]any, error) {
	candidates := []string{
		text,
		StripFences(text),
	}
	for _, candidate := range candidates {
		if m, ok := strictObject(candidate); ok {
			return m, nil
		}
	}

	cleaned := normalize(StripFences(text))
	if m, ok := strictObject(cleaned); ok {
		return m, nil
	}

	// Library repair on the cleaned text.
	if fixed, err := jsonrepair.JSONRepair(cleaned); err == nil {
		if m, ok := strictObject(fixed); ok {
			return m, nil
		}
	}

	// The model may preface JSON with prose; scan for the first balanced span.
	if span, ok := ExtractBalanced(text); ok {
		if m, ok := strictObject(span); ok {
			return m, nil
		}
		if fixed, err := jsonrepair.JSONRepair(span); err == nil {
			if m, ok := strictObject(fixed); ok {
				return m, nil
			}
		}
	}

	// Last resort: balance dangling closers on the cleaned text.
	if m, ok := strictObject(balanceClosers(cleaned)); ok {
		return m, nil
	}

	return nil, ErrNoJSON
}

func strictObject(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
		return m, true
	}
	// A top-level array is wrapped so callers always get a map.
	var list []any
	if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
		return map[string]any{"items": list}, true
	}
	return nil, false
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// StripFences removes markdown code fences, returning the fenced body when
// one exists, otherwise the input unchanged.
func StripFences(text string) string {
	if match := fencePattern.FindStringSubmatch(text); len(match) == 2 {
		return match[1]
	}
	return strings.ReplaceAll(text, "```", "")
}

var (
	lineCommentPattern  = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingCommaRe     = regexp.MustCompile(`,\s*([}\]])`)
	bareKeyPattern      = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

func normalize(text string) string {
	out := strings.TrimPrefix(text, "\uFEFF")
	// Smart quotes to ASCII.
	replacer := strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")
	out = replacer.Replace(out)
	out = lineCommentPattern.ReplaceAllString(out, "")
	out = blockCommentPattern.ReplaceAllString(out, "")
	out = trailingCommaRe.ReplaceAllString(out, "$1")
	out = bareKeyPattern.ReplaceAllString(out, `$1"$2":`)
	out = strings.TrimSpace(out)
	if !strings.HasPrefix(out, "{") && !strings.HasPrefix(out, "[") {
		if span, ok := ExtractBalanced(out); ok {
			out = span
		}
	}
	return out
}

// ExtractBalanced scans text for a fully balanced {...} or [...] span,
// respecting strings and escapes. Opener positions are tried in order: the
// first span that is valid JSON wins, falling back to the first span that
// merely balances so a later repair step can still fix it.
func ExtractBalanced(text string) (string, bool) {
	firstBalanced := ""
	for start := 0; start < len(text); start++ {
		if text[start] != '{' && text[start] != '[' {
			continue
		}
		span, ok := balancedFrom(text, start)
		if !ok {
			continue
		}
		if json.Valid([]byte(span)) {
			return span, true
		}
		if firstBalanced == "" {
			firstBalanced = span
		}
	}
	if firstBalanced != "" {
		return firstBalanced, true
	}
	return "", false
}

// balancedFrom returns the balanced span opening at start, if one closes
// before the text ends.
func balancedFrom(text string, start int) (string, bool) {
	opener := text[start]
	closer := byte('}')
	if opener == '[' {
		closer = ']'
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
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// balanceClosers appends missing closing brackets inferred from the bracket
// stack of an unterminated JSON prefix.
func balanceClosers(text string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	out := text
	if inString {
		out += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out += string(stack[i])
	}
	return out
}
