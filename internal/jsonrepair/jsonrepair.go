// Package jsonrepair implements the permissive structured-output parser of
// spec.md §4.2: an LLM that was asked for JSON rarely emits pure JSON, so this
// package walks a ladder of increasingly forgiving strategies before giving up.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Error is returned when every repair strategy fails to produce valid JSON.
type Error struct {
	Input string
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrepair: could not parse or repair JSON (%d bytes)", len(e.Input))
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// truncationSuffixes are appended, one at a time, during the repair pass to
// try to close a string literal that was cut off mid-token.
var truncationSuffixes = []string{"", `"`, `"]`, `"}]`, `"]]`, `"}}]`}

// Parse runs the strategy ladder against raw LLM output and unmarshals the
// first strategy that yields valid JSON into v.
func Parse(raw string, v interface{}) error {
	repaired, err := Repair(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), v)
}

// Safe runs Parse and, on failure, stores fallback into v instead of
// reporting an error; it returns nothing. For non-critical enrichment parses
// that should never abort a pipeline phase.
func Safe(raw string, v interface{}, fallback interface{}) {
	if err := Parse(raw, v); err != nil {
		if b, mErr := json.Marshal(fallback); mErr == nil {
			_ = json.Unmarshal(b, v)
		}
	}
}

// Repair returns a JSON string recovered from raw LLM text, trying strategies
// in order and stopping at the first that parses.
func Repair(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &Error{Input: raw}
	}

	// 1. Parse as-is.
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	// 2. Strip a markdown fence and parse the interior.
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		interior := strings.TrimSpace(m[1])
		if json.Valid([]byte(interior)) {
			return interior, nil
		}
		trimmed = interior // keep trying against the de-fenced text below
	}

	// 3. Locate the outermost {...} and parse.
	if obj, ok := outermost(trimmed, '{', '}'); ok && json.Valid([]byte(obj)) {
		return obj, nil
	}

	// 4. Locate the outermost [...] and parse.
	if arr, ok := outermost(trimmed, '[', ']'); ok && json.Valid([]byte(arr)) {
		return arr, nil
	}

	// 5. Truncation repair pass: an unmatched opening brace/bracket survives
	// into the candidate text; try closing it with a known truncation suffix
	// plus balancing closers, with and without a trailing comma trimmed.
	if repaired, ok := repairTruncated(trimmed); ok {
		return repaired, nil
	}

	return "", &Error{Input: raw}
}

// outermost returns the substring spanning the first open and its matching
// (depth-balanced) close, ignoring brace/bracket characters inside string
// literals.
func outermost(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
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
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// repairTruncated attempts to close a string that was cut off mid-output by
// the model running out of tokens, per spec.md §4.2 step 5.
func repairTruncated(s string) (string, bool) {
	openBraces := strings.Count(s, "{") - strings.Count(s, "}")
	openBrackets := strings.Count(s, "[") - strings.Count(s, "]")
	if openBraces <= 0 && openBrackets <= 0 {
		return "", false
	}

	trimTrailingComma := func(body string) string {
		trimmedBody := strings.TrimRight(body, " \t\n\r")
		return strings.TrimSuffix(trimmedBody, ",")
	}

	for _, trimComma := range []bool{false, true} {
		body := s
		if trimComma {
			body = trimTrailingComma(s)
		}
		for _, suffix := range truncationSuffixes {
			candidate := body + suffix
			for i := 0; i < openBrackets; i++ {
				candidate += "]"
			}
			for i := 0; i < openBraces; i++ {
				candidate += "}"
			}
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
	}
	return "", false
}
