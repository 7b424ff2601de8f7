// Package sanitize repairs malformed LLM completions into structured data.
//
// Model output is untrusted: completions arrive wrapped in markdown fences,
// prefixed with commentary, written with Python literal spellings, or cut
// off mid-object. The repair chain here is strictly best-effort and strictly
// ordered (each stage only runs when a strict parse of the previous stage's
// output failed), and the package never returns an error: unrecoverable
// input degrades to an empty mapping so callers can proceed with partial data.
package sanitize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Value runs the repair chain and returns the parsed structured value
// (map[string]any or []any) and whether any stage produced a strict parse.
// On total failure it returns an empty map and false.
func Value(raw string) (any, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return map[string]any{}, false
	}

	if v, ok := tryParse(s); ok {
		return v, true
	}

	for _, step := range chain {
		s = step(s)
		if v, ok := tryParse(s); ok {
			return v, true
		}
	}

	if m, ok := scavengePairs(s); ok {
		return m, true
	}
	return map[string]any{}, false
}

// Map is Value restricted to mappings: a top-level array or scalar result
// degrades to an empty map.
func Map(raw string) map[string]any {
	v, _ := Value(raw)
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// repairStep transforms candidate text; stages run in order and accumulate.
type repairStep func(string) string

var chain = []repairStep{
	stripFences,
	sliceSpan,
	normalizeLiterals,
}

func tryParse(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// Trailing garbage after the first value means the slice stage hasn't
	// isolated the payload yet; reject so later stages get a chance.
	if dec.More() {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return normalizeNumbers(v), true
	default:
		return nil, false
	}
}

// normalizeNumbers converts json.Number leaves to float64 so sanitized
// values compare equal regardless of which stage produced them.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}

var reFenceOpen = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*")

// stripFences removes markdown code-fence markers anywhere in the text.
func stripFences(s string) string {
	return strings.TrimSpace(reFenceOpen.ReplaceAllString(s, ""))
}

// sliceSpan cuts the text down to the first opening brace/bracket
// (whichever occurs earlier) through the matching last close, discarding
// surrounding commentary.
func sliceSpan(s string) string {
	ob, cb := strings.IndexByte(s, '{'), strings.IndexByte(s, '[')
	var clos byte
	var start int
	switch {
	case ob == -1 && cb == -1:
		return s
	case cb == -1 || (ob != -1 && ob < cb):
		clos, start = '}', ob
	default:
		clos, start = ']', cb
	}
	end := strings.LastIndexByte(s, clos)
	if end <= start {
		return s
	}
	return s[start : end+1]
}

var (
	rePyNone       = regexp.MustCompile(`\bNone\b`)
	rePyTrue       = regexp.MustCompile(`\bTrue\b`)
	rePyFalse      = regexp.MustCompile(`\bFalse\b`)
	reSingleQuoted = regexp.MustCompile(`'([^'\\]*(?:\\.[^'\\]*)*)'`)
	reTrailComma   = regexp.MustCompile(`,\s*([}\]])`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$|([,{\[\s])//[^\n]*`)
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// normalizeLiterals rewrites Python/JS spellings into JSON: None/True/False
// keywords, single-quoted strings, trailing commas, line and block comments.
// Quote conversion is heuristic; the strict parse afterwards is the judge.
func normalizeLiterals(s string) string {
	s = reBlockComment.ReplaceAllString(s, "")
	s = reLineComment.ReplaceAllString(s, "$1")
	s = rePyNone.ReplaceAllString(s, "null")
	s = rePyTrue.ReplaceAllString(s, "true")
	s = rePyFalse.ReplaceAllString(s, "false")
	s = reSingleQuoted.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[1 : len(m)-1]
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		return `"` + inner + `"`
	})
	s = reTrailComma.ReplaceAllString(s, "$1")
	return s
}

var reKeyValue = regexp.MustCompile(`"([^"\n]+)"\s*:\s*("(?:[^"\\]|\\.)*"|true|false|null|-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)`)

// scavengePairs is the last-resort stage: pull out whatever "key": value
// pairs survive in the wreckage and rebuild a flat mapping, typing each
// value by its literal shape.
func scavengePairs(s string) (map[string]any, bool) {
	matches := reKeyValue.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, false
	}
	m := make(map[string]any, len(matches))
	for _, match := range matches {
		key, lit := match[1], match[2]
		if _, exists := m[key]; exists {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(lit), &v); err != nil {
			continue
		}
		m[key] = v
	}
	if len(m) == 0 {
		return nil, false
	}
	return m, true
}
