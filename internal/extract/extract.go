// Package extract recovers JSON objects embedded in free-form model output.
package extract

import (
	"encoding/json"
	"sort"
	"strings"
)

type span struct {
	start, end int
}

// TrailingJSON returns the last balanced JSON object in text. Candidates are
// tried by closing position from the end of the text backward; among spans
// closing at the same brace the outermost wins. Anything that does not decode
// to a JSON object is skipped.
func TrailingJSON(text string) (map[string]any, bool) {
	for _, c := range Candidates(text) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// Candidates lists every balanced {...} span of text in the order
// TrailingJSON tries them. Text is scanned once: quotes only open strings
// inside a span, and braces inside strings are ignored.
func Candidates(text string) []string {
	if !strings.Contains(text, "{") {
		return nil
	}

	var (
		spans    []span
		open     []int // indices of unclosed braces
		inString bool
		escape   bool
	)
	for i := 0; i < len(text); i++ {
		b := text[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if n := len(open); n > 0 {
				spans = append(spans, span{start: open[n-1], end: i})
				open = open[:n-1]
			}
		}
	}

	sort.SliceStable(spans, func(a, b int) bool {
		if spans[a].end != spans[b].end {
			return spans[a].end > spans[b].end
		}
		return spans[a].start < spans[b].start
	})

	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, text[s.start:s.end+1])
	}
	return out
}

// String returns the string field key of obj, or "".
func String(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
