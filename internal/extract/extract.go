// Package extract recovers a JSON value from free-form model output.
//
// Models are asked to answer with a JSON object, but they routinely wrap it
// in a markdown fence, surround it with prose, or leave trailing commas. JSON
// takes the first ```json fenced block if there is one, otherwise the span
// from the first '{' to the last '}', and decodes it, retrying once after
// stripping trailing commas. It never returns an error: callers treat a
// false ok as the normal "nothing extracted" case.
package extract

import (
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

var (
	jsonFence      = regexp.MustCompile("(?is)```json\\b\\s*(.*?)```")
	trailingObject = regexp.MustCompile(`,\s*}`)
	trailingArray  = regexp.MustCompile(`,\s*]`)
)

// JSON returns the value decoded from text and true, or nil and false when
// no candidate exists or neither the strict nor the repaired parse succeeds.
//
// A labelled fence wins even when its content is broken; the brace span is
// only consulted when no labelled fence exists. The brace span is purely
// textual, so text holding several independent objects usually yields
// nothing.
func JSON(text string) (any, bool) {
	cand, ok := candidate(text)
	if !ok {
		return nil, false
	}
	if v, ok := decode(cand); ok {
		return v, true
	}
	return decode(repair(cand))
}

// Object is JSON narrowed to objects. It returns an empty, non-nil map when
// nothing was extracted or the value is not an object.
func Object(text string) map[string]any {
	v, ok := JSON(text)
	if !ok {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func candidate(text string) (string, bool) {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// repair drops commas that directly precede a closing brace or bracket.
func repair(s string) string {
	s = trailingObject.ReplaceAllString(s, "}")
	return trailingArray.ReplaceAllString(s, "]")
}

// decode parses exactly one JSON value; trailing non-whitespace fails.
func decode(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return v, true
}
