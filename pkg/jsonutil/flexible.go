// Package jsonutil tolerates the loose typing language models use in JSON answers.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ScalarString converts a scalar JSON value to text. Models answer bare years
// as numbers as often as strings, so 2023 and "2023" both yield "2023".
// Null, arrays and objects report ok=false.
func ScalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '[', '{':
		return "", false
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	f, err := n.Float64()
	if err != nil {
		return "", false
	}
	// 2023.0 is still a year.
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'g', -1, 64), true
}

// ScalarStrings converts each value with ScalarString, trims it and drops
// blanks and non-scalars.
func ScalarStrings(raws []json.RawMessage) []string {
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		s, ok := ScalarString(raw)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
