package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// leadingThink matches a reasoning block some models emit before the answer.
var leadingThink = regexp.MustCompile(`(?s)^\s*<think>.*?</think>`)

var errNoJSON = errors.New("no JSON document in response")

// ExtractJSON returns the first complete JSON object or array in a model
// response. Prose, markdown fences and a leading <think> block around the
// document are ignored. The document is returned byte for byte.
func ExtractJSON(response string) (string, error) {
	s := leadingThink.ReplaceAllString(response, "")

	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		var doc json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&doc); err == nil {
			return string(doc), nil
		}
	}
	return "", errNoJSON
}
