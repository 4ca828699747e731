package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength caps SQL in log lines.
	MaxQueryLogLength = 160
	// RedactedText replaces any secret removed from a log value.
	RedactedText = "[REDACTED]"
)

// redaction rewrites one kind of secret.
type redaction struct {
	pattern *regexp.Regexp
	replace string
}

var (
	// key=value credentials in DSNs and query strings, keyword kept.
	passwordParam = redaction{regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`), "${1}=" + RedactedText}
	apiKeyParam   = redaction{regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`), "${1}=" + RedactedText}

	bearerToken = redaction{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`), "Bearer " + RedactedText}
	providerKey = redaction{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`), RedactedText}

	// user:pass@host in URLs; the host is dropped too since it is often internal.
	urlUserinfo = redaction{regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`), "://" + RedactedText + "@" + RedactedText}
)

// errorRedactions apply to store and provider errors, which may echo a DSN or
// an Authorization header.
var errorRedactions = []redaction{passwordParam, bearerToken, apiKeyParam, providerKey, urlUserinfo}

// queryRedactions apply to SQL, where only inline parameters can leak.
var queryRedactions = []redaction{passwordParam, apiKeyParam}

var whitespace = regexp.MustCompile(`\s+`)

func redact(s string, rules []redaction) string {
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replace)
	}
	return s
}

// SanitizeError renders err with credentials removed. Use it for any error
// from the store or the model provider before logging or returning it.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redact(err.Error(), errorRedactions)
}

// SanitizeQuery flattens SQL onto one line, truncates it and removes inline
// credentials. Template SQL spans many lines; logs get one.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	flat := strings.TrimSpace(whitespace.ReplaceAllString(query, " "))
	return redact(TruncateString(flat, MaxQueryLogLength), queryRedactions)
}

// TruncateString cuts s to maxLen bytes and marks the cut with "...".
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
