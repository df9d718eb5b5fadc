// Package redact provides helpers for stripping sensitive values from log
// output and structured data before it leaves the process boundary.
//
// # Threat model
//
// Values that must never appear verbatim in logs:
//   - LINE channel secrets and access tokens, LLM API keys
//   - LINE user identifiers (U + 32 hex), which identify a person
//
// Group and room identifiers are kept: they are needed to correlate a log line
// with a conversation and do not identify an individual.
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.  It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

// lineUserIDPattern matches LINE user identifiers.
var lineUserIDPattern = regexp.MustCompile(`U[0-9a-f]{32}`)

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, apiKey, channelToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// UserIDs masks every LINE user identifier in s, keeping the leading "U" and
// the last four hex digits so related log lines can still be matched by eye.
func UserIDs(s string) string {
	return lineUserIDPattern.ReplaceAllStringFunc(s, MaskUserID)
}

// MaskUserID masks a single identifier. Strings that are not LINE user IDs
// are returned unchanged.
func MaskUserID(id string) string {
	if !lineUserIDPattern.MatchString(id) || len(id) != 33 {
		return id
	}
	return "U" + strings.Repeat("x", 28) + id[29:]
}

// Map returns a shallow copy of m with values replaced by [REDACTED] for
// every key whose name suggests it contains a secret (password, token, key,
// secret, credential, auth).  String values under "userId" keys are masked
// with MaskUserID.  Nested maps are processed recursively.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = Map(val)
			continue
		case string:
			if strings.EqualFold(k, "userId") {
				out[k] = MaskUserID(val)
				continue
			}
			if isSensitiveKey(k) && val != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

// isSensitiveKey returns true when the key name suggests it holds a secret.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth", "apikey"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
