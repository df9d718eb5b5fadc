// Package environment provides helpers for loading configuration from environment variables.
//
// All helpers follow a consistent pattern: they read an environment variable and
// return either the value or a default. Required variables return an error rather
// than calling os.Exit, keeping business logic out of library code.
//
// Values are commonly pasted into deployment manifests with surrounding quotes
// ("gpt-3.5-turbo" or 'gpt-3.5-turbo'); the string helpers strip one layer of
// matching quotes so the rest of the process never sees them.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the value of the named environment variable and a boolean
// indicating whether it was set (even if set to the empty string).
func String(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	return Unquote(v), ok
}

// StringOr returns the unquoted value of the named environment variable, or
// defaultValue if the variable is unset or empty.
func StringOr(name, defaultValue string) string {
	if v := Unquote(os.Getenv(name)); v != "" {
		return v
	}
	return defaultValue
}

// TextOr behaves like StringOr and additionally expands literal "\n"
// sequences into newlines. Used for multi-line user-facing messages that are
// configured on a single line.
func TextOr(name, defaultValue string) string {
	v := StringOr(name, "")
	if v == "" {
		return defaultValue
	}
	return strings.ReplaceAll(v, `\n`, "\n")
}

// RequiredString returns the value of the named environment variable or an error
// if it is unset or empty.
func RequiredString(name string) (string, error) {
	v := Unquote(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// BoolOr parses the named environment variable as a boolean. Recognized values
// are the same as strconv.ParseBool ("1", "t", "true", "0", "f", "false", etc.).
// Returns defaultValue if the variable is unset, empty, or cannot be parsed.
func BoolOr(name string, defaultValue bool) bool {
	v := StringOr(name, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// IntOr parses the named environment variable as a decimal integer. Returns
// defaultValue if the variable is unset, empty, or cannot be parsed.
func IntOr(name string, defaultValue int) int {
	v := StringOr(name, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// FloatOr parses the named environment variable as a float64. Returns
// defaultValue if the variable is unset, empty, or cannot be parsed.
func FloatOr(name string, defaultValue float64) float64 {
	v := StringOr(name, "")
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// DurationOr parses the named environment variable as a time.Duration (e.g.
// "30s", "5m", "1h"). Returns defaultValue if the variable is unset, empty,
// or cannot be parsed.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := StringOr(name, "")
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// SecondsOr parses the named environment variable as a (possibly fractional)
// number of seconds, e.g. "10" or "0.5". A value carrying a unit suffix such
// as "1500ms" is accepted as a Go duration. Returns defaultValue if the
// variable is unset, empty, negative, or cannot be parsed.
func SecondsOr(name string, defaultValue time.Duration) time.Duration {
	v := StringOr(name, "")
	if v == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 {
			return defaultValue
		}
		return time.Duration(f * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return defaultValue
	}
	return d
}

// StringSliceOr parses the named environment variable as a comma-separated list
// of strings, trimming whitespace from each element. Returns defaultValue if the
// variable is unset or empty.
func StringSliceOr(name string, defaultValue []string) []string {
	v := StringOr(name, "")
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// Unquote removes one layer of matching single or double quotes around v.
func Unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' || first == '\'') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return v
}
