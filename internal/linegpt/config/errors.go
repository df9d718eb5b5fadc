package config

import "fmt"

// ConfigurationError reports a missing or unusable setting. It is returned at
// startup, and by the tokenizer when a model identifier cannot be resolved to
// an encoding.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}
