package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	jsoncanonicalizer "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Canonicalize serializes messages as RFC 8785 canonical JSON: sorted keys,
// no insignificant whitespace, non-ASCII characters kept literally.
func Canonicalize(messages []Message) ([]byte, error) {
	if messages == nil {
		messages = []Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal messages: %w", err)
	}
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("chat: canonicalize messages: %w", err)
	}
	return out, nil
}

// Fingerprint is the lowercase hex SHA-256 of the canonical JSON of messages.
// Two message lists share a fingerprint exactly when their roles, contents
// and order are identical.
func Fingerprint(messages []Message) (string, error) {
	canonical, err := Canonicalize(messages)
	if err != nil {
		return "", err
	}
	return FingerprintBytes(canonical), nil
}

// FingerprintBytes hashes an already canonical body.
func FingerprintBytes(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
