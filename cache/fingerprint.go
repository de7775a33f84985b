package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives the deterministic cache key for a use case invocation:
// sha256 over the use case name and the canonicalized JSON payload. Payloads
// that marshal to the same canonical form share a fingerprint regardless of
// struct field order.
func Fingerprint(useCase string, payload any) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint %q: %w", useCase, err)
	}

	h := sha256.New()
	h.Write([]byte(useCase))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON round-trips the payload through a generic value so object
// keys come out sorted (encoding/json sorts map keys on marshal).
func canonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
