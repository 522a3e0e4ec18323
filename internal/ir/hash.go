package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainPayload = "offsync/payload/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadDigest computes the content hash sent with every remote replay.
//
// The idempotency key (the queued action id) tells the remote collaborator
// "this is the same request"; the digest lets it detect a key that is reused
// with a different payload. The digest is stable across restarts because it
// depends only on the type tag and the canonical payload.
func PayloadDigest(p Payload) (string, error) {
	obj, err := PayloadObject(p)
	if err != nil {
		return "", fmt.Errorf("PayloadDigest: %w", err)
	}
	canonical, err := MarshalCanonical(map[string]any{
		"type":    string(p.ActionType()),
		"payload": obj,
	})
	if err != nil {
		return "", fmt.Errorf("PayloadDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// MustPayloadDigest is like PayloadDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustPayloadDigest(p Payload) string {
	d, err := PayloadDigest(p)
	if err != nil {
		panic(err)
	}
	return d
}
