package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainMutation = "wardsync/mutation/v1"
	DomainDocument = "wardsync/document/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyKey computes the key the remote uses to suppress duplicate
// effects of a retried mutation. It is derived from the entry's content and
// its creation stamp (timestamp, seq), so every retry of one entry carries
// the same key while two separate edits with identical content do not.
// Callers that resubmit one logical mutation supply their own key instead.
func IdempotencyKey(e MutationEntry) (string, error) {
	payload := map[string]any(e.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	obj := map[string]any{
		"collection": e.Collection,
		"entity_id":  e.EntityID,
		"operation":  string(e.Operation),
		"payload":    payload,
		"timestamp":  e.Timestamp,
		"seq":        e.Seq,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("IdempotencyKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainMutation, canonical), nil
}

// DocumentHash returns a content hash of a document, used to detect
// whether a remote snapshot actually changed a document.
func DocumentHash(d Document) (string, error) {
	if d == nil {
		d = Document{}
	}
	canonical, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("DocumentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// MustIdempotencyKey is like IdempotencyKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustIdempotencyKey(e MutationEntry) string {
	key, err := IdempotencyKey(e)
	if err != nil {
		panic(err)
	}
	return key
}
