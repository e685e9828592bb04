package op

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HashPayload computes the content-addressed fingerprint of a payload.
//
// The digest is SHA-256 over a canonical rendering of the payload: map
// keys are sorted recursively, so two payloads with the same content but
// different key order hash identically. The hash is stamped on remote
// documents (together with the operation ID) so a duplicate delivery of
// the same operation can be recognized as already applied.
func HashPayload(payload map[string]any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, payload); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

// writeCanonical renders a value deterministically. Maps are emitted in
// sorted key order; everything else goes through encoding/json, which is
// already deterministic for scalars and slices.
func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kj, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("failed to marshal key %q: %w", k, err)
			}
			b.Write(kj)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil

	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil

	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
		b.Write(data)
		return nil
	}
}
