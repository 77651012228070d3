package domain

import (
	"bytes"
	"crypto/md5" //nolint:gosec // content hash for job IDs, not a security boundary
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CanonicalJSON encodes v with sorted object keys, no insignificant
// whitespace and no HTML escaping, so equal values always produce equal bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := encodeJSON(v)
	if err != nil {
		return nil, err
	}

	// Round-trip through generic values: maps marshal with sorted keys.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return encodeJSON(generic)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// HashID returns the MD5 digest of v's canonical JSON rendered as a UUID.
func HashID(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(b) //nolint:gosec // see import
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		return "", fmt.Errorf("job id: %w", err)
	}
	return id.String(), nil
}
