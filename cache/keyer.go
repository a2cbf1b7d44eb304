package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer derives cache keys from a call kind and its input.
type Keyer interface {
	Key(kind string, input any) (string, error)
}

// DefaultKeyer produces "<prefix>:<kind>:<hash>" where hash is the first 16
// hex digits of the SHA-256 of the input's canonical JSON.
type DefaultKeyer struct {
	// Prefix namespaces keys in a shared backend.
	// Default: "callgate"
	Prefix string
}

// NewDefaultKeyer returns a DefaultKeyer with the default prefix.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{Prefix: "callgate"}
}

func (k *DefaultKeyer) Key(kind string, input any) (string, error) {
	canonical, err := Canonical(input)
	if err != nil {
		return "", fmt.Errorf("cache: canonicalize %s input: %w", kind, err)
	}
	sum := sha256.Sum256(canonical)

	prefix := k.Prefix
	if prefix == "" {
		prefix = "callgate"
	}
	return prefix + ":" + kind + ":" + hex.EncodeToString(sum[:8]), nil
}

// Canonical encodes v as JSON with object keys sorted at every depth, so a
// struct and a map with the same fields encode identically. Numbers keep
// their literal form.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order
	return json.Marshal(generic)
}

var _ Keyer = (*DefaultKeyer)(nil)
