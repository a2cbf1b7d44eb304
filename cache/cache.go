package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the longest key a Cache accepts.
const MaxKeyLength = 512

var (
	// ErrNilCache indicates a Middleware was built without a Cache.
	ErrNilCache = errors.New("cache: cache is nil")

	// ErrInvalidKey indicates an empty key or one containing line breaks.
	ErrInvalidKey = errors.New("cache: key is invalid")

	// ErrKeyTooLong indicates a key longer than MaxKeyLength.
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// Cache stores response bodies by key. Implementations are safe for
// concurrent use.
type Cache interface {
	// Get returns the value under key. A miss, an expired entry and a
	// backend failure all report false.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key for ttl. A non-positive ttl stores nothing.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ValidateKey reports whether key can be stored.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}
