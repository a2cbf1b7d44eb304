package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"strings"
	"sync"
	"time"
)

// APIKeyConfig configures an APIKeyAuthenticator.
type APIKeyConfig struct {
	// HeaderName carries the key.
	// Default: "X-API-Key"
	HeaderName string
}

// APIKeyInfo describes a stored key. Only the SHA-256 of the key is kept.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Principal string
	TenantID  string
	Roles     []string
	ExpiresAt time.Time
	Metadata  map[string]any
}

// APIKeyStore looks up keys by hash.
type APIKeyStore interface {
	// Lookup returns nil, nil for an unknown hash.
	Lookup(ctx context.Context, keyHash string) (*APIKeyInfo, error)
}

// APIKeyAuthenticator validates keys against an APIKeyStore.
type APIKeyAuthenticator struct {
	config APIKeyConfig
	store  APIKeyStore
	now    func() time.Time
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator.
func NewAPIKeyAuthenticator(config APIKeyConfig, store APIKeyStore) *APIKeyAuthenticator {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &APIKeyAuthenticator{config: config, store: store, now: time.Now}
}

func (a *APIKeyAuthenticator) Name() string { return "api_key" }

func (a *APIKeyAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	return req.GetHeader(a.config.HeaderName) != ""
}

func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	key := strings.TrimSpace(req.GetHeader(a.config.HeaderName))
	if key == "" {
		return AuthFailure(ErrMissingCredentials, a.Name()), nil
	}

	info, err := a.store.Lookup(ctx, HashAPIKey(key))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return AuthFailure(ErrInvalidCredentials, a.Name()), nil
	}
	if !info.ExpiresAt.IsZero() && a.now().After(info.ExpiresAt) {
		return AuthFailure(ErrTokenExpired, a.Name()), nil
	}

	claims := make(map[string]any, len(info.Metadata)+1)
	maps.Copy(claims, info.Metadata)
	claims["key_id"] = info.ID

	return AuthSuccess(&Identity{
		Principal: info.Principal,
		TenantID:  info.TenantID,
		Roles:     info.Roles,
		Method:    AuthMethodAPIKey,
		ExpiresAt: info.ExpiresAt,
		Claims:    claims,
	}), nil
}

// HashAPIKey returns the hex SHA-256 of key, the form stores index by.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MemoryAPIKeyStore keeps keys in memory.
type MemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKeyInfo
}

// NewMemoryAPIKeyStore creates an empty store.
func NewMemoryAPIKeyStore() *MemoryAPIKeyStore {
	return &MemoryAPIKeyStore{keys: make(map[string]*APIKeyInfo)}
}

func (s *MemoryAPIKeyStore) Lookup(_ context.Context, keyHash string) (*APIKeyInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[keyHash], nil
}

// Add stores info under its KeyHash.
func (s *MemoryAPIKeyStore) Add(info *APIKeyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[info.KeyHash] = info
}

// Remove deletes the key with keyHash.
func (s *MemoryAPIKeyStore) Remove(keyHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, keyHash)
}

var (
	_ Authenticator = (*APIKeyAuthenticator)(nil)
	_ APIKeyStore   = (*MemoryAPIKeyStore)(nil)
)
