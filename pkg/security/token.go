package security

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
)

// CapabilityToken is an issued credential bound to a SecurityContext:
// random bytes rendered as hex, with expiry bookkeeping.
type CapabilityToken struct {
	Token     string
	Context   SecurityContext
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenManager issues and validates capability tokens in memory. It does
// not persist tokens across restarts; a deployment that needs durable
// tokens issues them through a higher-level collaborator and only ever
// hands this package the resulting opaque string.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*CapabilityToken
}

func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*CapabilityToken)}
}

// Issue mints a new token carrying sc, valid for ttl.
func (tm *TokenManager) Issue(sc SecurityContext, ttl time.Duration) (*CapabilityToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeInternal, err, "generate capability token")
	}

	ct := &CapabilityToken{
		Token:     hex.EncodeToString(raw),
		Context:   sc,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[ct.Token] = ct
	tm.mu.Unlock()
	return ct, nil
}

// Validate resolves token to its SecurityContext, failing if the token is
// unknown or expired.
func (tm *TokenManager) Validate(token string) (SecurityContext, error) {
	tm.mu.RLock()
	ct, ok := tm.tokens[token]
	tm.mu.RUnlock()
	if !ok {
		return SecurityContext{}, latticeerr.New(latticeerr.CodePermissionDenied, "unknown capability token")
	}
	if time.Now().After(ct.ExpiresAt) {
		return SecurityContext{}, latticeerr.New(latticeerr.CodePermissionDenied, "capability token expired")
	}
	return ct.Context, nil
}

// Revoke invalidates a token immediately.
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired drops every token past its ExpiresAt. Callers run this
// periodically; TokenManager does not schedule it itself.
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	for token, ct := range tm.tokens {
		if now.After(ct.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
