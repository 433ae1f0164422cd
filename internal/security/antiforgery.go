package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"auth-session-core/internal/autherr"
)

// NewAntiForgeryToken returns a fresh random token for the double-submit
// pattern and its keyed hash for storage on the session. The raw token goes to
// the client; only the hash is persisted.
func NewAntiForgeryToken(hasher *TokenHasher) (token, storedHash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("%w: generate anti-forgery token: %v", autherr.ErrInternal, err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, hasher.Hash(token), nil
}

// VerifyAntiForgeryToken checks a submitted token against the session's stored
// hash in constant time.
func VerifyAntiForgeryToken(hasher *TokenHasher, submitted, storedHash string) bool {
	if submitted == "" || storedHash == "" {
		return false
	}
	return hasher.Equal(submitted, storedHash)
}
