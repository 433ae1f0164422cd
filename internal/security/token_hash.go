package security

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// TokenHasher computes keyed BLAKE2b-256 digests of opaque token strings so
// that raw refresh and anti-forgery tokens are never stored. An empty key
// degrades to unkeyed hashing, acceptable only outside production (config
// enforces this).
type TokenHasher struct {
	key []byte
}

// NewTokenHasher returns a TokenHasher keyed with key. Keys longer than 64
// bytes are rejected by BLAKE2b; callers should pass a 16–64 byte secret.
func NewTokenHasher(key []byte) (*TokenHasher, error) {
	// Validate the key once up front; blake2b.New256 fails on keys > 64 bytes.
	if _, err := blake2b.New256(key); err != nil {
		return nil, err
	}
	return &TokenHasher{key: key}, nil
}

// Hash returns the hex-encoded keyed digest of token.
func (h *TokenHasher) Hash(token string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Key was validated in the constructor; this cannot fail.
		panic(err)
	}
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares the digest of providedToken with storedHash in constant time.
func (h *TokenHasher) Equal(providedToken, storedHash string) bool {
	provided := h.Hash(providedToken)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(storedHash)) == 1
}
