package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"auth-session-core/internal/autherr"
)

// TokenType distinguishes short-lived access tokens from long-lived refresh tokens.
type TokenType string

const (
	// TokenTypeAccess is the bearer credential presented on each request.
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh is the rotation credential; its jti doubles as the session id.
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	JTI       string
	Role      string
	Type      TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// signedClaims is the wire shape: registered claims plus role and token type.
type signedClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role,omitempty"`
	TokenType string `json:"token_type"`
}

// TokenProvider signs and parses JWTs using RS256 or ES256 (private/public key).
// It knows nothing about revocation; that is the token service's concern.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
}

// NewTokenProvider returns a TokenProvider that signs with the given private key
// (RSA or ECDSA). issuer and audience are set on claims and checked on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
	}
}

// Issue signs a token of the given type for subject with the given role and ttl.
// Returns the compact token, its jti, and the expiry instant.
func (p *TokenProvider) Issue(subject, role string, typ TokenType, ttl time.Duration) (token, jti string, expiresAt time.Time, err error) {
	jti, err = NewJTI()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("%w: generate jti: %v", autherr.ErrInternal, err)
	}
	now := time.Now().UTC()
	expiresAt = now.Add(ttl)
	claims := signedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:      role,
		TokenType: string(typ),
	}
	token, err = p.sign(claims)
	return token, jti, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", autherr.ErrTokenInvalid
	}
	t := jwt.NewWithClaims(method, claims)
	signed, err := t.SignedString(p.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", autherr.ErrInternal, err)
	}
	return signed, nil
}

// Parse validates signature, expiry, issuer, and audience, and returns the claims.
// Fails with autherr.ErrTokenExpired past expiry and autherr.ErrTokenInvalid for
// anything else wrong with the token itself.
func (p *TokenProvider) Parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &signedClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, autherr.ErrTokenInvalid
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.ErrTokenExpired
		}
		return nil, autherr.ErrTokenInvalid
	}
	sc, ok := token.Claims.(*signedClaims)
	if !ok || !token.Valid {
		return nil, autherr.ErrTokenInvalid
	}
	typ := TokenType(sc.TokenType)
	if typ != TokenTypeAccess && typ != TokenTypeRefresh {
		return nil, autherr.ErrTokenInvalid
	}
	c := &Claims{
		Subject: sc.Subject,
		JTI:     sc.ID,
		Role:    sc.Role,
		Type:    typ,
	}
	if sc.IssuedAt != nil {
		c.IssuedAt = sc.IssuedAt.Time
	}
	if sc.ExpiresAt != nil {
		c.ExpiresAt = sc.ExpiresAt.Time
	}
	return c, nil
}

// NewJTI returns a 128-bit random hex token id.
func NewJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
