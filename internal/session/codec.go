package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the signed session descriptor embedded in the served document's
// data-phx-session attribute and presented back on phx_join.
type Claims struct {
	SessionID string `json:"sid"`
	View      string `json:"view"`
	Path      string `json:"path"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session descriptors. Descriptors are JWTs
// signed HS256 with a per-process key; the algorithm is pinned to prevent
// confusion attacks.
type TokenCodec struct {
	signingKey []byte
	algorithm  jwt.SigningMethod
	ttl        time.Duration
}

// NewTokenCodec creates a codec with a fresh 256-bit signing key.
func NewTokenCodec(ttl time.Duration) (*TokenCodec, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenCodec{
		signingKey: key,
		algorithm:  jwt.SigningMethodHS256,
		ttl:        ttl,
	}, nil
}

// Encode signs a descriptor for the given session.
func (c *TokenCodec) Encode(sess *Session) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID: sess.ID,
		View:      sess.View,
		Path:      sess.Path,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "liveview",
			Subject:   sess.ID,
		},
	}

	token := jwt.NewWithClaims(c.algorithm, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies a descriptor and returns its claims.
func (c *TokenCodec) Decode(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != c.algorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	return claims, nil
}

// PeekClaims reads a descriptor's claims without verifying the signature.
// Clients use it to recover the session id and view name baked into the
// token they were served; only the server verifies.
func PeekClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("failed to read session token: %w", err)
	}
	return claims, nil
}

// StaticToken generates the opaque token served in data-phx-static. It
// fingerprints the client bootstrap assets; the server only checks it for
// presence.
func StaticToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
