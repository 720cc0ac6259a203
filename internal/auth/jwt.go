package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens larger than this are rejected before any parsing work.
const maxJWTLen = 20 * 1024

// JWTVerifier accepts HS256 tokens signed with the shared secret. Tokens
// must carry an expiry; expired or not-yet-valid tokens are rejected.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewJWTVerifier(secret string) JWTVerifier {
	return JWTVerifier{secret: []byte(secret), now: time.Now}
}

func (v JWTVerifier) Verify(token string) error {
	if token == "" || len(token) > maxJWTLen {
		return ErrInvalidCredentials
	}

	keyFunc := func(*jwt.Token) (any, error) { return v.secret, nil }
	_, err := jwt.Parse(token, keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
