package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "medilab-lis"

// Claims carried in access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID   string
	Username string
	Role     Role
}

// TokenManager issues and verifies HS256 access tokens.
type TokenManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenManager(signingKey []byte, ttl time.Duration) *TokenManager {
	return &TokenManager{key: signingKey, ttl: ttl, now: time.Now}
}

// Issue signs a token for p and returns it with its expiry.
func (m *TokenManager) Issue(p Principal) (string, time.Time, error) {
	if len(m.key) == 0 {
		return "", time.Time{}, errors.New("token signing key not configured")
	}
	now := m.now()
	exp := now.Add(m.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: p.Username,
		Role:     p.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates a token string.
func (m *TokenManager) Verify(tokenStr string) (Principal, error) {
	if len(m.key) == 0 {
		return Principal{}, errors.New("token signing key not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return Principal{}, errors.New("invalid token: missing subject or role")
	}
	return Principal{UserID: claims.Subject, Username: claims.Username, Role: claims.Role}, nil
}
