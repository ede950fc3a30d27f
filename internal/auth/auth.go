// Package auth issues and validates admin bearer tokens.
package auth

import (
	"time"

	"fulfillment-service/internal/errs"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// TokenTTL is the lifetime of an issued admin token.
const TokenTTL = 24 * time.Hour

// Claims holds the typed JWT payload.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager checks the admin credential and issues HS256 tokens. There is a
// single administrator account, configured at process start.
type Manager struct {
	secret        []byte
	adminUser     string
	adminPassHash string
}

// NewManager creates a Manager. adminPassHash is a bcrypt hash; an empty
// hash disables login entirely rather than allowing any password.
func NewManager(secret, adminUser, adminPassHash string) *Manager {
	return &Manager{
		secret:        []byte(secret),
		adminUser:     adminUser,
		adminPassHash: adminPassHash,
	}
}

// Login verifies the credential pair and returns a signed token.
func (m *Manager) Login(username, password string) (string, error) {
	if m.adminPassHash == "" {
		return "", errs.NewAuthError("admin login disabled")
	}
	if username != m.adminUser {
		return "", errs.NewAuthError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.adminPassHash), []byte(password)); err != nil {
		return "", errs.NewAuthError("invalid credentials")
	}

	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errs.NewAuthErrorWithCause("token signing failed", err)
	}
	return token, nil
}

// Validate parses and validates a bearer token string.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, errs.NewAuthErrorWithCause("invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errs.NewAuthError("invalid token")
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash of the plain-text password. Used by
// deployment tooling to produce ADMIN_PASS_HASH.
func HashPassword(plain string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(bytes), err
}
