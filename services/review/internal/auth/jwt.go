package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Nutcoco971/ProjectavisFew/pkg/middleware"
)

// Claims are the session token claims the review service relies on.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTManager verifies HS256 session tokens and, for tooling and tests, issues
// them.
type JWTManager struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewJWTManager creates a manager for tokens signed with secret by issuer.
// An empty issuer accepts any issuer.
func NewJWTManager(secret, issuer string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}
}

// GenerateToken creates a signed session token for userID.
func (m *JWTManager) GenerateToken(userID string) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			Issuer:    m.issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a session token, returning its claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("session token has no user id")
	}
	return claims, nil
}

// Validator adapts the manager to middleware.OptionalAuth.
func (m *JWTManager) Validator() middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		claims, err := m.ValidateToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: claims.UserID}, nil
	}
}
