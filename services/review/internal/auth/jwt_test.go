package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "projetavis", time.Hour)

	token, err := m.GenerateToken("user-1")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "projetavis", claims.Issuer)

	mc, err := m.Validator()(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", mc.UserID)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret", "projetavis", time.Hour)
	now := time.Now()

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "projetavis",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	otherIssuer := valid()
	otherIssuer.Issuer = "elsewhere"
	noExpiry := valid()
	noExpiry.ExpiresAt = nil
	noSubject := valid()
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), valid())},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, []byte("secret"), valid())},
		{"none algorithm", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{"expired", sign(jwt.SigningMethodHS256, []byte("secret"), expired)},
		{"other issuer", sign(jwt.SigningMethodHS256, []byte("secret"), otherIssuer)},
		{"no expiry", sign(jwt.SigningMethodHS256, []byte("secret"), noExpiry)},
		{"no user", sign(jwt.SigningMethodHS256, []byte("secret"), noSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestJWTManager_SubjectFallback(t *testing.T) {
	m := NewJWTManager("secret", "", time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)
}
