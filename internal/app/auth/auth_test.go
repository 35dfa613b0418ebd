package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager(Config{JWTSecret: "secret", Issuer: "ledger"})
	require.NoError(t, err)

	token, err := m.Issue("alice")
	require.NoError(t, err)

	username, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestVerifyRejects(t *testing.T) {
	m, err := NewTokenManager(Config{JWTSecret: "secret", TokenTTL: time.Minute})
	require.NoError(t, err)

	other, err := NewTokenManager(Config{JWTSecret: "other"})
	require.NoError(t, err)
	forged, err := other.Issue("alice")
	require.NoError(t, err)

	expired := &TokenManager{secret: []byte("secret"), ttl: time.Minute, now: func() time.Time {
		return time.Now().Add(-time.Hour)
	}}
	old, err := expired.Issue("alice")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", forged},
		{"expired", old},
		{"alg none", none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			assert.ErrorIs(t, err, domain.ErrUnauthenticated)
		})
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	_, err := NewTokenManager(Config{})
	assert.Error(t, err)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("password1")
	require.NoError(t, err)
	assert.NotEqual(t, "password1", hash)

	assert.NoError(t, h.Compare(hash, "password1"))
	assert.Error(t, h.Compare(hash, "password2"))
}

func TestBcryptHasherLongPasswords(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	long := strings.Repeat("p", 100)
	multibyte := strings.Repeat("密碼", 15) // 30 runes, 90 bytes

	for _, password := range []string{long, multibyte} {
		hash, err := h.Hash(password)
		require.NoError(t, err)
		assert.NoError(t, h.Compare(hash, password))
	}

	// 超過 72 bytes 的差異仍然要能分辨
	hash, err := h.Hash(long)
	require.NoError(t, err)
	assert.Error(t, h.Compare(hash, strings.Repeat("p", 99)+"q"))
}

func TestContextHelpers(t *testing.T) {
	_, ok := UsernameFrom(context.Background())
	assert.False(t, ok)

	username, ok := UsernameFrom(WithUsername(context.Background(), "alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", username)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
	_, ok = BearerToken("")
	assert.False(t, ok)
}
