package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"investhub-platform/pkg/config"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.Contains(t, hash, "$argon2id$")

	ok, err := VerifyPassword("s3cret-pass", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = VerifyPassword("x", "not-a-hash")
	require.ErrorIs(t, err, ErrInvalidHash)
}

func newIssuer(t *testing.T) *TokenIssuer {
	cfg := &config.Config{}
	cfg.Auth.TokenSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.Issuer = "investhub"
	cfg.Auth.TokenTTL = time.Hour

	issuer, err := NewTokenIssuer(cfg)
	require.NoError(t, err)
	return issuer
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := newIssuer(t)

	raw, exp, err := issuer.Issue(Principal{UserID: "42", Username: "alice", Role: RoleAdmin})
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	p, err := issuer.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "42", p.UserID)
	require.Equal(t, "alice", p.Username)
	require.Equal(t, RoleAdmin, p.Role)
}

func TestTokenExpired(t *testing.T) {
	issuer := newIssuer(t)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	raw, _, err := issuer.Issue(Principal{UserID: "42"})
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejectsForeignSecret(t *testing.T) {
	raw, _, err := newIssuer(t).Issue(Principal{UserID: "42"})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Auth.TokenSecret = "ffffffffffffffffffffffffffffffff"
	cfg.Auth.Issuer = "investhub"
	other, err := NewTokenIssuer(cfg)
	require.NoError(t, err)

	_, err = other.Verify(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer(&config.Config{})
	require.Error(t, err)
}
