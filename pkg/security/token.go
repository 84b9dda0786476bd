package security

import (
	"errors"
	"time"

	"investhub-platform/pkg/config"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var ErrInvalidToken = errors.New("invalid access token")

type Principal struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type customClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(cfg *config.Config) (*TokenIssuer, error) {
	if len(cfg.Auth.TokenSecret) < 32 {
		return nil, errors.New("AUTH.TOKEN_SECRET must be at least 32 bytes")
	}

	ttl := cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &TokenIssuer{
		secret: []byte(cfg.Auth.TokenSecret),
		issuer: cfg.Auth.Issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (t *TokenIssuer) Issue(p Principal) (string, time.Time, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: t.secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", time.Time{}, err
	}

	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := jwt.Claims{
		Subject:  p.UserID,
		Issuer:   t.issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(expiresAt),
	}

	raw, err := jwt.Signed(signer).Claims(claims).Claims(customClaims{Username: p.Username, Role: p.Role}).Serialize()
	if err != nil {
		return "", time.Time{}, err
	}

	return raw, expiresAt, nil
}

func (t *TokenIssuer) Verify(raw string) (*Principal, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims jwt.Claims
	var custom customClaims
	if err := tok.Claims(t.secret, &claims, &custom); err != nil {
		return nil, ErrInvalidToken
	}

	if err := claims.ValidateWithLeeway(jwt.Expected{Issuer: t.issuer, Time: t.now()}, 0); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{UserID: claims.Subject, Username: custom.Username, Role: custom.Role}, nil
}
