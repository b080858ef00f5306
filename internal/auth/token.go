package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rl1809/bookstore/internal/core/domain"
)

// MinSecretLength is the shortest accepted HMAC key, in bytes.
const MinSecretLength = 32

var (
	ErrInvalidSignature = fmt.Errorf("%w: invalid token signature", domain.ErrUnauthenticated)
	ErrExpired          = fmt.Errorf("%w: token expired", domain.ErrUnauthenticated)
	ErrMalformed        = fmt.Errorf("%w: malformed token", domain.ErrUnauthenticated)

	ErrWeakSecret = errors.New("token secret shorter than 32 bytes")
)

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies HS256 identity tokens with a shared secret.
type TokenCodec struct {
	key    []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

type TokenOption func(*TokenCodec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) { c.now = now }
}

func NewTokenCodec(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	c := &TokenCodec{
		key: append([]byte(nil), secret...),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	return c, nil
}

func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

func (c *TokenCodec) Issue(subject string, role domain.Role) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", domain.ErrInvalidRequest)
	}
	if _, ok := domain.ParseRole(string(role)); !ok {
		return "", fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRequest, role)
	}

	now := c.now()
	claims := tokenClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature before looking at any claim. The signature is
// taken after the last '.', so a token with any byte altered, delimiters
// included, fails with ErrInvalidSignature rather than ErrMalformed. Only a
// correctly signed token can be reported as ErrMalformed.
func (c *TokenCodec) Verify(token string) (domain.Claims, error) {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 {
		return domain.Claims{}, ErrMalformed
	}

	sig, err := c.parser.DecodeSegment(token[dot+1:])
	if err != nil {
		return domain.Claims{}, ErrInvalidSignature
	}
	if err := jwt.SigningMethodHS256.Verify(token[:dot], sig, c.key); err != nil {
		return domain.Claims{}, ErrInvalidSignature
	}
	if strings.Count(token, ".") != 2 {
		return domain.Claims{}, ErrMalformed
	}

	var claims tokenClaims
	_, err = c.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.Claims{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.Claims{}, ErrInvalidSignature
	case err != nil:
		return domain.Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	role, ok := domain.ParseRole(claims.Role)
	if !ok || claims.Subject == "" || claims.ExpiresAt == nil {
		return domain.Claims{}, ErrMalformed
	}

	out := domain.Claims{
		Subject:   claims.Subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
