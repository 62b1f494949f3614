package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the token_type value returned alongside issued tokens.
const TokenType = "bearer"

// Claims is the signed payload of an access token.
type Claims struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Timestamp int64  `json:"ts"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HMAC-signed JWT bearer tokens. It holds no
// per-token state; anything signed with the configured secret and algorithm that
// carries a subject is accepted.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService returns a TokenService for an HMAC algorithm (HS256, HS384, HS512).
// ttl == 0 issues tokens without an exp claim, so they never expire.
func NewTokenService(secret []byte, algorithm string, ttl time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token service: secret is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("token service: ttl must not be negative")
	}
	method, ok := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(algorithm))).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("token service: unsupported algorithm %q", algorithm)
	}
	return &TokenService{
		secret: secret,
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Algorithm returns the configured signing algorithm name.
func (s *TokenService) Algorithm() string {
	return s.method.Alg()
}

// Issue signs a token for account with sub, username, email and ts claims.
func (s *TokenService) Issue(account Account) (string, error) {
	now := s.now()
	claims := Claims{
		Username:  account.Username,
		Email:     account.Email,
		Timestamp: now.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: account.Username,
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses an Authorization header value of the form "Bearer <token>" and
// returns the token subject. Every rejection is a *Failure of KindToken.
func (s *TokenService) Validate(headerValue string) (string, error) {
	if strings.TrimSpace(headerValue) == "" {
		return "", tokenFailure(ReasonMissingHeader, nil)
	}
	parts := strings.Fields(headerValue)
	if len(parts) != 2 {
		return "", tokenFailure(ReasonMalformedHeader, fmt.Errorf("expected 2 segments, got %d", len(parts)))
	}
	if !strings.EqualFold(parts[0], TokenType) {
		return "", tokenFailure(ReasonWrongScheme, nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.ttl > 0 {
		opts = append(opts, jwt.WithExpirationRequired())
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(parts[1], claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		opts...,
	)
	if err != nil {
		return "", tokenFailure(ReasonInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", tokenFailure(ReasonMissingSubject, nil)
	}
	return claims.Subject, nil
}
