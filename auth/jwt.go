package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures reader session tokens. Tokens are HS256-signed by
// the identity provider with a shared secret.
type JWTConfig struct {
	Secret []byte

	// Issuer is checked against the iss claim when set.
	Issuer string

	// Audience is the required aud claim.
	// Default: "authenticated"
	Audience string

	// Leeway tolerates clock skew on exp, nbf and iat.
	// Default: 30s
	Leeway time.Duration
}

// roles decodes the role claim, which identity providers send either as
// a single string or as a list.
type roles []string

func (r *roles) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*r = roles{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("role claim: %w", err)
	}
	*r = many
	return nil
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Role  roles  `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// JWTAuthenticator identifies readers by a bearer session token.
type JWTAuthenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWTAuthenticator.
func NewJWTAuthenticator(config JWTConfig) *JWTAuthenticator {
	// Apply defaults
	if config.Audience == "" {
		config.Audience = "authenticated"
	}
	if config.Leeway <= 0 {
		config.Leeway = 30 * time.Second
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	return &JWTAuthenticator{secret: config.Secret, parser: jwt.NewParser(opts...)}
}

// Authenticate validates the bearer token in the Authorization header.
func (a *JWTAuthenticator) Authenticate(_ context.Context, h http.Header) (*Identity, error) {
	raw, ok := strings.CutPrefix(h.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, ErrNoCredentials
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMalformed
	}

	var claims sessionClaims
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidCredentials)
	}

	id := &Identity{
		Principal: claims.Subject,
		Roles:     claims.Role,
		Method:    MethodSession,
		Claims:    map[string]any{},
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.Email != "" {
		id.Claims["email"] = claims.Email
	}
	if claims.Issuer != "" {
		id.Claims["iss"] = claims.Issuer
	}
	return id, nil
}

var _ Authenticator = (*JWTAuthenticator)(nil)
