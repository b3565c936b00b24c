// Package identity resolves the calling principal from a bearer token.
// Every request enters the system through here; downstream code only ever
// sees a domain.Actor and never touches the token itself.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"casedesk/pkg/domain"
)

const (
	defaultIssuer   = "casedesk-auth"
	defaultAudience = "casedesk-api"
	defaultLeeway   = 30 * time.Second
)

// Config configures access-token verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier validates HS256 access tokens and extracts the actor.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token verifier requires a secret")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}, nil
}

// VerifyActor validates the token and returns the actor it names. Any
// verification failure maps to domain.ErrUnauthorized.
func (v *Verifier) VerifyActor(token string) (domain.Actor, error) {
	claims := actorClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		return domain.Actor{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: token subject missing", domain.ErrUnauthorized)
	}
	role := domain.Role(strings.TrimSpace(claims.Role))
	if role != domain.RoleCustomer && role != domain.RoleAnalyst {
		return domain.Actor{}, fmt.Errorf("%w: unknown role %q", domain.ErrUnauthorized, claims.Role)
	}
	return domain.Actor{UserID: subject, Role: role}, nil
}

// IssueToken signs a token for the given actor. Used by tests and by the
// local dev token tool; production tokens come from the identity provider.
func (v *Verifier) IssueToken(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := actorClaims{
		Role: string(actor.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{v.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
