// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/jeranaias/promptforge/internal/config"
	"github.com/jeranaias/promptforge/internal/model"
)

var (
	// ErrMissingToken is returned when no bearer token is presented and
	// anonymous access is disabled.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrTokenExpired is returned when the token has expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken is returned when the token is invalid for any reason.
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultTokenLifetime is used by Issue when ttl is zero.
const DefaultTokenLifetime = 24 * time.Hour

// Identity is a resolved caller.
type Identity struct {
	ID        string
	Plan      model.Plan
	APIKey    string
	Anonymous bool
}

// Claims are the token claims.
type Claims struct {
	jwt.RegisteredClaims
	Plan   string `json:"plan"`
	APIKey string `json:"api_key,omitempty"`
}

// =============================================================================
// VERIFIER
// =============================================================================

// Verifier checks bearer tokens.
type Verifier struct {
	secret         []byte
	issuer         string
	allowAnonymous bool
	parser         *jwt.Parser
	now            func() time.Time
}

// NewVerifier creates a verifier from the identity config section.
func NewVerifier(cfg config.IdentityConfig) *Verifier {
	return &Verifier{
		secret:         []byte(cfg.JWTSecret),
		issuer:         cfg.Issuer,
		allowAnonymous: cfg.AllowAnonymous,
		parser:         jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		now:            time.Now,
	}
}

// Resolve returns the identity for an Authorization header value.
// Errors are *model.Error of kind Unauthorized.
func (v *Verifier) Resolve(authorization, remoteAddr string) (Identity, error) {
	token, ok := bearer(authorization)
	if !ok {
		if authorization == "" && v.allowAnonymous {
			return anonymous(remoteAddr), nil
		}
		if authorization == "" {
			return Identity{}, model.Wrap(model.KindUnauthorized, ErrMissingToken, "authentication required")
		}
		return Identity{}, model.Wrap(model.KindUnauthorized, ErrInvalidToken, "malformed authorization header")
	}

	id, err := v.Verify(token)
	if err != nil {
		return Identity{}, model.Wrap(model.KindUnauthorized, err, "invalid credentials")
	}
	return id, nil
}

// Verify parses and validates a token.
func (v *Verifier) Verify(token string) (Identity, error) {
	if len(v.secret) == 0 {
		return Identity{}, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}

	plan := model.PlanFree
	if claims.Plan != "" {
		plan, err = model.ParsePlan(claims.Plan)
		if err != nil {
			return Identity{}, ErrInvalidToken
		}
	}
	return Identity{ID: claims.Subject, Plan: plan, APIKey: claims.APIKey}, nil
}

// Issue signs a token for subject.
func (v *Verifier) Issue(subject string, plan model.Plan, apiKey string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("no signing secret configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenLifetime
	}
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Plan:   plan.String(),
		APIKey: apiKey,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// =============================================================================
// HELPERS
// =============================================================================

func bearer(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func anonymous(remoteAddr string) Identity {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return Identity{ID: "anon:" + host, Plan: model.PlanFree, Anonymous: true}
}
