package http

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/testcentre/internal/application"
)

// PrincipalClaims is the bearer token payload. The subject is the principal
// ID; candidate_id links a candidate principal to its candidate record.
type PrincipalClaims struct {
	Role        string `json:"role"`
	CandidateID string `json:"candidate_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier checks HMAC-signed bearer tokens issued by the identity provider.
type JWTVerifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewJWTVerifier returns a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return NewJWTVerifierWithClock(secret, nil)
}

// NewJWTVerifierWithClock returns a verifier whose expiry checks use now.
func NewJWTVerifierWithClock(secret string, now func() time.Time) *JWTVerifier {
	if now == nil {
		now = time.Now
	}
	return &JWTVerifier{secret: []byte(secret), leeway: 5 * time.Second, now: now}
}

// VerifyToken validates the signature and expiry of token and returns the
// principal it names.
func (v *JWTVerifier) VerifyToken(_ context.Context, token string) (application.Principal, error) {
	if v == nil || len(v.secret) == 0 {
		return application.Principal{}, errors.New("jwt verifier is not configured")
	}

	claims := &PrincipalClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return application.Principal{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	principal := application.Principal{
		ID:          strings.TrimSpace(claims.Subject),
		Role:        application.Role(strings.ToLower(strings.TrimSpace(claims.Role))),
		CandidateID: strings.TrimSpace(claims.CandidateID),
	}
	if principal.ID == "" {
		return application.Principal{}, fmt.Errorf("%w: subject is missing", errInvalidToken)
	}
	switch principal.Role {
	case application.RoleCandidate, application.RoleOfficer, application.RoleManager, application.RoleAdministrator:
	default:
		return application.Principal{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}
	return principal, nil
}
