package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/errs"
	"github.com/nabilgpt/samia-tarot-refactor-sub016/internal/model"
)

// IdentityClaims holds the JWT claims of a verified-identity token issued by
// the platform auth service. This service only verifies; it never issues.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name"`
}

// Verifier validates identity tokens (HS256) presented at connect time.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier returns a Verifier for the given shared secret. issuer and
// audience are validated when non-empty.
func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

// Verify parses and validates the token and returns the identity it carries.
// Every failure maps to errs.ErrAuthenticationRequired; the connection must be
// refused before any event is processed.
func (v *Verifier) Verify(tokenString string) (model.Identity, error) {
	if tokenString == "" {
		return model.Identity{}, errs.ErrAuthenticationRequired
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return model.Identity{}, errs.ErrAuthenticationRequired
	}
	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid {
		return model.Identity{}, errs.ErrAuthenticationRequired
	}
	role := model.Role(claims.Role)
	switch role {
	case model.RoleClient, model.RoleReader, model.RoleMonitor, model.RoleAdmin:
	default:
		return model.Identity{}, errs.ErrAuthenticationRequired
	}
	if claims.Subject == "" {
		return model.Identity{}, errs.ErrAuthenticationRequired
	}
	return model.Identity{UserID: claims.Subject, Role: role, DisplayName: claims.Name}, nil
}

// Issue signs an identity token. Used by tests and the seed tooling only.
func (v *Verifier) Issue(identity model.Identity, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("auth: empty secret")
	}
	now := time.Now().UTC()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{v.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(identity.Role),
		Name: identity.DisplayName,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(v.secret)
}
