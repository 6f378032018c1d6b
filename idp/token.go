package idp

import (
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/role"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
)

// RoleClaim is the custom claim carrying the application role.
const RoleClaim = "role"

// ErrMalformedToken is returned when a token cannot be decoded.
var ErrMalformedToken = errors.NewC("malformed id token", codes.InvalidArgument)

// TokenResult is an ID token together with its decoded claims.
type TokenResult struct {
	Token          string
	Subject        string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	AuthTime       time.Time
	SignInProvider string
	Claims         jwt.MapClaims
}

// ParseTokenResult decodes the claims of token without verifying it. Tokens
// reach this point only after the provider has issued or verified them.
func ParseTokenResult(token string) (*TokenResult, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Mark(ErrMalformedToken, 0).Append(err.Error())
	}

	res := &TokenResult{Token: token, Claims: claims}
	res.Subject, _ = claims.GetSubject()
	if iat, _ := claims.GetIssuedAt(); iat != nil {
		res.IssuedAt = iat.Time
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		res.ExpiresAt = exp.Time
	}
	if at, ok := claims["auth_time"].(float64); ok {
		res.AuthTime = time.Unix(int64(at), 0)
	}
	if fb, ok := claims["firebase"].(map[string]any); ok {
		res.SignInProvider, _ = fb["sign_in_provider"].(string)
	}
	return res, nil
}

// Role returns the role claim, or "" when it is absent or not a known role.
func (t *TokenResult) Role() role.Role {
	s, _ := t.Claims[RoleClaim].(string)
	r, err := role.Parse(s)
	if err != nil {
		return ""
	}
	return r
}

// Expired reports whether the token has expired at now.
func (t *TokenResult) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}
