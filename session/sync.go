package session

import (
	"context"

	"github.com/edupath/authsync/backend"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/logging"
)

// Syncer mirrors provider state to the backend.
type Syncer interface {
	// SignedIn runs when the provider reports a signed in user. A returned
	// profile becomes part of the identity.
	SignedIn(ctx context.Context, u idp.User, token string) (*backend.Profile, error)

	// TokenRefreshed runs when the provider issues a new token for the
	// current user.
	TokenRefreshed(ctx context.Context, u idp.User, token string) error

	// SignedOut runs after sign-out with the last token, if there was one.
	SignedOut(ctx context.Context, token string) error
}

// LoginSyncer is implemented by syncers that treat an explicit sign-in
// differently from a restored session. Store.SignIn calls Login instead of
// SignedIn on them.
type LoginSyncer interface {
	Login(ctx context.Context, u idp.User, token string) (*backend.Profile, error)
}

// ProfileClient is the part of backend.Client used by ProfileSync.
type ProfileClient interface {
	Me(ctx context.Context, token string) (*backend.Profile, error)
	Login(ctx context.Context, token string) (*backend.Profile, error)
	Register(ctx context.Context, token string) (*backend.Profile, error)
}

// SessionClient is the part of backend.Client used by CookieSync.
type SessionClient interface {
	SetSession(ctx context.Context, token string) error
	ClearSession(ctx context.Context, token string) error
}

// ProfileSync fetches the application profile for the signed in user.
type ProfileSync struct {
	Client ProfileClient

	// AutoRegister creates a profile when the backend has none.
	AutoRegister bool
}

var (
	_ Syncer      = (*ProfileSync)(nil)
	_ LoginSyncer = (*ProfileSync)(nil)
)

// SignedIn fetches the profile with GET /api/auth/me.
func (ps *ProfileSync) SignedIn(ctx context.Context, u idp.User, token string) (*backend.Profile, error) {
	p, err := ps.Client.Me(ctx, token)
	if err == nil || !ps.AutoRegister || !errors.Is(err, backend.ErrProfileNotFound) {
		return p, err
	}
	logging.Infow(ctx, "session: registering profile", "uid", u.UID())
	return ps.Client.Register(ctx, token)
}

// Login records the sign-in with POST /api/auth/login.
func (ps *ProfileSync) Login(ctx context.Context, u idp.User, token string) (*backend.Profile, error) {
	return ps.Client.Login(ctx, token)
}

// TokenRefreshed is a no-op, profiles are keyed by user not token.
func (ps *ProfileSync) TokenRefreshed(context.Context, idp.User, string) error { return nil }

// SignedOut is a no-op.
func (ps *ProfileSync) SignedOut(context.Context, string) error { return nil }

// CookieSync keeps a backend session cookie in step with the provider token.
type CookieSync struct {
	Client SessionClient
}

var _ Syncer = (*CookieSync)(nil)

// SignedIn sets the session cookie.
func (cs *CookieSync) SignedIn(ctx context.Context, u idp.User, token string) (*backend.Profile, error) {
	return nil, cs.Client.SetSession(ctx, token)
}

// TokenRefreshed re-sets the session cookie with the new token.
func (cs *CookieSync) TokenRefreshed(ctx context.Context, u idp.User, token string) error {
	return cs.Client.SetSession(ctx, token)
}

// SignedOut clears the session cookie. Without a token there is no session
// to clear.
func (cs *CookieSync) SignedOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return cs.Client.ClearSession(ctx, token)
}
