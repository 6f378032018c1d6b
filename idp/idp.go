// Package idp defines the contract between authsync and an external identity
// provider.
//
// A Provider behaves like a client-side auth SDK: it holds at most one signed
// in user, issues bearer ID tokens for that user, refreshes them before they
// expire, and notifies listeners when the user or the token changes. authsync
// never issues tokens itself, it only consumes what the provider hands out.
//
// Listeners receive the current user (possibly nil) as soon as they subscribe
// and then every subsequent change, in order. Each listener is called from its
// own goroutine so a slow listener never delays the provider or its peers.
package idp

import (
	"context"

	"github.com/edupath/authsync/errors"
	"google.golang.org/grpc/codes"
)

var (
	// No user is signed in.
	ErrNoUser = errors.NewC("no user is signed in", codes.Unauthenticated).
			WithPublicMessage("You are not signed in")

	// The email or password was rejected.
	ErrInvalidCredentials = errors.NewC("invalid credentials", codes.Unauthenticated).
				WithPublicMessage("Invalid email or password")

	// The account has been disabled at the provider.
	ErrUserDisabled = errors.NewC("user disabled", codes.PermissionDenied).
			WithPublicMessage("This account has been disabled")

	// The refresh token was revoked or expired, the user must sign in again.
	ErrSessionExpired = errors.NewC("session expired", codes.Unauthenticated).
				WithPublicMessage("Your session has expired, please sign in again")

	// The provider returned an unexpected response.
	ErrProvider = errors.NewC("identity provider error", codes.Unavailable).
			WithPublicMessage("Authentication service unavailable")

	// Too many attempts.
	ErrTooManyAttempts = errors.NewC("too many attempts", codes.ResourceExhausted).
				WithPublicMessage("Too many attempts, try again later")
)

// Listener is notified with the current user, nil when signed out.
type Listener func(User)

// User is the provider's record of a signed in user.
type User interface {
	// UID is the provider-scoped user identifier.
	UID() string
	Email() string
	DisplayName() string
	EmailVerified() bool

	// IDToken returns a bearer token for the user, refreshing it when it is
	// close to expiry or when forceRefresh is set.
	IDToken(ctx context.Context, forceRefresh bool) (string, error)

	// IDTokenResult returns the current token with its decoded claims.
	IDTokenResult(ctx context.Context) (*TokenResult, error)
}

// Provider is an identity provider client holding a single user session.
type Provider interface {
	// CurrentUser returns the signed in user, or nil.
	CurrentUser() User

	// OnAuthStateChanged registers l for sign-in and sign-out notifications.
	OnAuthStateChanged(l Listener) (unsubscribe func())

	// OnIDTokenChanged registers l for sign-in, sign-out and token refresh
	// notifications.
	OnIDTokenChanged(l Listener) (unsubscribe func())

	// SignIn authenticates with email and password.
	SignIn(ctx context.Context, email, password string) (User, error)

	// SignOut discards the current user.
	SignOut(ctx context.Context) error

	// Close stops background refresh and drops all listeners.
	Close()
}
