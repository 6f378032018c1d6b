package session

import (
	"github.com/edupath/authsync/backend"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/role"
)

// Identity is a signed in user as seen by the application.
type Identity struct {
	// User is the provider's record. It is never nil.
	User idp.User

	// Profile is the backend's record, nil when only a session cookie is
	// synced.
	Profile *backend.Profile

	// Role is "" when neither the profile nor the token carries a known role.
	Role role.Role
}

// State is a snapshot of a session.
type State struct {
	Identity *Identity
	Loading  bool
	Error    string
	Token    string
}

// Authenticated reports whether a user is signed in and synced.
func (s State) Authenticated() bool {
	return s.Identity != nil
}

// Role returns the signed in user's role, or "".
func (s State) Role() role.Role {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.Role
}

// Authorized reports whether a user is signed in with one of roles. No roles
// means any signed in user with a known role.
func (s State) Authorized(roles ...role.Role) bool {
	return s.Authenticated() && role.Authorized(s.Role(), role.NewSet(roles...))
}

// UID returns the signed in user's provider ID, or "".
func (s State) UID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.User.UID()
}

func resolveRole(profile *backend.Profile, token string) role.Role {
	if profile != nil {
		if profile.Role.Valid() {
			return profile.Role
		}
		return ""
	}
	if res, err := idp.ParseTokenResult(token); err == nil {
		return res.Role()
	}
	return ""
}
