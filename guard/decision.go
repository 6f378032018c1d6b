package guard

import (
	"github.com/edupath/authsync/role"
	"github.com/edupath/authsync/session"
)

// Decision is the outcome of evaluating a session against a gate.
type Decision int

const (
	// Pending means the session is still loading.
	Pending Decision = iota
	// Failed means the last sync failed and the session carries an error.
	Failed
	// Unauthenticated means nobody is signed in.
	Unauthenticated
	// Forbidden means the signed in role is not allowed.
	Forbidden
	// Allowed means the request may proceed.
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	case Allowed:
		return "allowed"
	}
	return "unknown"
}

// Evaluate decides whether st passes a gate admitting allowed. An empty set
// admits any signed in user, with or without a role. Checks run in order:
// loading, error, identity, role.
func Evaluate(st session.State, allowed role.Set) Decision {
	switch {
	case st.Loading:
		return Pending
	case st.Error != "":
		return Failed
	case !st.Authenticated():
		return Unauthenticated
	case !allowed.Empty() && !role.Authorized(st.Role(), allowed):
		return Forbidden
	}
	return Allowed
}
