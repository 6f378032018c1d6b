package session

import (
	"time"

	"github.com/edupath/authsync/role"
)

// Topics published on the event bus.
const (
	EventSignedIn       = "session.signedIn"
	EventSignedOut      = "session.signedOut"
	EventTokenRefreshed = "session.tokenRefreshed"
	EventSyncFailed     = "session.syncFailed"
)

// Event is the payload of every session topic.
type Event struct {
	SessionID string
	UID       string
	Role      role.Role
	Error     error
	At        time.Time
}
