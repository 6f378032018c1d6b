package gateway

import (
	"strings"

	"github.com/edupath/authsync"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/role"
	"google.golang.org/grpc/codes"
)

func init() {
	authsync.RegisterConfigKeys(
		authsync.ConfigKeyInfo{
			Key:         "gateway.sessionCookie",
			Description: "Name of the cookie carrying the browser session ID",
			Type:        "string",
			Default:     DefaultSessionCookie,
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.sessionTTL",
			Description: "Idle time after which a browser session is closed",
			Type:        "duration",
			Default:     "30m",
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.maxSessions",
			Description: "Upper bound on concurrently open browser sessions",
			Type:        "int",
			Default:     10000,
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.upstream",
			Description: "URL of the frontend that guarded and public pages are proxied to",
			Type:        "string",
		},
		authsync.ConfigKeyInfo{
			Key:         "gateway.protected",
			Description: "Guarded path prefixes, each with a prefix and optional list of roles",
			Type:        "[]map",
			Namespace:   true,
		},
		authsync.ConfigKeyInfo{
			Key:         "session.sync",
			Description: "What a sign-in is synced to the backend as: `profile`, `cookie` or `both`",
			Type:        "string",
			Default:     string(SyncBoth),
		},
		authsync.ConfigKeyInfo{
			Key:         "session.autoRegister",
			Description: "Create a backend profile for users that have none",
			Type:        "bool",
			Default:     false,
		},
	)
}

// DefaultSessionCookie names the browser session cookie.
const DefaultSessionCookie = "as-sid"

// SyncMode selects the syncers attached to each session.
type SyncMode string

const (
	SyncProfile SyncMode = "profile"
	SyncCookie  SyncMode = "cookie"
	SyncBoth    SyncMode = "both"
)

// ParseSyncMode parses s case-insensitively.
func ParseSyncMode(s string) (SyncMode, error) {
	switch m := SyncMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SyncProfile, SyncCookie, SyncBoth:
		return m, nil
	case "":
		return SyncBoth, nil
	}
	return "", errors.Codef(codes.InvalidArgument, "gateway: unknown sync mode %q", s)
}

// Route guards every path under Prefix. Without roles any signed in user is
// admitted.
type Route struct {
	Prefix string   `koanf:"prefix"`
	Roles  []string `koanf:"roles"`
}

func (rt Route) roles() ([]role.Role, error) {
	set, err := role.ParseSet(rt.Roles...)
	if err != nil {
		return nil, errors.WrapPrefix(err, "gateway: route "+rt.Prefix, 0)
	}
	out := make([]role.Role, 0, len(set))
	for _, r := range set.Strings() {
		out = append(out, role.Role(r))
	}
	return out, nil
}

func (rt Route) pattern() string {
	p := "/" + strings.Trim(rt.Prefix, "/")
	if p == "/" {
		return ""
	}
	return p
}

func routesFromConfig() ([]Route, error) {
	if !authsync.ConfigExists("gateway.protected") {
		return nil, nil
	}
	var routes []Route
	if err := authsync.ConfigUnmarshal("gateway.protected", &routes); err != nil {
		return nil, errors.WrapPrefix(err, "gateway: invalid gateway.protected", 0)
	}
	return routes, nil
}
