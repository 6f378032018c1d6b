// Package guard gates HTTP routes on the state of the request's session.
//
// A guarded request waits briefly for a loading session to settle, then is
// served, redirected to the login page, or rejected. Dispatch sends a signed
// in user to the landing page of their role.
package guard

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/edupath/authsync"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/logging"
	"github.com/edupath/authsync/role"
	"github.com/edupath/authsync/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/codes"
)

func init() {
	authsync.RegisterConfigKeys(
		authsync.ConfigKeyInfo{
			Key:         "guard.loginPath",
			Description: "Path unauthenticated users are redirected to",
			Type:        "string",
			Default:     "/login",
		},
		authsync.ConfigKeyInfo{
			Key:         "guard.nextParam",
			Description: "Query parameter carrying the originally requested URL on login redirects",
			Type:        "string",
			Default:     "next",
		},
		authsync.ConfigKeyInfo{
			Key:         "guard.loadingTimeout",
			Description: "How long a guarded request waits for a loading session",
			Type:        "duration",
			Default:     "5s",
		},
		authsync.ConfigKeyInfo{
			Key:         "guard.forbiddenRedirect",
			Description: "Redirect users without the required role to their role's home instead of returning 403",
			Type:        "bool",
			Default:     false,
		},
		authsync.ConfigKeyInfo{
			Key:         "guard.homes",
			Description: "Landing path per role, e.g. guard.homes.teacher: /classes",
			Type:        "map[string]string",
			Namespace:   true,
		},
	)
}

var (
	// ErrLoading is returned while the session has not settled.
	ErrLoading = errors.NewC("session is loading", codes.Unavailable).
			WithPublicMessage("Checking your sign-in, please retry shortly")

	// ErrForbidden is returned when the signed in role is not allowed.
	ErrForbidden = errors.NewC("role not allowed", codes.PermissionDenied).
			WithPublicMessage("You don't have permission to access this page.")

	// ErrSessionFailed is returned when the session carries an error. Its
	// public message is replaced by the session's error.
	ErrSessionFailed = errors.NewC("session sync failed", codes.Unauthenticated)
)

// Session is the part of a session.Store the guard reads.
type Session interface {
	State() session.State
	Wait(ctx context.Context) (session.State, error)
}

// Resolver returns the session for a request.
type Resolver func(r *http.Request) (Session, error)

// ErrorWriter renders an error response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Option configures a Guard.
type Option func(*Guard)

// WithLoginPath sets where unauthenticated users are sent.
func WithLoginPath(p string) Option {
	return func(g *Guard) {
		g.loginPath = p
	}
}

// WithHomes sets the landing path per role.
func WithHomes(h role.Homes) Option {
	return func(g *Guard) {
		g.homes = h
	}
}

// WithForbiddenRedirect sends users without an allowed role to their home
// instead of rejecting them.
func WithForbiddenRedirect(enabled bool) Option {
	return func(g *Guard) {
		g.forbiddenRedirect = enabled
	}
}

// WithLoadingTimeout bounds how long a request waits for a loading session.
func WithLoadingTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.loadingTimeout = d
	}
}

// WithErrorWriter sets how rejections are rendered.
func WithErrorWriter(fn ErrorWriter) Option {
	return func(g *Guard) {
		g.writeError = fn
	}
}

// WithRegisterer sets the Prometheus registerer for the decision counter.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Guard) {
		g.registerer = reg
	}
}

// Guard gates routes on session state.
type Guard struct {
	resolve           Resolver
	loginPath         string
	nextParam         string
	homes             role.Homes
	forbiddenRedirect bool
	loadingTimeout    time.Duration
	writeError        ErrorWriter
	registerer        prometheus.Registerer

	decisions *prometheus.CounterVec
}

// New returns a guard configured from authsync.Config and opts.
func New(resolve Resolver, opts ...Option) *Guard {
	g := &Guard{
		resolve:           resolve,
		loginPath:         authsync.ConfigString("guard.loginPath"),
		nextParam:         authsync.ConfigString("guard.nextParam"),
		homes:             role.DefaultHomes().Merge(authsync.ConfigStringMap("guard.homes")),
		forbiddenRedirect: authsync.ConfigBool("guard.forbiddenRedirect"),
		loadingTimeout:    authsync.ConfigDuration("guard.loadingTimeout"),
		writeError:        writeTextError,
		registerer:        prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.loginPath == "" {
		g.loginPath = "/login"
	}
	if g.nextParam == "" {
		g.nextParam = "next"
	}

	g.decisions = promauto.With(g.registerer).NewCounterVec(prometheus.CounterOpts{
		Namespace: "authsync",
		Subsystem: "guard",
		Name:      "decisions_total",
		Help:      "Guard decisions by outcome",
	}, []string{"decision"})
	return g
}

// Homes returns the landing paths used by Dispatch.
func (g *Guard) Homes() role.Homes { return g.homes }

// Require returns middleware admitting signed in users with one of roles.
// Without roles any signed in user is admitted.
func (g *Guard) Require(roles ...role.Role) func(http.Handler) http.Handler {
	allowed := role.NewSet(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, ok := g.settle(w, r)
			if !ok {
				return
			}
			d := g.decide(r, st, allowed)
			switch d {
			case Allowed:
				next.ServeHTTP(w, r.WithContext(WithState(r.Context(), st)))
			case Forbidden:
				home := g.homes.Path(st.Role())
				if g.forbiddenRedirect && st.Role().Valid() && home != r.URL.Path {
					http.Redirect(w, r, home, http.StatusSeeOther)
					return
				}
				g.writeError(w, r, errors.Mark(ErrForbidden, 0))
			default:
				g.reject(w, r, d, st)
			}
		})
	}
}

// Dispatch returns a handler that redirects to the signed in role's home.
func (g *Guard) Dispatch() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, ok := g.settle(w, r)
		if !ok {
			return
		}
		d := g.decide(r, st, nil)
		switch d {
		case Allowed:
			http.Redirect(w, r, g.homes.Path(st.Role()), http.StatusSeeOther)
		case Forbidden:
			// Signed in without a known role, there is nowhere to send them.
			g.writeError(w, r, errors.Mark(ErrForbidden, 0))
		default:
			g.reject(w, r, d, st)
		}
	})
}

// settle resolves the session and waits for it to stop loading.
func (g *Guard) settle(w http.ResponseWriter, r *http.Request) (session.State, bool) {
	sess, err := g.resolve(r)
	if err != nil {
		g.writeError(w, r, err)
		return session.State{}, false
	}
	st := sess.State()
	if st.Loading && g.loadingTimeout > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), g.loadingTimeout)
		st, _ = sess.Wait(ctx)
		cancel()
	}
	return st, true
}

func (g *Guard) decide(r *http.Request, st session.State, allowed role.Set) Decision {
	d := Evaluate(st, allowed)
	g.decisions.WithLabelValues(d.String()).Inc()
	logging.Track(r.Context(), "guard.decision", d.String())
	if uid := st.UID(); uid != "" {
		logging.Track(r.Context(), "guard.uid", uid)
	}
	return d
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, d Decision, st session.State) {
	switch d {
	case Pending:
		secs := max(int(g.loadingTimeout.Seconds()), 1)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		g.writeError(w, r, errors.Mark(ErrLoading, 0))
	case Failed:
		g.writeError(w, r, errors.WithPublicMessage(ErrSessionFailed, st.Error))
	case Unauthenticated:
		http.Redirect(w, r, g.LoginURL(r), http.StatusSeeOther)
	}
}

// LoginURL returns the login path with the requested URL as the next
// parameter. The login page itself is never used as next.
func (g *Guard) LoginURL(r *http.Request) string {
	next := r.URL.RequestURI()
	if r.URL.Path == g.loginPath || next == "/" || !strings.HasPrefix(next, "/") {
		return g.loginPath
	}
	return g.loginPath + "?" + url.Values{g.nextParam: {next}}.Encode()
}

func writeTextError(w http.ResponseWriter, r *http.Request, err error) {
	http.Error(w, errors.PublicMessage(err, "Internal error"), errors.HTTPStatusCode(err))
}
