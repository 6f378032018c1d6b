// Package gateway serves browser sessions over HTTP.
//
// Each browser gets a session ID cookie and its own session.Store, backed by
// its own identity provider client and backend client. The gateway exposes
// the store through a small JSON API and an event stream, dispatches "/" to
// the signed in role's landing page, and proxies the frontend behind the
// access guard.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/edupath/authsync"
	"github.com/edupath/authsync/backend"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/eventbus"
	"github.com/edupath/authsync/guard"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/logging"
	"github.com/edupath/authsync/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
)

// ProviderFactory returns a provider for a new browser session. ctx lives as
// long as the gateway.
type ProviderFactory func(ctx context.Context) (idp.Provider, error)

// Option configures a Gateway.
type Option func(*Gateway)

// WithRegistry sets the Prometheus registry metrics are registered with and
// served from.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(g *Gateway) {
		g.registry = reg
	}
}

// WithBackendOptions sets options for the backend client of every session.
func WithBackendOptions(opts ...backend.Option) Option {
	return func(g *Gateway) {
		g.backendOpts = append(g.backendOpts, opts...)
	}
}

// WithSyncMode selects the syncers attached to each session.
func WithSyncMode(m SyncMode) Option {
	return func(g *Gateway) {
		g.syncMode = m
	}
}

// WithAutoRegister creates backend profiles for users that have none.
func WithAutoRegister(enabled bool) Option {
	return func(g *Gateway) {
		g.autoRegister = enabled
	}
}

// WithUpstream sets the frontend pages are proxied to.
func WithUpstream(u string) Option {
	return func(g *Gateway) {
		g.upstream = u
	}
}

// WithRoutes sets the guarded path prefixes.
func WithRoutes(routes ...Route) Option {
	return func(g *Gateway) {
		g.routes = routes
	}
}

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(d time.Duration) Option {
	return func(g *Gateway) {
		g.ttl = d
	}
}

// WithMaxSessions bounds the number of open sessions. Zero means no limit.
func WithMaxSessions(n int) Option {
	return func(g *Gateway) {
		g.maxSessions = n
	}
}

// WithGuardOptions passes options to the access guard.
func WithGuardOptions(opts ...guard.Option) Option {
	return func(g *Gateway) {
		g.guardOpts = append(g.guardOpts, opts...)
	}
}

// WithSecurityHeaders replaces the security headers read from config.
func WithSecurityHeaders(h *SecurityHeaders) Option {
	return func(g *Gateway) {
		g.security = h
	}
}

// WithCSRFSigningKey sets the key CSRF tokens are signed with.
func WithCSRFSigningKey(key []byte) Option {
	return func(g *Gateway) {
		g.csrfKey = key
	}
}

// WithClock overrides the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// Gateway holds the open browser sessions and serves them over HTTP.
type Gateway struct {
	providers    ProviderFactory
	backendOpts  []backend.Option
	syncMode     SyncMode
	autoRegister bool
	upstream     string
	routes       []Route
	ttl          time.Duration
	maxSessions  int
	cookieName   string
	secure       bool
	guardOpts    []guard.Option
	security     *SecurityHeaders
	csrfKey      []byte
	registry     *prometheus.Registry
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	// streams is done once the server starts shutting down so open event
	// streams end and connections can drain.
	streams     context.Context
	stopStreams context.CancelFunc
	bus         *eventbus.Bus
	sessions    *registry
	guard       *guard.Guard
	proxy       http.Handler
	events      *prometheus.CounterVec
	done        chan struct{}
}

// New returns a gateway configured from authsync.Config and opts. ctx carries
// the logger and bounds every session.
func New(ctx context.Context, providers ProviderFactory, opts ...Option) (*Gateway, error) {
	mode, err := ParseSyncMode(authsync.ConfigString("session.sync"))
	if err != nil {
		return nil, err
	}
	routes, err := routesFromConfig()
	if err != nil {
		return nil, err
	}
	address, _ := url.Parse(authsync.ConfigString("address"))

	g := &Gateway{
		providers:    providers,
		syncMode:     mode,
		autoRegister: authsync.ConfigBool("session.autoRegister"),
		upstream:     authsync.ConfigString("gateway.upstream"),
		routes:       routes,
		ttl:          authsync.ConfigDuration("gateway.sessionTTL"),
		maxSessions:  authsync.ConfigInt("gateway.maxSessions"),
		cookieName:   authsync.ConfigString("gateway.sessionCookie"),
		secure:       address != nil && address.Scheme == "https",
		security:     securityFromConfig(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if len(g.csrfKey) == 0 {
		g.csrfKey = csrfKeyFromConfig()
	}
	if g.providers == nil {
		return nil, errors.NewC("gateway: provider factory is required", codes.InvalidArgument)
	}
	if g.cookieName == "" {
		g.cookieName = DefaultSessionCookie
	}
	if g.ttl <= 0 {
		g.ttl = 30 * time.Minute
	}
	if g.registry == nil {
		g.registry = prometheus.NewRegistry()
	}

	ctx = logging.EnsureLogger(ctx)
	ctx = logging.With(ctx, logging.FromContext(ctx).Named("gateway"))
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.streams, g.stopStreams = context.WithCancel(g.ctx)

	factory := promauto.With(g.registry)
	active := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "authsync",
		Subsystem: "gateway",
		Name:      "sessions",
		Help:      "Open browser sessions",
	})
	g.events = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authsync",
		Subsystem: "session",
		Name:      "events_total",
		Help:      "Session lifecycle events by topic",
	}, []string{"event"})

	g.guard = guard.New(g.resolve, append([]guard.Option{
		guard.WithRegisterer(g.registry),
		guard.WithErrorWriter(writeError),
	}, g.guardOpts...)...)

	if g.proxy, err = newProxy(g.upstream); err != nil {
		g.cancel()
		return nil, err
	}

	g.bus = eventbus.New(g.ctx)
	g.subscribeEvents()

	g.sessions = newRegistry(g.ctx, g.newEntry, g.ttl, g.maxSessions, g.now, active)
	g.done = make(chan struct{})
	go func() {
		defer close(g.done)
		g.sessions.run(g.ctx)
	}()
	return g, nil
}

// Guard returns the access guard used for protected routes.
func (g *Gateway) Guard() *guard.Guard { return g.guard }

// Handler returns the gateway's routes.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware(logging.FromContext(g.ctx)))
	r.Use(g.security.Middleware)

	r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(g.withSession)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(gziphandler.GzipHandler, g.csrfProtect)
				r.Get("/csrf", g.handleCSRF)
				r.Post("/login", g.handleLogin)
				r.Post("/logout", g.handleLogout)
				r.Post("/clear-error", g.handleClearError)
				r.Get("/state", g.handleState)
			})
			r.Get("/stream", g.handleStream)
		})

		r.Method(http.MethodGet, "/", g.guard.Dispatch())

		var protected []protectedRoute
		for _, rt := range g.routes {
			roles, err := rt.roles()
			if err != nil {
				logging.Errorw(g.ctx, "gateway: skipping route", "error", err)
				continue
			}
			p := rt.pattern()
			if p == "" {
				continue
			}
			protected = append(protected, protectedRoute{prefix: p, require: g.guard.Require(roles...)})
		}

		r.Handle("/*", protect(protected)(g.proxy))
	})
	return r
}

// Close closes every session and stops background work.
func (g *Gateway) Close(ctx context.Context) error {
	g.cancel()
	<-g.done
	g.sessions.closeAll()
	return g.bus.Shutdown(ctx)
}

func (g *Gateway) newEntry(ctx context.Context, id string) (*entry, error) {
	p, err := g.providers(ctx)
	if err != nil {
		return nil, errors.WrapPrefix(err, "gateway: creating provider", 0)
	}
	client, err := backend.New(g.backendOpts...)
	if err != nil {
		p.Close()
		return nil, err
	}

	var syncers []session.Syncer
	if g.syncMode == SyncProfile || g.syncMode == SyncBoth {
		syncers = append(syncers, &session.ProfileSync{Client: client, AutoRegister: g.autoRegister})
	}
	if g.syncMode == SyncCookie || g.syncMode == SyncBoth {
		syncers = append(syncers, &session.CookieSync{Client: client})
	}

	st := session.New(p,
		session.WithID(id),
		session.WithSyncers(syncers...),
		session.WithEventBus(g.bus),
	)
	st.Start(ctx)
	return &entry{store: st, provider: p}, nil
}

type entryKey struct{}

// withSession attaches the browser's session, creating the session and its
// cookie on first visit.
func (g *Gateway) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(g.cookieName); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     g.cookieName,
				Value:    id,
				Path:     "/",
				Secure:   g.secure,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}

		e, err := g.sessions.get(id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		logging.Track(r.Context(), "session.id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), entryKey{}, e)))
	})
}

func entryFromRequest(r *http.Request) (*entry, error) {
	e, ok := r.Context().Value(entryKey{}).(*entry)
	if !ok {
		return nil, errors.NewC("gateway: no session on request", codes.Internal)
	}
	return e, nil
}

func (g *Gateway) resolve(r *http.Request) (guard.Session, error) {
	e, err := entryFromRequest(r)
	if err != nil {
		return nil, err
	}
	return e.store, nil
}
