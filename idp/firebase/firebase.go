// Package firebase implements idp.Provider against the Firebase Auth REST
// API.
//
// Password sign-in goes to the Identity Toolkit endpoint, tokens are refreshed
// through the Secure Token endpoint, and every ID token that reaches a caller
// has been verified against Google's published signing keys. A background
// refresher re-issues the token shortly before it expires so token listeners
// see a fresh token without anyone asking for one.
package firebase

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/logging"
	"golang.org/x/oauth2"
)

// Public endpoints.
const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com"
	DefaultJWKSURL            = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	issuerPrefix = "https://securetoken.google.com/"
)

const (
	defaultRefreshBefore = 5 * time.Minute
	defaultRetryInterval = 30 * time.Second
)

// Config holds the connection settings for a Firebase project.
type Config struct {
	APIKey    string
	ProjectID string

	IdentityToolkitURL string
	SecureTokenURL     string
	JWKSURL            string

	// SkipVerify disables signature checks on ID tokens. Issuer, audience and
	// expiry are still checked. Only meant for the local auth emulator.
	SkipVerify bool

	// RefreshBefore is how long before expiry a token is considered stale.
	RefreshBefore time.Duration

	// RetryInterval is the delay between failed background refreshes.
	RetryInterval time.Duration

	HTTPClient *http.Client
}

func (c *Config) setDefaults() {
	if c.IdentityToolkitURL == "" {
		c.IdentityToolkitURL = DefaultIdentityToolkitURL
	}
	if c.SecureTokenURL == "" {
		c.SecureTokenURL = DefaultSecureTokenURL
	}
	if c.JWKSURL == "" {
		c.JWKSURL = DefaultJWKSURL
	}
	if c.RefreshBefore == 0 {
		c.RefreshBefore = defaultRefreshBefore
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithKeySet verifies tokens against ks instead of the remote JWKS.
func WithKeySet(ks oidc.KeySet) Option {
	return func(p *Provider) {
		p.keySet = ks
	}
}

// Provider is an idp.Provider backed by Firebase Auth. One Provider holds one
// user session, so a server creates one per browser session.
type Provider struct {
	cfg      Config
	now      func() time.Time
	keySet   oidc.KeySet
	verifier *oidc.IDTokenVerifier

	// ctx outlives individual requests and is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	emitMu sync.Mutex // Serializes state changes with their notifications.
	mu     sync.Mutex
	// Guarded by mu.
	current *User

	authState    idp.Emitter
	tokenChanged idp.Emitter
}

var _ idp.Provider = (*Provider)(nil)

// New returns a Provider with no signed in user. ctx carries the logger and
// bounds background work.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firebase: api key is required")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase: project id is required")
	}
	cfg.setDefaults()

	p := &Provider{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(logging.EnsureLogger(ctx))
	p.ctx = logging.With(p.ctx, logging.FromContext(p.ctx).Named("firebase"))

	if p.keySet == nil {
		p.keySet = oidc.NewRemoteKeySet(oidc.ClientContext(p.ctx, cfg.HTTPClient), cfg.JWKSURL)
	}
	p.verifier = oidc.NewVerifier(issuerPrefix+cfg.ProjectID, p.keySet, &oidc.Config{
		ClientID:                   cfg.ProjectID,
		Now:                        p.now,
		InsecureSkipSignatureCheck: cfg.SkipVerify,
	})
	return p, nil
}

// NewFactory returns a constructor of Providers, one per browser session,
// that share a single remote key set. Signing keys are then fetched once per
// process instead of once per session. ctx bounds key fetches.
func NewFactory(ctx context.Context, cfg Config, opts ...Option) func(context.Context) (idp.Provider, error) {
	cfg.setDefaults()
	ks := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, cfg.HTTPClient), cfg.JWKSURL)
	opts = append([]Option{WithKeySet(ks)}, opts...)
	return func(ctx context.Context) (idp.Provider, error) {
		p, err := New(ctx, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// CurrentUser implements idp.Provider.
func (p *Provider) CurrentUser() idp.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current
}

// OnAuthStateChanged implements idp.Provider.
func (p *Provider) OnAuthStateChanged(l idp.Listener) func() {
	return p.authState.Subscribe(l, p.CurrentUser)
}

// OnIDTokenChanged implements idp.Provider.
func (p *Provider) OnIDTokenChanged(l idp.Listener) func() {
	return p.tokenChanged.Subscribe(l, p.CurrentUser)
}

// SignIn implements idp.Provider.
func (p *Provider) SignIn(ctx context.Context, email, password string) (idp.User, error) {
	resp, err := p.signInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  resp.IDToken,
		RefreshToken: resp.RefreshToken,
		Expiry:       p.now().Add(parseSeconds(resp.ExpiresIn)),
	}
	u, err := p.newUser(ctx, tok)
	if err != nil {
		return nil, err
	}
	if u.email == "" {
		u.email = resp.Email
	}
	if u.name == "" {
		u.name = resp.DisplayName
	}

	logging.Infow(ctx, "firebase: signed in", "uid", u.uid)
	p.setCurrent(u)
	return u, nil
}

// SignOut implements idp.Provider. Firebase has no server side sign-out for
// password sessions, the refresh token is simply dropped.
func (p *Provider) SignOut(ctx context.Context) error {
	p.setCurrent(nil)
	return nil
}

// Close implements idp.Provider.
func (p *Provider) Close() {
	p.setCurrent(nil)
	p.cancel()
	p.authState.Close()
	p.tokenChanged.Close()
	p.wg.Wait()
}

func (p *Provider) setCurrent(u *User) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	prev := p.current
	p.current = u
	p.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	if u != nil {
		u.startRefresher()
	}
	if prev == nil && u == nil {
		return
	}

	var iu idp.User
	if u != nil {
		iu = u
	}
	p.authState.Emit(iu)
	p.tokenChanged.Emit(iu)
}

// tokenChangedFor notifies token listeners if u is still signed in.
func (p *Provider) tokenChangedFor(u *User) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	current := p.current == u
	p.mu.Unlock()
	if current {
		p.tokenChanged.Emit(u)
	}
}

// signOutIfCurrent drops u after its session became unusable.
func (p *Provider) signOutIfCurrent(u *User) {
	p.mu.Lock()
	current := p.current == u
	p.mu.Unlock()
	if current {
		p.setCurrent(nil)
	}
}

// verify checks raw and returns its claims.
func (p *Provider) verify(ctx context.Context, raw string) (*idp.TokenResult, error) {
	if _, err := p.verifier.Verify(ctx, raw); err != nil {
		return nil, errors.Mark(idp.ErrProvider, 0).Append("id token verification failed: " + err.Error())
	}
	return idp.ParseTokenResult(raw)
}

func parseSeconds(s string) time.Duration {
	d, err := time.ParseDuration(s + "s")
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
