// Package idptest provides an in-memory identity provider for tests.
//
// Tokens are HS256 JWTs carrying the same claims a hosted provider would
// issue, so code under test can decode them with idp.ParseTokenResult and a
// fake backend can check them with Verify.
package idptest

import (
	"context"
	"sync"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/role"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// Default values for minted tokens.
const (
	DefaultProject = "authsync-test"
	DefaultTTL     = time.Hour
)

// Account is a user known to the fake provider.
type Account struct {
	UID           string
	Email         string
	Password      string
	DisplayName   string
	EmailVerified bool
	Disabled      bool

	// Role is added as the role claim when set.
	Role role.Role

	// Claims are merged into every token minted for the account.
	Claims map[string]any
}

// Option configures a Provider.
type Option func(*Provider)

// WithAccount registers an account.
func WithAccount(a Account) Option {
	return func(p *Provider) {
		p.accounts[a.Email] = a
	}
}

// WithTokenTTL sets the lifetime of minted tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) {
		p.ttl = d
	}
}

// WithSigningKey sets the HMAC key used to sign tokens.
func WithSigningKey(key []byte) Option {
	return func(p *Provider) {
		p.key = key
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New returns a fake provider with no signed in user.
func New(opts ...Option) *Provider {
	p := &Provider{
		accounts: map[string]Account{},
		project:  DefaultProject,
		key:      []byte("idptest-signing-key"),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provider is an in-memory idp.Provider.
type Provider struct {
	accounts map[string]Account
	project  string
	key      []byte
	ttl      time.Duration
	now      func() time.Time

	emitMu sync.Mutex // Serializes state changes with their notifications.
	mu     sync.Mutex
	// Guarded by mu.
	current   *User
	tokenErr  error
	signInErr error
	tokenHook func(context.Context) error
	minted    int

	authState    idp.Emitter
	tokenChanged idp.Emitter
}

var _ idp.Provider = (*Provider)(nil)

// AddAccount registers or replaces an account.
func (p *Provider) AddAccount(a Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[a.Email] = a
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

// Current returns the signed in user with its concrete type, or nil.
func (p *Provider) Current() *User {
	p.mu.Lock()
	defer p.mu.Unlock()
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
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, 0)
	}

	p.mu.Lock()
	a, ok := p.accounts[email]
	injected := p.signInErr
	p.mu.Unlock()

	switch {
	case injected != nil:
		return nil, injected
	case !ok || a.Password != password:
		return nil, errors.Mark(idp.ErrInvalidCredentials, 0)
	case a.Disabled:
		return nil, errors.Mark(idp.ErrUserDisabled, 0)
	}

	u := &User{p: p, account: a}
	p.mu.Lock()
	u.token = p.mintLocked(a)
	p.mu.Unlock()

	p.setCurrent(u)
	return u, nil
}

// SignOut implements idp.Provider.
func (p *Provider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, 0)
	}
	p.setCurrent(nil)
	return nil
}

// Revoke signs the current user out as if the session had been revoked
// elsewhere. Listeners observe a sign-out the store did not initiate.
func (p *Provider) Revoke() {
	p.setCurrent(nil)
}

// Refresh issues a new token for the current user and notifies token
// listeners. It returns the new token, or "" when no user is signed in.
func (p *Provider) Refresh() string {
	u := p.Current()
	if u == nil {
		return ""
	}
	return p.refresh(u)
}

func (p *Provider) refresh(u *User) string {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	u.token = p.mintLocked(u.account)
	tok := u.token
	current := p.current == u
	p.mu.Unlock()

	if current {
		p.tokenChanged.Emit(u)
	}
	return tok
}

// FailTokens makes IDToken return err until it is called again with nil.
func (p *Provider) FailTokens(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErr = err
}

// FailSignIn makes SignIn return err until it is called again with nil.
func (p *Provider) FailSignIn(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signInErr = err
}

// SetTokenHook installs a function called at the start of every IDToken
// call. Tests use it to block token retrieval or to fail it for one call.
func (p *Provider) SetTokenHook(fn func(context.Context) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenHook = fn
}

// Minted returns the number of tokens issued so far.
func (p *Provider) Minted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minted
}

// Verify checks the signature and expiry of a token minted by p.
func (p *Provider) Verify(token string) (*idp.TokenResult, error) {
	_, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return p.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer()),
		jwt.WithAudience(p.project),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, errors.NewC(err, codes.Unauthenticated)
	}
	return idp.ParseTokenResult(token)
}

// Close implements idp.Provider.
func (p *Provider) Close() {
	p.authState.Close()
	p.tokenChanged.Close()
}

func (p *Provider) issuer() string {
	return "https://securetoken.google.com/" + p.project
}

func (p *Provider) setCurrent(u *User) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.current = u
	p.mu.Unlock()

	var iu idp.User
	if u != nil {
		iu = u
	}
	p.authState.Emit(iu)
	p.tokenChanged.Emit(iu)
}

func (p *Provider) mintLocked(a Account) string {
	now := p.now()
	claims := jwt.MapClaims{
		"iss":            p.issuer(),
		"aud":            p.project,
		"sub":            a.UID,
		"user_id":        a.UID,
		"jti":            uuid.NewString(),
		"iat":            now.Unix(),
		"exp":            now.Add(p.ttl).Unix(),
		"auth_time":      now.Unix(),
		"email":          a.Email,
		"email_verified": a.EmailVerified,
		"firebase":       map[string]any{"sign_in_provider": "password"},
	}
	if a.DisplayName != "" {
		claims["name"] = a.DisplayName
	}
	if a.Role != "" {
		claims[idp.RoleClaim] = a.Role.String()
	}
	for k, v := range a.Claims {
		claims[k] = v
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.key)
	if err != nil {
		panic(err)
	}
	p.minted++
	return s
}

// User is a user signed in to the fake provider.
type User struct {
	p       *Provider
	account Account
	token   string // Guarded by p.mu.
}

var _ idp.User = (*User)(nil)

func (u *User) UID() string         { return u.account.UID }
func (u *User) Email() string       { return u.account.Email }
func (u *User) DisplayName() string { return u.account.DisplayName }
func (u *User) EmailVerified() bool { return u.account.EmailVerified }

// IDToken implements idp.User. A forced refresh notifies token listeners
// when u is still the current user.
func (u *User) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	u.p.mu.Lock()
	hook := u.p.tokenHook
	u.p.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, 0)
	}

	u.p.mu.Lock()
	if u.p.tokenErr != nil {
		err := u.p.tokenErr
		u.p.mu.Unlock()
		return "", err
	}
	if !forceRefresh {
		tok := u.token
		u.p.mu.Unlock()
		return tok, nil
	}
	u.p.mu.Unlock()

	return u.p.refresh(u), nil
}

// IDTokenResult implements idp.User.
func (u *User) IDTokenResult(ctx context.Context) (*idp.TokenResult, error) {
	tok, err := u.IDToken(ctx, false)
	if err != nil {
		return nil, err
	}
	return idp.ParseTokenResult(tok)
}

// Token returns the user's current token without side effects.
func (u *User) Token() string {
	u.p.mu.Lock()
	defer u.p.mu.Unlock()
	return u.token
}
