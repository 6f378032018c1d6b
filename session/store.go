// Package session mirrors an identity provider's sign-in state into a local
// session record.
//
// A Store subscribes to the provider's auth-state and token notifications and
// keeps a State of {identity, loading, error, token} that guards and handlers
// read. Each sign-in is synced to the backend by a list of Syncers before the
// identity becomes visible.
//
// Provider callbacks, explicit sign-in and sign-out can overlap. Every change
// of signed in user starts a new generation and cancels the sync of the
// previous one, and a sync only applies its result if its generation is still
// current. A token refresh that lands while a sign-in sync is in flight wins
// over the token the sync started with.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/eventbus"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/logging"
	"google.golang.org/grpc/codes"
)

const (
	fallbackSyncError    = "Authentication error"
	fallbackSignInError  = "Sign in failed"
	fallbackSignOutError = "Sign out failed"
)

var (
	// ErrSuperseded is returned by SignIn when a newer auth state change
	// replaced the sign-in before it completed.
	ErrSuperseded = errors.NewC("sign-in superseded by a newer auth state change", codes.Aborted).
			WithPublicMessage("Sign in was interrupted, please try again")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.NewC("session closed", codes.FailedPrecondition)

	// ErrNotStarted is returned when SignIn or SignOut is called before Start.
	ErrNotStarted = errors.NewC("session not started", codes.FailedPrecondition)
)

// Option configures a Store.
type Option func(*Store)

// WithSyncers sets the syncers run on every sign-in, refresh and sign-out.
func WithSyncers(syncers ...Syncer) Option {
	return func(s *Store) {
		s.syncers = syncers
	}
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Store) {
		s.bus = bus
	}
}

// WithID sets the session ID used in logs and events.
func WithID(id string) Option {
	return func(s *Store) {
		s.id = id
	}
}

// New returns a store in the loading state. Call Start to subscribe to the
// provider.
func New(provider idp.Provider, opts ...Option) *Store {
	s := &Store{
		provider: provider,
		state:    State{Loading: true},
		changed:  make(chan struct{}),
		watchers: map[chan State]struct{}{},
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store is the session record of one browser session.
type Store struct {
	provider idp.Provider
	syncers  []Syncer
	bus      eventbus.EventBus
	id       string

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
	wg     sync.WaitGroup

	ready     chan struct{} // Closed once the first auth-state event is applied.
	readyOnce sync.Once
	done      chan struct{} // Closed by Close.

	mu sync.Mutex
	// Guarded by mu.
	state      State
	seen       bool     // An auth-state event or explicit change has been applied.
	user       idp.User // User of the latest auth-state change.
	gen        uint64   // Bumped on every change of signed in user.
	tokenSeq   uint64   // Bumped on every applied token refresh.
	cancelSync context.CancelFunc
	syncToken  string        // Token used by the in-flight sync.
	changed    chan struct{} // Closed and replaced on every state change.
	watchers   map[chan State]struct{}
	closed     bool
}

// ID returns the session ID.
func (s *Store) ID() string { return s.id }

// Start subscribes to the provider and returns once the provider's current
// user has been applied, so SignIn and SignOut never race the initial
// notification. A current user's sync may still be in flight. ctx carries the
// logger and bounds background syncs until Close.
func (s *Store) Start(ctx context.Context) {
	ctx = logging.EnsureLogger(ctx)
	logger := logging.FromContext(ctx).Named("session")
	if s.id != "" {
		logger = logger.With("session.id", s.id)
	}

	s.mu.Lock()
	if s.closed || s.ctx != nil {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(logging.With(ctx, logger))
	s.mu.Unlock()

	s.unsubs = append(s.unsubs,
		s.provider.OnAuthStateChanged(s.onAuthStateChanged),
		s.provider.OnIDTokenChanged(s.onIDTokenChanged),
	)

	select {
	case <-s.ready:
	case <-s.done:
	case <-ctx.Done():
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Watch returns a channel carrying the current state followed by every
// change. Slow readers only see the latest state. The channel is closed when
// ctx is done or the store is closed.
func (s *Store) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	s.watchers[ch] = struct{}{}
	ch <- s.state
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
	}()
	return ch
}

// Wait blocks until the store is no longer loading and returns that state.
func (s *Store) Wait(ctx context.Context) (State, error) {
	for {
		s.mu.Lock()
		st, changed, closed := s.state, s.changed, s.closed
		s.mu.Unlock()

		if !st.Loading || closed {
			return st, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return st, errors.Wrap(ctx.Err(), 0)
		}
	}
}

// ClearError resets the error.
func (s *Store) ClearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Error != "" {
		s.state.Error = ""
		s.notifyLocked()
	}
}

// SignIn signs in with the provider and syncs the new user. Syncers that
// implement LoginSyncer run Login, the others SignedIn. The result is applied
// only if the provider still reports the same user.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state.Loading = true
	s.state.Error = ""
	s.notifyLocked()
	s.mu.Unlock()

	u, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		logging.Infow(s.ctx, "session: sign-in rejected", "error", err)
		s.fail(err, fallbackSignInError)
		return err
	}

	ctx = logging.With(ctx, logging.FromContext(s.ctx))
	s.mu.Lock()
	gen, tokenSeq, syncCtx := s.beginLocked(ctx, u)
	s.mu.Unlock()

	return s.syncSignedIn(syncCtx, u, gen, tokenSeq, true)
}

// SignOut signs out with the provider and clears the identity. Syncer
// failures are logged, they do not keep the user signed in.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state.Loading = true
	s.notifyLocked()
	s.mu.Unlock()

	if err := s.provider.SignOut(ctx); err != nil {
		logging.Warnw(s.ctx, "session: provider sign-out failed", "error", err)
		s.fail(err, fallbackSignOutError)
		return err
	}
	s.signedOut(ctx)
	return nil
}

// Close unsubscribes from the provider and cancels in-flight syncs. It does
// not close the provider.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	if s.cancelSync != nil {
		s.cancelSync()
		s.cancelSync = nil
	}
	for ch := range s.watchers {
		close(ch)
	}
	s.watchers = nil
	close(s.changed)
	s.changed = make(chan struct{})
	unsubs := s.unsubs
	s.unsubs = nil
	cancel := s.cancel
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Store) onAuthStateChanged(u idp.User) {
	defer s.readyOnce.Do(func() { close(s.ready) })
	uid := uidOf(u)

	s.mu.Lock()
	if s.closed || (s.seen && uidOf(s.user) == uid) {
		s.mu.Unlock()
		return
	}
	if u == nil {
		s.mu.Unlock()
		s.signedOut(s.ctx)
		return
	}
	gen, tokenSeq, ctx := s.beginLocked(s.ctx, u)
	s.wg.Add(1)
	s.mu.Unlock()

	logging.Debugw(ctx, "session: auth state changed", "uid", uid)
	go func() {
		defer s.wg.Done()
		_ = s.syncSignedIn(ctx, u, gen, tokenSeq, false)
	}()
}

func (s *Store) onIDTokenChanged(u idp.User) {
	if u == nil {
		return
	}

	s.mu.Lock()
	if s.closed || s.user != u {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	token, err := u.IDToken(ctx, false)
	if err != nil {
		logging.Warnw(ctx, "session: could not read refreshed token", "uid", u.UID(), "error", err)
		return
	}

	s.mu.Lock()
	if s.closed || s.user != u || token == s.state.Token || token == s.syncToken {
		s.mu.Unlock()
		return
	}
	s.state.Token = token
	s.tokenSeq++
	s.notifyLocked()
	inFlight := s.cancelSync != nil
	s.mu.Unlock()

	logging.Debugw(ctx, "session: token refreshed", "uid", u.UID(), "sync.inFlight", inFlight)
	if inFlight {
		// The sign-in sync picks up the new token when it completes.
		return
	}
	s.tokenRefreshed(ctx, u, token)
}

// tokenRefreshed runs the syncers for a new token.
func (s *Store) tokenRefreshed(ctx context.Context, u idp.User, token string) {
	role := s.State().Role()
	for _, sy := range s.syncers {
		if err := sy.TokenRefreshed(ctx, u, token); err != nil {
			logging.Warnw(ctx, "session: token refresh sync failed", "uid", u.UID(), "error", err)
			s.publish(EventSyncFailed, Event{UID: u.UID(), Role: role, Error: err})
		}
	}
	s.publish(EventTokenRefreshed, Event{UID: u.UID(), Role: role})
}

// beginLocked starts a new generation for u and cancels the previous sync.
func (s *Store) beginLocked(parent context.Context, u idp.User) (uint64, uint64, context.Context) {
	if s.cancelSync != nil {
		s.cancelSync()
	}
	s.seen = true
	s.user = u
	s.gen++

	ctx, cancel := context.WithCancel(parent)
	s.cancelSync = cancel
	s.syncToken = ""

	s.state.Identity = nil
	s.state.Token = ""
	s.state.Loading = true
	s.notifyLocked()
	return s.gen, s.tokenSeq, ctx
}

// syncSignedIn fetches the token, runs the syncers and applies the result
// if gen is still current.
func (s *Store) syncSignedIn(ctx context.Context, u idp.User, gen, tokenSeq uint64, login bool) error {
	token, err := u.IDToken(ctx, false)
	var id *Identity
	if err == nil {
		s.mu.Lock()
		if s.gen == gen {
			s.syncToken = token
		}
		s.mu.Unlock()
		id, err = s.runSignedIn(ctx, u, token, login)
	}

	s.mu.Lock()
	if s.gen != gen || s.closed {
		s.mu.Unlock()
		logging.Debugw(ctx, "session: dropping stale sync", "uid", u.UID())
		if login {
			return errors.Mark(ErrSuperseded, 0)
		}
		return nil
	}
	if login && uidOf(s.provider.CurrentUser()) != u.UID() {
		s.mu.Unlock()
		logging.Debugw(ctx, "session: provider user changed during sign-in", "uid", u.UID())
		return errors.Mark(ErrSuperseded, 0)
	}
	s.cancelSync()
	s.cancelSync = nil
	s.syncToken = ""

	if s.tokenSeq == tokenSeq && token != "" {
		s.state.Token = token
	}
	latest := s.state.Token
	s.state.Loading = false
	if err != nil {
		s.state.Identity = nil
		s.state.Error = errors.PublicMessage(err, fallbackSyncError)
		s.notifyLocked()
		s.mu.Unlock()

		logging.Warnw(ctx, "session: sync failed", "uid", u.UID(), "error", err)
		s.publish(EventSyncFailed, Event{UID: u.UID(), Error: err})
		return err
	}
	s.state.Identity = id
	s.state.Error = ""
	s.notifyLocked()
	s.mu.Unlock()

	logging.Infow(ctx, "session: signed in", "uid", u.UID(), "role", id.Role)
	s.publish(EventSignedIn, Event{UID: u.UID(), Role: id.Role})

	if latest != token && latest != "" {
		// A refresh landed while syncing. Bring the syncers up to date.
		s.tokenRefreshed(s.ctx, u, latest)
	}
	return nil
}

func (s *Store) runSignedIn(ctx context.Context, u idp.User, token string, login bool) (*Identity, error) {
	id := &Identity{User: u}
	for _, sy := range s.syncers {
		var (
			p   = id.Profile
			err error
		)
		if ls, ok := sy.(LoginSyncer); ok && login {
			p, err = ls.Login(ctx, u, token)
		} else {
			p, err = sy.SignedIn(ctx, u, token)
		}
		if err != nil {
			return nil, err
		}
		if p != nil {
			id.Profile = p
		}
	}
	id.Role = resolveRole(id.Profile, token)
	return id, nil
}

// signedOut applies a sign-out unless one was already applied, then runs the
// syncers with the last token.
func (s *Store) signedOut(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.seen && s.user == nil {
		s.state.Loading = false
		s.notifyLocked()
		s.mu.Unlock()
		return
	}
	if s.cancelSync != nil {
		s.cancelSync()
		s.cancelSync = nil
	}
	s.syncToken = ""
	prev := s.user
	s.seen = true
	s.user = nil
	s.gen++
	token := s.state.Token
	role := s.state.Role()
	s.state.Identity = nil
	s.state.Token = ""
	s.state.Loading = false
	s.notifyLocked()
	s.mu.Unlock()

	if prev == nil {
		// Initial state, nobody was signed in.
		return
	}
	for _, sy := range s.syncers {
		if err := sy.SignedOut(ctx, token); err != nil {
			logging.Warnw(ctx, "session: sign-out sync failed", "uid", prev.UID(), "error", err)
			s.publish(EventSyncFailed, Event{UID: prev.UID(), Error: err})
		}
	}
	logging.Infow(ctx, "session: signed out", "uid", prev.UID())
	s.publish(EventSignedOut, Event{UID: prev.UID(), Role: role})
}

// fail records err after a rejected explicit operation. The provider keeps
// its user when an operation is rejected, so the identity is left alone.
func (s *Store) fail(err error, fallback string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Loading = s.cancelSync != nil
	s.state.Error = errors.PublicMessage(err, fallback)
	s.notifyLocked()
}

func (s *Store) checkLocked() error {
	switch {
	case s.closed:
		return errors.Mark(ErrClosed, 1)
	case s.ctx == nil:
		return errors.Mark(ErrNotStarted, 1)
	}
	return nil
}

// notifyLocked wakes waiters and pushes the state to watchers.
func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state
	}
}

func (s *Store) publish(topic string, e Event) {
	if s.bus == nil {
		return
	}
	e.SessionID = s.id
	e.At = time.Now()
	s.bus.Publish(topic, e)
}

func uidOf(u idp.User) string {
	if u == nil {
		return ""
	}
	return u.UID()
}
