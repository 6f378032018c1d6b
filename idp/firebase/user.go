package firebase

import (
	"context"
	"sync"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/logging"
	"golang.org/x/oauth2"
)

// User is a user signed in to Firebase.
type User struct {
	p        *Provider
	uid      string
	email    string
	name     string
	verified bool

	ctx    context.Context
	cancel context.CancelFunc
	src    *refreshSource

	mu sync.Mutex
	// Guarded by mu.
	ts     oauth2.TokenSource
	last   string
	expiry time.Time
}

var _ idp.User = (*User)(nil)

func (p *Provider) newUser(ctx context.Context, tok *oauth2.Token) (*User, error) {
	res, err := p.verify(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	u := &User{
		p:      p,
		uid:    res.Subject,
		last:   tok.AccessToken,
		expiry: tok.Expiry,
	}
	u.email, _ = res.Claims["email"].(string)
	u.name, _ = res.Claims["name"].(string)
	u.verified, _ = res.Claims["email_verified"].(bool)

	u.ctx, u.cancel = context.WithCancel(p.ctx)
	u.src = &refreshSource{p: p, ctx: u.ctx, refreshToken: tok.RefreshToken}
	u.ts = oauth2.ReuseTokenSourceWithExpiry(tok, u.src, p.cfg.RefreshBefore)
	return u, nil
}

func (u *User) UID() string         { return u.uid }
func (u *User) Email() string       { return u.email }
func (u *User) DisplayName() string { return u.name }
func (u *User) EmailVerified() bool { return u.verified }

// IDToken implements idp.User. The cached token is returned until it is
// within the refresh window. Token listeners are notified whenever a new
// token is handed out.
func (u *User) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(err, 0)
	}

	var (
		tok *oauth2.Token
		err error
	)
	if forceRefresh {
		tok, err = u.src.fetch(ctx)
		if err == nil {
			u.mu.Lock()
			u.ts = oauth2.ReuseTokenSourceWithExpiry(tok, u.src, u.p.cfg.RefreshBefore)
			u.mu.Unlock()
		}
	} else {
		u.mu.Lock()
		ts := u.ts
		u.mu.Unlock()
		tok, err = ts.Token()
	}
	if err != nil {
		if sessionEnded(err) {
			logging.Warnw(u.p.ctx, "firebase: session ended", "uid", u.uid, "error", err)
			u.p.signOutIfCurrent(u)
		}
		return "", err
	}

	u.mu.Lock()
	changed := tok.AccessToken != u.last
	u.mu.Unlock()
	if !changed {
		return tok.AccessToken, nil
	}

	res, err := u.p.verify(ctx, tok.AccessToken)
	if err != nil {
		return "", err
	}
	if res.Subject != u.uid {
		return "", errors.Mark(idp.ErrProvider, 0).Append("refreshed token has a different subject")
	}

	u.mu.Lock()
	u.last = tok.AccessToken
	u.expiry = tok.Expiry
	u.mu.Unlock()

	u.p.tokenChangedFor(u)
	return tok.AccessToken, nil
}

// IDTokenResult implements idp.User.
func (u *User) IDTokenResult(ctx context.Context) (*idp.TokenResult, error) {
	tok, err := u.IDToken(ctx, false)
	if err != nil {
		return nil, err
	}
	return idp.ParseTokenResult(tok)
}

func (u *User) startRefresher() {
	u.p.wg.Add(1)
	go func() {
		defer u.p.wg.Done()
		u.refreshLoop()
	}()
}

func (u *User) stop() {
	u.cancel()
}

// refreshLoop keeps the token fresh until the user is signed out.
func (u *User) refreshLoop() {
	var retry bool
	for {
		u.mu.Lock()
		expiry := u.expiry
		u.mu.Unlock()

		wait := expiry.Sub(u.p.now()) - u.p.cfg.RefreshBefore
		if retry || wait < 0 {
			wait = max(wait, u.p.cfg.RetryInterval)
		}

		timer := time.NewTimer(wait)
		select {
		case <-u.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		_, err := u.IDToken(u.ctx, false)
		switch {
		case u.ctx.Err() != nil:
			return
		case err != nil && sessionEnded(err):
			return
		case err != nil:
			logging.Warnw(u.p.ctx, "firebase: background refresh failed", "uid", u.uid, "error", err)
			retry = true
		default:
			u.mu.Lock()
			retry = !u.expiry.After(expiry)
			u.mu.Unlock()
		}
	}
}

// refreshSource exchanges the refresh token for a new ID token.
type refreshSource struct {
	p   *Provider
	ctx context.Context

	mu           sync.Mutex
	refreshToken string
}

// Token implements oauth2.TokenSource.
func (s *refreshSource) Token() (*oauth2.Token, error) {
	return s.fetch(s.ctx)
}

func (s *refreshSource) fetch(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.p.refresh(ctx, s.refreshToken)
	if err != nil {
		return nil, err
	}
	if resp.RefreshToken != "" {
		s.refreshToken = resp.RefreshToken
	}
	return &oauth2.Token{
		AccessToken:  resp.IDToken,
		TokenType:    resp.TokenType,
		RefreshToken: s.refreshToken,
		Expiry:       s.p.now().Add(parseSeconds(resp.ExpiresIn)),
	}, nil
}

func sessionEnded(err error) bool {
	return errors.Is(err, idp.ErrSessionExpired) || errors.Is(err, idp.ErrUserDisabled)
}
