package idptest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/role"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

var alice = Account{
	UID:           "alice-uid",
	Email:         "alice@example.com",
	Password:      "secret",
	DisplayName:   "Alice",
	EmailVerified: true,
	Role:          role.Teacher,
}

type events struct {
	mu   sync.Mutex
	uids []string
}

func (e *events) listen(u idp.User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u == nil {
		e.uids = append(e.uids, "")
	} else {
		e.uids = append(e.uids, u.UID())
	}
}

func (e *events) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.uids)
}

func (e *events) get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.uids...)
}

func TestSignInAndOut(t *testing.T) {
	p := New(WithAccount(alice))
	defer p.Close()

	var auth events
	unsubscribe := p.OnAuthStateChanged(auth.listen)
	defer unsubscribe()

	u, err := p.SignIn(t.Context(), alice.Email, alice.Password)
	require.NoError(t, err)
	assert.Equal(t, alice.UID, u.UID())
	assert.Equal(t, u, p.CurrentUser())

	res, err := u.IDTokenResult(t.Context())
	require.NoError(t, err)
	assert.Equal(t, alice.UID, res.Subject)
	assert.Equal(t, role.Teacher, res.Role())
	assert.Equal(t, "password", res.SignInProvider)

	require.NoError(t, p.SignOut(t.Context()))
	assert.Nil(t, p.CurrentUser())

	assert.Eventually(t, func() bool { return auth.len() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"", alice.UID, ""}, auth.get())
}

func TestSignInErrors(t *testing.T) {
	disabled := alice
	disabled.Email = "disabled@example.com"
	disabled.Disabled = true
	p := New(WithAccount(alice), WithAccount(disabled))

	_, err := p.SignIn(t.Context(), alice.Email, "wrong")
	assert.ErrorIs(t, err, idp.ErrInvalidCredentials)
	assert.Equal(t, codes.Unauthenticated, errors.Code(err))

	_, err = p.SignIn(t.Context(), "nobody@example.com", "secret")
	assert.ErrorIs(t, err, idp.ErrInvalidCredentials)

	_, err = p.SignIn(t.Context(), disabled.Email, disabled.Password)
	assert.ErrorIs(t, err, idp.ErrUserDisabled)

	p.FailSignIn(errors.Mark(idp.ErrProvider, 0))
	_, err = p.SignIn(t.Context(), alice.Email, alice.Password)
	assert.ErrorIs(t, err, idp.ErrProvider)
	assert.Nil(t, p.CurrentUser())
}

func TestRefreshNotifiesTokenListeners(t *testing.T) {
	p := New(WithAccount(alice))
	defer p.Close()

	u, err := p.SignIn(t.Context(), alice.Email, alice.Password)
	require.NoError(t, err)
	first, err := u.IDToken(t.Context(), false)
	require.NoError(t, err)

	var tokens, auth events
	defer p.OnIDTokenChanged(tokens.listen)()
	defer p.OnAuthStateChanged(auth.listen)()

	forced, err := u.IDToken(t.Context(), true)
	require.NoError(t, err)
	assert.NotEqual(t, first, forced)

	refreshed := p.Refresh()
	assert.NotEqual(t, forced, refreshed)
	assert.Equal(t, refreshed, p.Current().Token())
	assert.Equal(t, 3, p.Minted())

	assert.Eventually(t, func() bool { return tokens.len() == 3 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, auth.len(), "refresh must not look like a sign-in")
}

func TestFailTokensAndHook(t *testing.T) {
	p := New(WithAccount(alice))
	u, err := p.SignIn(t.Context(), alice.Email, alice.Password)
	require.NoError(t, err)

	p.FailTokens(errors.Mark(idp.ErrSessionExpired, 0))
	_, err = u.IDToken(t.Context(), false)
	assert.ErrorIs(t, err, idp.ErrSessionExpired)
	p.FailTokens(nil)

	release := make(chan struct{})
	p.SetTokenHook(func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Millisecond)
	defer cancel()
	_, err = u.IDToken(ctx, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = u.IDToken(t.Context(), false)
	assert.NoError(t, err)
}

func TestRevoke(t *testing.T) {
	p := New(WithAccount(alice))
	_, err := p.SignIn(t.Context(), alice.Email, alice.Password)
	require.NoError(t, err)

	var auth events
	defer p.OnAuthStateChanged(auth.listen)()
	p.Revoke()

	assert.Eventually(t, func() bool { return auth.len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{alice.UID, ""}, auth.get())
}

func TestVerify(t *testing.T) {
	now := time.Now()
	p := New(WithAccount(alice), WithClock(func() time.Time { return now }))
	u, err := p.SignIn(t.Context(), alice.Email, alice.Password)
	require.NoError(t, err)

	tok, err := u.IDToken(t.Context(), false)
	require.NoError(t, err)
	res, err := p.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, alice.UID, res.Subject)

	other := New(WithSigningKey([]byte("another key")))
	_, err = other.Verify(tok)
	assert.Equal(t, codes.Unauthenticated, errors.Code(err))

	now = now.Add(2 * DefaultTTL)
	_, err = p.Verify(tok)
	assert.Error(t, err, "expired tokens are rejected")
}
