package idp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubUser struct{ uid string }

func (u *stubUser) UID() string         { return u.uid }
func (u *stubUser) Email() string       { return u.uid + "@example.com" }
func (u *stubUser) DisplayName() string { return u.uid }
func (u *stubUser) EmailVerified() bool { return true }
func (u *stubUser) IDToken(context.Context, bool) (string, error) {
	return "", nil
}
func (u *stubUser) IDTokenResult(context.Context) (*TokenResult, error) {
	return nil, nil
}

type recorder struct {
	mu   sync.Mutex
	uids []string
}

func (r *recorder) listen(u User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u == nil {
		r.uids = append(r.uids, "")
		return
	}
	r.uids = append(r.uids, u.UID())
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uids...)
}

func TestEmitterDeliversInitialThenChangesInOrder(t *testing.T) {
	var e Emitter
	rec := &recorder{}
	unsubscribe := e.Subscribe(rec.listen, func() User { return nil })
	defer unsubscribe()

	e.Emit(&stubUser{"a"})
	e.Emit(nil)
	e.Emit(&stubUser{"b"})

	assert.Eventually(t, func() bool { return len(rec.get()) == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"", "a", "", "b"}, rec.get())
}

func TestEmitterSlowListenerDoesNotBlockOthers(t *testing.T) {
	var e Emitter
	release := make(chan struct{})
	slow := e.Subscribe(func(User) { <-release }, func() User { return nil })
	defer slow()

	fast := &recorder{}
	unsubscribe := e.Subscribe(fast.listen, func() User { return &stubUser{"a"} })
	defer unsubscribe()

	e.Emit(&stubUser{"b"})
	assert.Eventually(t, func() bool { return len(fast.get()) == 2 }, time.Second, time.Millisecond)
	close(release)
}

func TestEmitterUnsubscribeStopsDelivery(t *testing.T) {
	var e Emitter
	rec := &recorder{}
	unsubscribe := e.Subscribe(rec.listen, func() User { return &stubUser{"a"} })
	assert.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)

	unsubscribe()
	unsubscribe() // Idempotent.
	e.Emit(&stubUser{"b"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"a"}, rec.get())
}

func TestEmitterClose(t *testing.T) {
	var e Emitter
	rec := &recorder{}
	e.Subscribe(rec.listen, func() User { return &stubUser{"a"} })
	assert.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)

	e.Close()
	e.Emit(&stubUser{"b"})
	late := &recorder{}
	e.Subscribe(late.listen, func() User { return nil })

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"a"}, rec.get())
	assert.Empty(t, late.get())
}
