package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/edupath/authsync/errors"
	"github.com/edupath/authsync/idp"
	"github.com/edupath/authsync/logging"
	"github.com/edupath/authsync/session"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
)

// ErrTooManySessions is returned when a new browser session would exceed the
// configured limit.
var ErrTooManySessions = errors.NewC("gateway: session limit reached", codes.ResourceExhausted).
	WithPublicMessage("The service is busy, please try again later")

// entry is one browser session: its store and the provider it mirrors.
type entry struct {
	store    *session.Store
	provider idp.Provider

	// Guarded by registry.mu.
	lastSeen time.Time
	streams  int
}

func (e *entry) close() {
	e.store.Close()
	e.provider.Close()
}

type entryFactory func(ctx context.Context, id string) (*entry, error)

// registry holds the open browser sessions keyed by session ID and closes
// those left idle for longer than ttl. Sessions with an open stream are never
// idle.
type registry struct {
	ctx    context.Context
	create entryFactory
	ttl    time.Duration
	limit  int
	now    func() time.Time
	active prometheus.Gauge

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func newRegistry(ctx context.Context, create entryFactory, ttl time.Duration, limit int, now func() time.Time, active prometheus.Gauge) *registry {
	return &registry{
		ctx:     ctx,
		create:  create,
		ttl:     ttl,
		limit:   limit,
		now:     now,
		active:  active,
		entries: map[string]*entry{},
	}
}

// get returns the session for id, creating it on first use.
func (r *registry) get(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.NewC("gateway: shutting down", codes.Unavailable)
	}
	if e, ok := r.entries[id]; ok {
		e.lastSeen = r.now()
		return e, nil
	}
	if r.limit > 0 && len(r.entries) >= r.limit {
		return nil, errors.Mark(ErrTooManySessions, 0)
	}
	e, err := r.create(r.ctx, id)
	if err != nil {
		return nil, err
	}
	e.lastSeen = r.now()
	r.entries[id] = e
	r.active.Set(float64(len(r.entries)))
	logging.Debugw(r.ctx, "gateway: session opened", "session.id", id)
	return e, nil
}

// lookup returns the session for id without creating one.
func (r *registry) lookup(id string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// hold marks a stream as open on e until the returned func is called.
func (r *registry) hold(e *entry) func() {
	r.mu.Lock()
	e.streams++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		e.streams--
		e.lastSeen = r.now()
		r.mu.Unlock()
	}
}

// sweep closes idle sessions and returns how many were closed.
func (r *registry) sweep() int {
	cutoff := r.now().Add(-r.ttl)
	var idle []*entry

	r.mu.Lock()
	for id, e := range r.entries {
		if e.streams == 0 && e.lastSeen.Before(cutoff) {
			idle = append(idle, e)
			delete(r.entries, id)
		}
	}
	r.active.Set(float64(len(r.entries)))
	r.mu.Unlock()

	for _, e := range idle {
		logging.Debugw(r.ctx, "gateway: session expired", "session.id", e.store.ID())
		e.close()
	}
	return len(idle)
}

// run sweeps on an interval until ctx is done.
func (r *registry) run(ctx context.Context) {
	interval := max(r.ttl/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				logging.Infow(ctx, "gateway: closed idle sessions", "count", n)
			}
		}
	}
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// closeAll closes every session and rejects new ones.
func (r *registry) closeAll() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = map[string]*entry{}
	r.active.Set(0)
	r.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
}
