package idp

import "sync"

// Emitter fans out user change notifications. Each subscriber has its own
// ordered queue drained by a dedicated goroutine.
type Emitter struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	fn   Listener
	mu   sync.Mutex
	q    []User
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Subscribe registers l and queues the result of current as its first
// notification. current is evaluated while holding the emitter lock, so a
// concurrent Emit is either reflected in it or delivered after it.
func (e *Emitter) Subscribe(l Listener, current func() User) (unsubscribe func()) {
	s := &subscriber{
		fn:   l,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return func() {}
	}
	if e.subs == nil {
		e.subs = make(map[*subscriber]struct{})
	}
	e.subs[s] = struct{}{}
	s.push(current())
	e.mu.Unlock()

	go s.run()

	return func() {
		e.mu.Lock()
		delete(e.subs, s)
		e.mu.Unlock()
		s.stop()
	}
}

// Emit queues u for every subscriber.
func (e *Emitter) Emit(u User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for s := range e.subs {
		s.push(u)
	}
}

// Close drops all subscribers. Queued notifications are discarded.
func (e *Emitter) Close() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.closed = true
	e.mu.Unlock()
	for s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(u User) {
	s.mu.Lock()
	s.q = append(s.q, u)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.q) == 0 {
				s.mu.Unlock()
				break
			}
			u := s.q[0]
			s.q = s.q[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(u)
		}
	}
}
