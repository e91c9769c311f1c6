package realtime

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Subscription is an open channel. Changes are handed to its handler on a dedicated goroutine.
type Subscription struct {
	topic   string
	filter  Filter
	handler Handler
	manager *Manager
	scope   *Scope
	conn    *conn

	qmu    sync.Mutex
	queue  []Change
	notify chan struct{}

	// mu is held while the handler runs.
	mu     sync.Mutex
	closed atomic.Bool

	// handling is the id of the goroutine running the handler, zero while it is idle.
	handling atomic.Uint64

	done     chan struct{}
	once     sync.Once
	stopOnce sync.Once

	emu sync.Mutex
	err error
}

func newSubscription(topic string, filter Filter, handler Handler, m *Manager, scope *Scope, c *conn) *Subscription {
	return &Subscription{
		topic:   topic,
		filter:  filter,
		handler: handler,
		manager: m,
		scope:   scope,
		conn:    c,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Topic is the channel name.
func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) Filter() Filter {
	return s.filter
}

// Err returns why the channel stopped delivering changes, nil while it is healthy.
func (s *Subscription) Err() error {
	s.emu.Lock()
	defer s.emu.Unlock()

	return s.err
}

// Unsubscribe releases the channel. It can be called any number of times, once it returns the
// handler is not invoked again. Called from within the handler it returns at once and the channel
// is released after the handler returned.
func (s *Subscription) Unsubscribe() {
	if g := s.handling.Load(); g != 0 && g == goid() {
		s.closed.Store(true)
		go s.release()
		return
	}

	s.release()
}

func (s *Subscription) release() {
	s.once.Do(func() {
		s.stop()
		s.manager.leave(s)

		if s.scope != nil {
			s.scope.forget(s)
		}
	})
}

// stop waits for a running handler to return and prevents further invocations.
func (s *Subscription) stop() {
	s.closed.Store(true)

	// a running handler holds mu.
	s.mu.Lock()
	s.mu.Unlock()

	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Subscription) fail(err error) {
	s.emu.Lock()
	defer s.emu.Unlock()

	if s.err == nil {
		s.err = err
	}
}

func (s *Subscription) enqueue(c Change) {
	if !s.filter.wants(c.Type) {
		return
	}

	s.qmu.Lock()
	s.queue = append(s.queue, c)
	s.qmu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		s.qmu.Unlock()

		for _, c := range batch {
			if !s.deliver(c) {
				return
			}
		}
	}
}

func (s *Subscription) deliver(c Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return false
	}

	s.handling.Store(goid())
	defer s.handling.Store(0)

	s.handler(c)
	return true
}

// goid returns the id of the calling goroutine, parsed from the "goroutine <id> [" stack header.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}

	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
