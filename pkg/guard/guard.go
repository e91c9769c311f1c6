// Package guard keeps a mutation from being submitted twice while the first submission is still in flight.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/ksuid"
)

// ErrInFlight is returned when the same action is already being processed.
var ErrInFlight = errors.New("request already in flight")

// Guard marks keys as busy.
type Guard interface {
	// Acquire marks the key as busy and returns the token of this hold, ok is false if it already was busy.
	Acquire(ctx context.Context, key string) (token string, ok bool)

	// Release frees the key if it is still held under token.
	Release(ctx context.Context, key, token string)
}

// NewToken returns a token unique to one hold of a key.
func NewToken() string {
	return ksuid.New().String()
}

// Key builds a guard key for an action on a pair of ids.
func Key(action, a, b string) string {
	return fmt.Sprintf("inflight_%s_%s_%s", action, a, b)
}

// Local is an in process Guard.
type Local struct {
	mu   sync.Mutex
	busy map[string]string
}

func NewLocal() *Local {
	return &Local{busy: make(map[string]string)}
}

func (l *Local) Acquire(_ context.Context, key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.busy[key]; ok {
		return "", false
	}

	token := NewToken()
	l.busy[key] = token
	return token, true
}

func (l *Local) Release(_ context.Context, key, token string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.busy[key] == token {
		delete(l.busy, key)
	}
}

// Do runs fn while holding key, it returns ErrInFlight without running fn if the key is busy.
func Do(ctx context.Context, g Guard, key string, fn func() error) error {
	if g == nil {
		return fn()
	}

	token, ok := g.Acquire(ctx, key)
	if !ok {
		return ErrInFlight
	}

	defer g.Release(ctx, key, token)

	return fn()
}
