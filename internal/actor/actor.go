// Package actor hosts entities as single-writer virtual actors: one
// goroutine per live entity draining a command mailbox. All calls against a
// key execute strictly one at a time, giving sequential consistency per
// entity without locks. There is no cross-entity coordination here by
// design: callers sequence multi-entity operations themselves.
package actor

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
)

var (
	// ErrHostClosed is returned when activating or calling after Close.
	ErrHostClosed = errors.New("actor host closed")
	// ErrAlreadyActive is returned when activating a key that is live.
	ErrAlreadyActive = errors.New("entity already active")
)

// Ref is the handle to one hosted entity. All access to the entity state
// goes through its mailbox.
type Ref[S any] struct {
	key   string
	calls chan func(S)
	done  chan struct{}
}

// Key returns the entity key this ref addresses.
func (r *Ref[S]) Key() string { return r.key }

// Host activates and resolves entity refs by key. Each activation spawns the
// entity's mailbox goroutine; Close stops them all.
type Host[S any] struct {
	mu      sync.Mutex
	refs    map[string]*Ref[S]
	mailbox int
	wg      sync.WaitGroup
	done    chan struct{}
	closed  bool
}

// NewHost creates a host whose mailboxes buffer up to mailbox pending calls.
func NewHost[S any](mailbox int) *Host[S] {
	if mailbox <= 0 {
		mailbox = 64
	}
	return &Host[S]{
		refs:    make(map[string]*Ref[S]),
		mailbox: mailbox,
		done:    make(chan struct{}),
	}
}

// Activate places state under a new key and starts its mailbox. The key must
// not already be live: entity identity is stable and single-instance.
func (h *Host[S]) Activate(key string, state S) (*Ref[S], error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHostClosed
	}
	if _, ok := h.refs[key]; ok {
		return nil, ErrAlreadyActive
	}

	ref := &Ref[S]{
		key:   key,
		calls: make(chan func(S), h.mailbox),
		done:  h.done,
	}
	h.refs[key] = ref

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case fn := <-ref.calls:
				fn(state)
			case <-h.done:
				return
			}
		}
	}()

	return ref, nil
}

// Lookup resolves a live entity ref.
func (h *Host[S]) Lookup(key string) (*Ref[S], bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, ok := h.refs[key]
	return ref, ok
}

// Len reports the number of live entities.
func (h *Host[S]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.refs)
}

// Close stops every mailbox and waits for in-flight calls to finish. Calls
// queued but not yet started are dropped; their callers receive
// ErrHostClosed.
func (h *Host[S]) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	h.wg.Wait()
}

// Call places fn on the entity's mailbox and waits for its result. The
// context bounds both the wait for mailbox space and the wait for the
// reply; a cancelled enqueue leaves the entity untouched, but cancellation
// after enqueue does not recall the command.
func Call[S, R any](ctx context.Context, ref *Ref[S], fn func(S) (R, error)) (R, error) {
	var zero R

	type result struct {
		value R
		err   error
	}
	reply := make(chan result, 1)

	select {
	case ref.calls <- func(state S) {
		value, err := fn(state)
		reply <- result{value: value, err: err}
	}:
	case <-ref.done:
		return zero, ErrHostClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ref.done:
		return zero, ErrHostClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
