package orchestrator

import (
	"context"
	"sync"
)

// Token is the cancellation handle of one stream task.
//
// Guard and Cancel share a lock, so once Cancel returns no guarded mutation
// can start, and any guarded mutation already running has completed.
type Token struct {
	mu        sync.Mutex
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
	settled   bool
}

func newToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{parent: parent, ctx: ctx, cancel: cancel}
}

// Context is cancelled when the token is cancelled or the task ends.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancel requests cancellation. It reports whether this call made the
// transition; cancelling twice, or after the stream was fully read, is a
// no-op.
func (t *Token) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled || t.settled {
		return false
	}
	t.cancelled = true
	t.cancel()
	return true
}

// Cancelled reports whether cancellation was requested, directly or through
// the parent context.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelledLocked()
}

func (t *Token) cancelledLocked() bool {
	return t.cancelled || t.parent.Err() != nil
}

// Guard runs fn unless the token is cancelled, and reports whether it ran.
func (t *Token) Guard(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelledLocked() {
		return false
	}
	fn()
	return true
}

// settle records that the stream was read to the end. It reports false when
// cancellation won the race.
func (t *Token) settle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelledLocked() {
		return false
	}
	t.settled = true
	return true
}

// release frees the context without marking the token cancelled.
func (t *Token) release() {
	t.cancel()
}
