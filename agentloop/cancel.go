package agentloop

import "sync/atomic"

// CancelToken is an explicit cancellation signal shared between the loop
// and its caller. The loop observes it at defined suspension points: the
// top of each step, while awaiting a model reply, and between output
// chunks of a running command. Requesting cancellation is idempotent and
// safe from any goroutine.
type CancelToken struct {
	requested atomic.Bool
}

// NewCancelToken creates an unsignalled token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel requests cancellation.
func (t *CancelToken) Cancel() {
	t.requested.Store(true)
}

// Requested reports whether cancellation has been requested.
func (t *CancelToken) Requested() bool {
	if t == nil {
		return false
	}
	return t.requested.Load()
}
