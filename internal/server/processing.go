package server

import (
	"sync"
	"time"
)

// statusPollWindow is how long a status poll waits for an in-flight prompt
// before reporting "processing". The poll is best-effort; clients poll
// repeatedly until "done".
const statusPollWindow = 100 * time.Millisecond

// Status reports the processing state of a session's background prompt.
type Status string

const (
	// StatusIdle means no background prompt has been submitted for the session.
	StatusIdle Status = "idle"
	// StatusProcessing means a background prompt is still running.
	StatusProcessing Status = "processing"
	// StatusDone means the last background prompt has settled.
	StatusDone Status = "done"
)

// Handle is the completion signal for one background prompt call. It is
// in-memory only and settles exactly once, when the assistant message has
// been durably appended (or the call definitively failed).
type Handle struct {
	done chan struct{}
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// complete settles the handle. Must be called exactly once.
func (h *Handle) complete(err error) {
	h.err = err
	close(h.done)
}

// TryWait waits up to window for the handle to settle. It reports whether
// the handle settled, and if so, the call's outcome.
func (h *Handle) TryWait(window time.Duration) (bool, error) {
	select {
	case <-h.done:
		return true, h.err
	case <-time.After(window):
		return false, nil
	}
}

// Registry tracks at most one background prompt handle per session id,
// feeding the legacy polling endpoint. Submitting a new prompt for a
// session replaces its previous handle.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

// Begin registers and returns a fresh handle for the session.
func (r *Registry) Begin(sessionID string) *Handle {
	h := newHandle()
	r.mu.Lock()
	r.handles[sessionID] = h
	r.mu.Unlock()
	return h
}

// Status answers idle/processing/done for the session, waiting at most
// window for an unsettled handle.
func (r *Registry) Status(sessionID string, window time.Duration) Status {
	r.mu.Lock()
	h, ok := r.handles[sessionID]
	r.mu.Unlock()

	if !ok {
		return StatusIdle
	}
	if settled, _ := h.TryWait(window); settled {
		return StatusDone
	}
	return StatusProcessing
}
