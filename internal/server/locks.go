package server

import "sync"

// sessionLocks hands out one mutex per session id. Holding a session's
// mutex for the full append(user) -> load -> provider -> append(assistant)
// span keeps concurrent prompt calls against the same session from
// interleaving their history writes. Different sessions lock independently.
//
// Locks are never evicted; session ids are calendar dates (or a handful of
// caller-supplied names), so the map stays small for the lifetime of a
// local server process.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for the session, creating it on first use.
func (l *sessionLocks) get(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	return m
}
