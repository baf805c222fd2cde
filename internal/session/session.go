// Package session keeps per-user conversation state in memory.
//
// A session holds the path-table snapshot from the user's latest directory
// render and at most one pending action. Nothing here survives a restart;
// stale callback buttons from a previous run are rejected by the token layer
// instead.
package session

import (
	"sync"

	"github.com/Iskam31/YADISKTGBOT/internal/pathtoken"
)

// PendingKind tags the pending-action variant.
type PendingKind int

const (
	// PendingNone means the user has no action in flight.
	PendingNone PendingKind = iota
	// PendingUploadTarget means the next incoming file goes to Path
	// (empty Path falls back to the default folder at upload time).
	PendingUploadTarget
	// PendingDeleteConfirm means a delete of Path awaits confirmation.
	PendingDeleteConfirm
)

// Pending is the single pending action attached to a session. Initiating a
// new action overwrites the previous one.
type Pending struct {
	Kind PendingKind
	Path string
}

// Session is the state for one user. Callers serialize access by holding the
// lock handed out by Store.Acquire for the duration of update handling.
type Session struct {
	mu      sync.Mutex
	paths   pathtoken.Table
	pending Pending
}

// Release unlocks the session acquired from Store.Acquire.
func (s *Session) Release() {
	s.mu.Unlock()
}

// Paths returns the current path-table snapshot. May be nil before the first
// render; indirect tokens then resolve to nothing, which is the wanted
// stale-reference behavior.
func (s *Session) Paths() pathtoken.Table {
	return s.paths
}

// SetPaths replaces the path table wholesale with the given snapshot.
func (s *Session) SetPaths(t pathtoken.Table) {
	s.paths = t
}

// Pending returns the pending action, PendingNone kind when idle.
func (s *Session) Pending() Pending {
	return s.pending
}

// SetPending replaces the pending action. Last writer wins.
func (s *Session) SetPending(p Pending) {
	s.pending = p
}

// ClearPending discards any pending action without side effects.
func (s *Session) ClearPending() {
	s.pending = Pending{}
}

// Store maps user IDs to sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[int64]*Session)}
}

// Acquire returns the user's session with its lock held, creating the
// session on first use. The caller must Release it when done; updates for
// one user are thereby handled serially even though the dispatcher runs
// them on separate goroutines.
func (st *Store) Acquire(userID int64) *Session {
	st.mu.Lock()
	sess, ok := st.sessions[userID]
	if !ok {
		sess = &Session{}
		st.sessions[userID] = sess
	}
	st.mu.Unlock()

	sess.mu.Lock()
	return sess
}

// Reset drops the user's session entirely: path table gone, pending action
// discarded. The next Acquire starts fresh.
func (st *Store) Reset(userID int64) {
	st.mu.Lock()
	delete(st.sessions, userID)
	st.mu.Unlock()
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
