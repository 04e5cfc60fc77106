package session

import (
	"sort"
	"sync"
	"time"

	"github.com/akshay-eng/ITSM-agent/internal/logging"
)

// =============================================================================
// SESSION STORE
// =============================================================================

// Config controls session retention.
type Config struct {
	// HistoryLimit bounds the per-session turn history. 0 means unbounded.
	HistoryLimit int
}

// DefaultConfig returns the default session store configuration.
func DefaultConfig() Config {
	return Config{HistoryLimit: 50}
}

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// Store owns all live sessions. A coarse map lock guards lookup; each
// session carries its own mutex, so turns on the same session serialize
// while different sessions proceed in parallel.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cfg     Config
}

// NewStore creates an empty session store.
func NewStore(cfg Config) *Store {
	return &Store{
		entries: make(map[string]*entry),
		cfg:     cfg,
	}
}

func (st *Store) lookup(id string) *entry {
	st.mu.RLock()
	e := st.entries[id]
	st.mu.RUnlock()
	if e != nil {
		return e
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if e = st.entries[id]; e != nil {
		return e
	}
	now := time.Now()
	e = &entry{sess: &Session{
		ID:           id,
		Phase:        PhaseIdle,
		CreatedAt:    now,
		LastActive:   now,
		historyLimit: st.cfg.HistoryLimit,
	}}
	st.entries[id] = e
	logging.Session("Created session %s", id)
	return e
}

// With runs fn with exclusive access to the session, creating it on first
// use. A second utterance on the same session blocks here until the first
// turn finishes.
func (st *Store) With(id string, fn func(*Session) error) error {
	e := st.lookup(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.LastActive = time.Now()
	return fn(e.sess)
}

// Snapshot returns a copy of the session state for read-only use.
func (st *Store) Snapshot(id string) (Session, bool) {
	st.mu.RLock()
	e := st.entries[id]
	st.mu.RUnlock()
	if e == nil {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.sess
	cp.History = append([]Turn(nil), e.sess.History...)
	cp.Executed = nil
	return cp, true
}

// Reset removes one session. Returns whether it existed.
func (st *Store) Reset(id string) bool {
	st.mu.Lock()
	e, ok := st.entries[id]
	delete(st.entries, id)
	st.mu.Unlock()
	if ok {
		// Wait out an in-flight turn so its state is not silently lost.
		e.mu.Lock()
		e.mu.Unlock()
		logging.Session("Reset session %s", id)
	}
	return ok
}

// ResetAll removes every session and returns how many were removed.
func (st *Store) ResetAll() int {
	st.mu.Lock()
	n := len(st.entries)
	st.entries = make(map[string]*entry)
	st.mu.Unlock()
	if n > 0 {
		logging.Session("Reset all sessions (%d)", n)
	}
	return n
}

// IDs returns all live session IDs, sorted.
func (st *Store) IDs() []string {
	st.mu.RLock()
	ids := make([]string, 0, len(st.entries))
	for id := range st.entries {
		ids = append(ids, id)
	}
	st.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Sweep removes sessions idle for longer than ttl and returns how many were
// removed. Sessions mid-turn are skipped and picked up on a later sweep.
func (st *Store) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, e := range st.entries {
		if !e.mu.TryLock() {
			continue
		}
		idle := e.sess.LastActive.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(st.entries, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Session("Swept %d expired sessions", removed)
	}
	return removed
}
