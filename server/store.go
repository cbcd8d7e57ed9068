package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/ByLCY/memegen/overlay"
	"github.com/ByLCY/memegen/suggest"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Store limits used when none are configured.
const (
	DefaultMaxSessions = 1000
	DefaultSessionTTL  = time.Hour
)

type entry struct {
	mu          sync.Mutex
	session     *overlay.Session
	suggestions suggest.Tracker
	lastUsed    time.Time // guarded by SessionStore.mu
}

// SessionStore keeps editing sessions in memory. Each session is mutated under
// its own lock so a session only ever has one writer at a time. Sessions idle
// for longer than the TTL expire, and when the store is full the least
// recently used session is evicted.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*entry
	max      int
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionStore creates an empty store with the default limits.
func NewSessionStore() *SessionStore {
	return NewSessionStoreWithLimits(DefaultMaxSessions, DefaultSessionTTL)
}

// NewSessionStoreWithLimits creates an empty store. Non-positive values
// select the defaults.
func NewSessionStoreWithLimits(max int, ttl time.Duration) *SessionStore {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[string]*entry),
		max:      max,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create stores a new session and returns its id.
func (s *SessionStore) Create(image overlay.ImageInfo, defaults overlay.Defaults) (string, overlay.Snapshot) {
	sess := overlay.NewSession(image, defaults)

	s.mu.Lock()
	now := s.now()
	s.evictLocked(now)
	id := newID()
	for s.sessions[id] != nil {
		id = newID()
	}
	s.sessions[id] = &entry{session: sess, lastUsed: now}
	s.mu.Unlock()

	return id, sess.Snapshot()
}

// With runs fn while holding the session's lock.
func (s *SessionStore) With(id string, fn func(*overlay.Session) error) error {
	e := s.lookup(id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// Suggestions returns the session's suggestion tracker. The tracker has its
// own lock, so callers may hold it across a network request without blocking
// edits to the session.
func (s *SessionStore) Suggestions(id string) (*suggest.Tracker, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, ErrNotFound
	}
	return &e.suggestions, nil
}

// Delete drops a session; unknown ids are ignored.
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) lookup(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.sessions[id]
	if e == nil {
		return nil
	}
	now := s.now()
	if now.Sub(e.lastUsed) > s.ttl {
		delete(s.sessions, id)
		return nil
	}
	e.lastUsed = now
	return e
}

// evictLocked drops expired sessions, then the least recently used ones until
// there is room for one more.
func (s *SessionStore) evictLocked(now time.Time) {
	for id, e := range s.sessions {
		if now.Sub(e.lastUsed) > s.ttl {
			delete(s.sessions, id)
		}
	}
	for len(s.sessions) >= s.max {
		var oldestID string
		var oldest time.Time
		for id, e := range s.sessions {
			if oldestID == "" || e.lastUsed.Before(oldest) {
				oldestID, oldest = id, e.lastUsed
			}
		}
		delete(s.sessions, oldestID)
	}
}

func newID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
