package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var ErrNotFound = errors.New("session not found")

// Message is a single conversational entry. Immutable once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a bounded, TTL-governed conversation history.
type Session struct {
	ID           string    `json:"session_id"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessAt time.Time `json:"last_access_at"`
}

// Stats is a point-in-time snapshot of store contents.
type Stats struct {
	Sessions int `json:"sessions"`
	Messages int `json:"messages"`
}

// Store owns all session state. It is safe for concurrent use and never
// hands out references to its internals; callers only see copies.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	ttl         time.Duration
	maxMessages int
	onEvict     func(Session)

	now func() time.Time
}

func NewStore(ttl time.Duration, maxMessages int) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &Store{
		sessions:    make(map[string]*Session),
		ttl:         ttl,
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// SetEvictHook registers a callback invoked (outside the store lock) for every
// session removed by the sweep.
func (s *Store) SetEvictHook(hook func(Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = hook
}

// Create returns the existing session for id when present and fresh, otherwise
// allocates a new empty one. An empty id gets a generated identifier.
func (s *Store) Create(id string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.createLocked(id))
}

func (s *Store) createLocked(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	if existing, ok := s.sessions[id]; ok && !s.expiredLocked(existing, now) {
		return existing
	}
	sess := &Session{
		ID:           id,
		CreatedAt:    now,
		LastAccessAt: now,
	}
	s.sessions[id] = sess
	return sess
}

// Get returns a copy of the session and extends its life (read implies touch).
// A logically expired session resolves as not found even before the sweep runs.
func (s *Store) Get(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	now := s.now().UTC()
	if !ok || s.expiredLocked(sess, now) {
		return Session{}, ErrNotFound
	}
	sess.LastAccessAt = now
	return clone(sess), nil
}

// Append adds a message, creating the session on demand, and truncates history
// from the front when it exceeds the configured maximum.
func (s *Store) Append(id string, role Role, content string) (Session, Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.createLocked(id)
	now := s.now().UTC()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	sess.Messages = append(sess.Messages, msg)
	if overflow := len(sess.Messages) - s.maxMessages; overflow > 0 {
		sess.Messages = append([]Message(nil), sess.Messages[overflow:]...)
	}
	sess.LastAccessAt = now
	return clone(sess), msg
}

// Delete removes the session immediately and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Stats returns counts without touching any session.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Sessions: len(s.sessions)}
	for _, sess := range s.sessions {
		st.Messages += len(sess.Messages)
	}
	return st
}

// TTL reports the configured idle lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Sweep deletes every session idle for longer than the TTL and returns how
// many were removed. It is the sole authority for expiry; Get only refuses to
// hand out sessions the sweep has not reclaimed yet.
func (s *Store) Sweep() int {
	var evicted []Session

	s.mu.Lock()
	now := s.now().UTC()
	for id, sess := range s.sessions {
		if !s.expiredLocked(sess, now) {
			continue
		}
		evicted = append(evicted, clone(sess))
		delete(s.sessions, id)
	}
	hook := s.onEvict
	s.mu.Unlock()

	if hook != nil {
		for _, sess := range evicted {
			hook(sess)
		}
	}
	return len(evicted)
}

func (s *Store) expiredLocked(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastAccessAt) > s.ttl
}

func clone(sess *Session) Session {
	c := *sess
	c.Messages = append([]Message(nil), sess.Messages...)
	return c
}
