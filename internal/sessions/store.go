// Package sessions keeps per-browser conversation history in memory.
//
// The gateway is otherwise stateless per turn; sessions exist so the UI can
// reconnect and so multi-turn prompts can carry a flattened history block.
package sessions

import (
	"sort"
	"sync"
	"time"
)

// Message is one entry in a session's history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds the conversation history for one session ID.
type Session struct {
	ID       string    `json:"session_id"`
	Created  time.Time `json:"created_at"`
	Messages []Message `json:"messages"`
}

// Summary is the list-view projection of a session.
type Summary struct {
	ID           string    `json:"session_id"`
	Created      time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview,omitempty"`
}

// Store is an in-memory session map guarded by a RWMutex. Entries live for
// the lifetime of the process; a restart clears all sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Append adds messages to the session, creating it on first use.
func (s *Store) Append(id string, msgs ...Message) {
	if id == "" || len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id, Created: s.now()}
		s.sessions[id] = sess
	}
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = s.now()
		}
		sess.Messages = append(sess.Messages, m)
	}
}

// Get returns a copy of the session so callers can't mutate shared state.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	out := Session{ID: sess.ID, Created: sess.Created}
	out.Messages = make([]Message, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	return out, true
}

// History returns a copy of the session's messages, or nil when unknown.
func (s *Store) History(id string) []Message {
	sess, ok := s.Get(id)
	if !ok {
		return nil
	}
	return sess.Messages
}

// List returns summaries sorted by last activity, newest first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sum := Summary{
			ID:           sess.ID,
			Created:      sess.Created,
			LastActivity: sess.Created,
			MessageCount: len(sess.Messages),
		}
		if n := len(sess.Messages); n > 0 {
			sum.LastActivity = sess.Messages[n-1].Timestamp
			sum.Preview = preview(sess.Messages[0].Content)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Delete removes a session. Returns false when the ID was unknown.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func preview(content string) string {
	const max = 80
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}
