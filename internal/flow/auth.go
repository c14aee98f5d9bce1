package flow

import "sync"

// Session is the signed-in user as seen by the client.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
}

// AuthStore is the single source of the current session. Subscribers are
// called on every change with the new session, or nil after sign-out.
type AuthStore interface {
	Session() *Session
	Subscribe(fn func(*Session)) (unsubscribe func())
}

// MemoryAuthStore keeps the session in memory. It also serves as the API
// client's token source.
type MemoryAuthStore struct {
	mu      sync.RWMutex
	session *Session
	nextID  int
	subs    map[int]func(*Session)
}

func NewMemoryAuthStore() *MemoryAuthStore {
	return &MemoryAuthStore{subs: make(map[int]func(*Session))}
}

func (s *MemoryAuthStore) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// Token returns the access token of the current session, or "".
func (s *MemoryAuthStore) Token() string {
	if sess := s.Session(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

// SetSession replaces the session and notifies subscribers. A nil session
// signs the user out.
func (s *MemoryAuthStore) SetSession(sess *Session) {
	s.mu.Lock()
	if sess != nil {
		cp := *sess
		s.session = &cp
	} else {
		s.session = nil
	}
	subs := make([]func(*Session), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(s.Session())
	}
}

func (s *MemoryAuthStore) Subscribe(fn func(*Session)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}
