package relay

import (
	"sync"
	"time"
)

// Store is the rendezvous between the provider callback and the waiting
// client. All operations are atomic per token; every read independently
// checks expiry, so correctness never depends on the sweeper having run.
type Store interface {
	// Register creates a pending session for token if none is live. It is
	// idempotent: registering an existing live session reports created=false
	// and leaves its deadline untouched.
	Register(token string) (created bool)

	// Deposit records the terminal result for a pending session. It returns
	// ErrSessionNotFound for unknown or expired tokens and
	// ErrAlreadyFulfilled if a terminal result was already recorded.
	Deposit(token string, result Result) error

	// Peek reports the current status without consuming it.
	Peek(token string) (Result, error)

	// Consume returns the terminal result and deletes the session in the
	// same step, so a result can be observed at most once. A pending session
	// is left in place and reported as ErrSessionPending.
	Consume(token string) (Result, error)

	// Deadline reports when the session for token expires.
	Deadline(token string) (time.Time, error)

	// ExpireAll removes every session whose deadline is at or before now and
	// reports how many were removed.
	ExpireAll(now time.Time) int

	// Len reports the number of sessions currently held.
	Len() int
}

// MemoryStore keeps sessions in a mutex-guarded map. Session volumes are
// small, so a single lock is enough to make the operations linearizable
// per token.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	clock    func() time.Time
}

type StoreOption func(*MemoryStore)

// WithClock replaces the store's time source. Used by tests to exercise
// expiry without sleeping.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *MemoryStore) {
		s.clock = clock
	}
}

func NewMemoryStore(ttl time.Duration, opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*session),
		ttl:      ttl,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live returns the session for token if it exists and has not expired.
// Expired entries are dropped on sight. Callers must hold s.mu.
func (s *MemoryStore) live(token string, now time.Time) *session {
	sess, ok := s.sessions[token]
	if !ok {
		return nil
	}
	if !now.Before(sess.expiresAt) {
		delete(s.sessions, token)
		return nil
	}
	return sess
}

func (s *MemoryStore) Register(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.live(token, now) != nil {
		return false
	}
	s.sessions[token] = &session{
		token:     token,
		result:    Result{Status: StatusPending},
		createdAt: now,
		expiresAt: now.Add(s.ttl),
	}
	return true
}

func (s *MemoryStore) Deposit(token string, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(token, s.clock())
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.terminal() {
		return ErrAlreadyFulfilled
	}
	sess.result = result
	return nil
}

func (s *MemoryStore) Peek(token string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(token, s.clock())
	if sess == nil {
		return Result{Status: StatusNotFound}, ErrSessionNotFound
	}
	return sess.result, nil
}

func (s *MemoryStore) Consume(token string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(token, s.clock())
	if sess == nil {
		return Result{Status: StatusNotFound}, ErrSessionNotFound
	}
	if !sess.terminal() {
		return Result{Status: StatusPending}, ErrSessionPending
	}
	sess.delivered = true
	delete(s.sessions, token)
	return sess.result, nil
}

func (s *MemoryStore) Deadline(token string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.live(token, s.clock())
	if sess == nil {
		return time.Time{}, ErrSessionNotFound
	}
	return sess.expiresAt, nil
}

func (s *MemoryStore) ExpireAll(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			delete(s.sessions, token)
			count++
		}
	}
	return count
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
