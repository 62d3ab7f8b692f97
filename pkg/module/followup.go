package module

import (
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Follow-up context
// ---------------------------------------------------------------------------

// Pending is the short-lived per-user state a module arms after asking the
// user a question. The next input from that user is interpreted as the
// answer rather than a fresh command.
type Pending struct {
	// Kind names the question the module asked ("confirm-delete",
	// "after-read", ...). The owning module defines its own kinds.
	Kind string

	// LastResponse is the response that posed the question.
	LastResponse *Response

	// Entity references the domain object the question is about
	// (message ID, event ID, ...).
	Entity string

	// Extra carries module-specific continuation data.
	Extra map[string]string

	ArmedAt time.Time
}

// FollowUpStore is a module-owned, per-user map of pending follow-up state.
// Each module that poses questions owns exactly one store; it is never
// shared across modules. Entries are consumed once: Take removes the entry,
// and the module re-arms it explicitly if the user's reply didn't match an
// expected continuation.
type FollowUpStore struct {
	mu      sync.Mutex
	pending map[string]*Pending
	ttl     time.Duration
}

// NewFollowUpStore creates a store whose entries expire after ttl
// (zero means no expiry).
func NewFollowUpStore(ttl time.Duration) *FollowUpStore {
	return &FollowUpStore{
		pending: make(map[string]*Pending),
		ttl:     ttl,
	}
}

// Arm records pending state for a user, superseding any previous entry.
func (s *FollowUpStore) Arm(userID string, p *Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ArmedAt.IsZero() {
		p.ArmedAt = time.Now()
	}
	s.pending[userID] = p
}

// Peek reports whether a live entry exists without consuming it.
func (s *FollowUpStore) Peek(userID string) (*Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(userID)
}

// Take consumes and removes the pending entry for a user.
func (s *FollowUpStore) Take(userID string) (*Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live(userID)
	if ok {
		delete(s.pending, userID)
	}
	return p, ok
}

// Clear drops any pending entry for a user.
func (s *FollowUpStore) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
}

// live returns the entry if present and not expired. Caller holds the lock.
func (s *FollowUpStore) live(userID string) (*Pending, bool) {
	p, ok := s.pending[userID]
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && time.Since(p.ArmedAt) > s.ttl {
		delete(s.pending, userID)
		return nil, false
	}
	return p, true
}
