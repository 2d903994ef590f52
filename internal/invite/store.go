// Package invite keeps pending invitations in memory until the invited user
// confirms them.
//
// An invitation is keyed by the id of the chat message that carries the
// confirm button, so the later callback can be matched back to the command
// that started it. Entries expire 24 hours after they are added: lazily on
// Get/Consume, and in batch on Sweep.
package invite

import (
	"sync"
	"time"

	"github.com/jmhodges/clock"
)

const DefaultTTL = 24 * time.Hour

// Identity names the invited user by exactly one of Username or UserID.
type Identity struct {
	Username string
	UserID   int64
}

func (i Identity) IsUsername() bool { return i.Username != "" }

type Invitation struct {
	CorrelationID string
	Identity      Identity
	DisplayName   string
	OriginChat    int64
	OriginMessage int
	SeasonID      int64
	InitiatorID   int64
	CreatedAt     time.Time
}

type Store struct {
	mu  sync.Mutex
	clk clock.Clock
	ttl time.Duration
	m   map[string]Invitation
}

// NewStore returns a store with DefaultTTL. A nil clock uses wall time.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{clk: clk, ttl: DefaultTTL, m: map[string]Invitation{}}
}

// Add inserts or overwrites the invitation for correlationID and stamps CreatedAt.
func (s *Store) Add(correlationID string, inv Invitation) {
	inv.CorrelationID = correlationID
	inv.CreatedAt = s.clk.Now()
	s.mu.Lock()
	s.m[correlationID] = inv
	s.mu.Unlock()
}

// Get returns the live invitation. An expired entry is removed and reported absent.
func (s *Store) Get(correlationID string) (Invitation, bool) {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.m[correlationID]
	if !ok {
		return Invitation{}, false
	}
	if s.expired(inv, now) {
		delete(s.m, correlationID)
		return Invitation{}, false
	}
	return inv, true
}

// Consume is Get followed by Remove under one lock, so a confirmation is
// honoured at most once.
func (s *Store) Consume(correlationID string) (Invitation, bool) {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.m[correlationID]
	if !ok {
		return Invitation{}, false
	}
	delete(s.m, correlationID)
	if s.expired(inv, now) {
		return Invitation{}, false
	}
	return inv, true
}

// Remove deletes the entry and reports whether one existed.
func (s *Store) Remove(correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[correlationID]
	delete(s.m, correlationID)
	return ok
}

// Sweep removes every expired entry and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, inv := range s.m {
		if s.expired(inv, now) {
			delete(s.m, id)
			n++
		}
	}
	return n
}

// Len counts stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Store) expired(inv Invitation, now time.Time) bool {
	return now.Sub(inv.CreatedAt) >= s.ttl
}
