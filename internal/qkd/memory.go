package qkd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time
	seq atomic.Uint64

	mu       sync.Mutex
	sessions map[string]Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store whose entries live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, sessions: make(map[string]Session)}
}

func (m *MemoryStore) live(s Session, now time.Time) bool {
	return m.ttl <= 0 || now.Sub(s.CreatedAt) < m.ttl
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.sessions[s.Key()]; ok && m.live(cur, now) {
		return errs.ErrExchangeInFlight
	}
	s.ID = m.seq.Add(1)
	s.CreatedAt = now
	m.sessions[s.Key()] = clone(*s)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sender, receiver string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := SessionKey(sender, receiver)
	s, ok := m.sessions[key]
	if !ok {
		return nil, errs.ErrNoExchange
	}
	if !m.live(s, m.now()) {
		delete(m.sessions, key)
		return nil, errs.ErrNoExchange
	}
	out := clone(s)
	return &out, nil
}

// Update implements Store. The session keeps its original expiry.
func (m *MemoryStore) Update(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.Key()]
	if !ok || !m.live(cur, m.now()) || cur.ID != s.ID {
		return errs.ErrNoExchange
	}
	next := clone(*s)
	next.CreatedAt = cur.CreatedAt
	m.sessions[s.Key()] = next
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, sender, receiver string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, SessionKey(sender, receiver))
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for k, s := range m.sessions {
		if !m.live(s, now) {
			delete(m.sessions, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

func clone(s Session) Session {
	s.Photons = append([]Photon(nil), s.Photons...)
	s.SenderBits = append([]int(nil), s.SenderBits...)
	s.SenderBases = append([]Basis(nil), s.SenderBases...)
	s.ReceiverBases = append([]Basis(nil), s.ReceiverBases...)
	s.ReceiverBits = append([]int(nil), s.ReceiverBits...)
	return s
}
