package qkd

import (
	"context"
	"time"
)

// Session is the transient state of one exchange between two users.
type Session struct {
	ID            uint64    `json:"id"`
	Sender        string    `json:"sender"`
	Receiver      string    `json:"receiver"`
	Photons       []Photon  `json:"photons"`
	SenderBits    []int     `json:"senderBits"`
	SenderBases   []Basis   `json:"senderBases"`
	ReceiverBases []Basis   `json:"receiverBases,omitempty"`
	ReceiverBits  []int     `json:"receiverBits,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Key is the store key of the session.
func (s *Session) Key() string { return SessionKey(s.Sender, s.Receiver) }

// SessionKey is the store key of the ordered pair.
func SessionKey(sender, receiver string) string { return sender + "-" + receiver }

// Store holds in-flight sessions. Entries expire after the store's TTL.
type Store interface {
	// Create stores s, assigning ID and CreatedAt. It fails with
	// errs.ErrExchangeInFlight when the pair already has a live session.
	Create(ctx context.Context, s *Session) error
	// Get returns the live session of the pair or errs.ErrNoExchange.
	Get(ctx context.Context, sender, receiver string) (*Session, error)
	// Update replaces a live session; errs.ErrNoExchange if it expired.
	Update(ctx context.Context, s *Session) error
	// Delete removes the pair's session. Deleting nothing is not an error.
	Delete(ctx context.Context, sender, receiver string) error
}
