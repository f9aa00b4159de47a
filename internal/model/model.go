// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// KeyPair is a PEM encoded key pair (SPKI public, PKCS#8 private).
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// User is an account. Only public key halves are stored server-side.
type User struct {
	ID               uuid.UUID
	Username         string // unique
	PwdHash          []byte // Argon2id(password, SaltAuth)
	SaltAuth         []byte
	PublicKey        string // RSA, wraps session keys
	SigningPublicKey string // ECDSA, verifies message signatures
	CreatedAt        time.Time
}

// Contact is the public view of another user.
type Contact struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	PublicKey string    `json:"publicKey"`
}

// Message is a direct message. Message holds ciphertext only.
type Message struct {
	ID           uuid.UUID
	Message      string
	OriginUserID uuid.UUID
	TargetUserID uuid.UUID
	OriginKey    string // session key wrapped for the sender
	TargetKey    string // session key wrapped for the recipient
	Signature    string // base64 DER, optional
	LedgerIndex  *int64 // nil until the ledger recorded the message
	CreatedAt    time.Time
}

// StoredMessage is a message row joined with the claimed sender's signing key.
// Msg is a named field: embedding Message would shadow the Message.Message ciphertext.
type StoredMessage struct {
	Msg              Message
	SenderSigningKey string
}

// Group is a chat group sharing one symmetric key.
type Group struct {
	ID        uuid.UUID
	Name      string // unique, <= 100 chars
	CreatorID uuid.UUID
	Key       string // base64 shared key material
	CreatedAt time.Time
}

// GroupMessage is a message encrypted under the group key.
type GroupMessage struct {
	ID        uuid.UUID
	Message   string
	GroupID   uuid.UUID
	UserID    uuid.UUID
	Signature string
	CreatedAt time.Time
}

// StoredGroupMessage is a group message row joined with its sender's signing key.
type StoredGroupMessage struct {
	GroupMessage
	SenderSigningKey string
}

// Block is a ledger entry. Hash = SHA256(PrevHash ++ Timestamp ++ Data).
type Block struct {
	Index     int64  `json:"index"`
	Timestamp int64  `json:"timestamp"` // epoch millis
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	Data      string `json:"data"` // serialized payload
}

// Transaction is the ledger payload recorded per accepted message.
// MsgID is set for direct messages so a message maps to exactly one block.
type Transaction struct {
	MsgID   string `json:"msgId,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	MsgHash string `json:"msgHash"`
	Sig     string `json:"sig,omitempty"`
}
