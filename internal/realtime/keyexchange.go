package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/qkd"
)

// Server to client events of the key exchange.
const (
	EventReceivePhotons    = "receive-photons"
	EventSendBasesReceiver = "send-bases-receiver"
	EventKeyGenerated      = "key-generated"
	EventKeyExchangeError  = "key-exchange-error"
)

// PhotonsEvent is sent to the receiver when an exchange starts.
type PhotonsEvent struct {
	SenderID   uuid.UUID    `json:"senderId"`
	Photons    []qkd.Photon `json:"photons"`
	Length     int          `json:"length"`
	ExchangeID uint64       `json:"exchangeId"`
}

// BasesEvent is sent back to the initiator after the receiver measured.
type BasesEvent struct {
	ReceiverID    uuid.UUID   `json:"receiverId"`
	ReceiverBases []qkd.Basis `json:"receiverBases"`
	ReceiverBits  []int       `json:"receiverBits"`
	ExchangeID    uint64      `json:"exchangeId"`
}

// KeyEvent is sent to both parties once the bases were compared.
type KeyEvent struct {
	KeyGenerated []int     `json:"keyGenerated"`
	SessionKey   string    `json:"sessionKey"` // base64, HKDF over the sifted bits
	ExchangeID   uint64    `json:"exchangeId"`
	SenderID     uuid.UUID `json:"senderId"`
	ReceiverID   uuid.UUID `json:"receiverId"`
}

// KeyExchange runs BB84 sessions between two live users. The server holds
// the session state between steps; at most one exchange per ordered pair
// is in flight.
type KeyExchange struct {
	store   qkd.Store
	hub     *Hub
	bits    int
	metrics Recorder
	log     *zap.Logger
}

// NewKeyExchange creates the coordinator. bits <= 0 uses qkd.DefaultBits.
func NewKeyExchange(store qkd.Store, hub *Hub, bits int, metrics Recorder, logger *zap.Logger) *KeyExchange {
	if bits <= 0 {
		bits = qkd.DefaultBits
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &KeyExchange{store: store, hub: hub, bits: bits, metrics: metrics, log: logger}
}

func invalidQKD(err error, msg string) error {
	if errors.Is(err, qkd.ErrInvalidInput) {
		return errs.Invalid(err, "%s", msg)
	}
	return err
}

// Start generates the initiator's bits and bases and sends the photons to receiver.
func (k *KeyExchange) Start(ctx context.Context, sender, receiver uuid.UUID) error {
	if sender == receiver {
		return errs.Invalid(errs.ErrSelfMessage, "cannot exchange keys with yourself")
	}
	if !k.hub.Online(receiver) {
		return errs.ErrOffline
	}
	bits, bases, err := qkd.GenerateBitsBases(k.bits)
	if err != nil {
		return err
	}
	photons, err := qkd.EncodePhotons(bits, bases)
	if err != nil {
		return err
	}
	s := &qkd.Session{
		Sender:      sender.String(),
		Receiver:    receiver.String(),
		Photons:     photons,
		SenderBits:  bits,
		SenderBases: bases,
	}
	if err := k.store.Create(ctx, s); err != nil {
		k.metrics.RecordQKDExchange("rejected")
		return err
	}
	if k.hub.EmitUser(receiver, EventReceivePhotons, PhotonsEvent{
		SenderID:   sender,
		Photons:    photons,
		Length:     len(photons),
		ExchangeID: s.ID,
	}) == 0 {
		k.abort(ctx, s)
		return errs.ErrOffline
	}
	k.metrics.RecordQKDExchange("started")
	return nil
}

// Measure records the receiver's measurement. Empty bases are drawn at random.
func (k *KeyExchange) Measure(ctx context.Context, receiver, sender uuid.UUID, bases []qkd.Basis) error {
	s, err := k.store.Get(ctx, sender.String(), receiver.String())
	if err != nil {
		return err
	}
	if len(bases) == 0 {
		if bases, err = qkd.RandomBases(len(s.Photons)); err != nil {
			return err
		}
	}
	bits, err := qkd.MeasurePhotons(s.Photons, bases)
	if err != nil {
		return invalidQKD(err, "receiver bases do not fit the photons")
	}
	s.ReceiverBases = bases
	s.ReceiverBits = bits
	if err := k.store.Update(ctx, s); err != nil {
		return err
	}
	if k.hub.EmitUser(sender, EventSendBasesReceiver, BasesEvent{
		ReceiverID:    receiver,
		ReceiverBases: bases,
		ReceiverBits:  bits,
		ExchangeID:    s.ID,
	}) == 0 {
		k.abort(ctx, s)
		return errs.ErrOffline
	}
	return nil
}

// Compare sifts the key, derives the session key, hands both to the two
// parties and discards the session.
func (k *KeyExchange) Compare(ctx context.Context, sender, receiver uuid.UUID, bases []qkd.Basis) error {
	s, err := k.store.Get(ctx, sender.String(), receiver.String())
	if err != nil {
		return err
	}
	if len(s.ReceiverBases) == 0 {
		return errs.Invalid(qkd.ErrInvalidInput, "photons not measured yet")
	}
	if len(bases) > 0 && !slices.Equal(bases, s.ReceiverBases) {
		return errs.Invalid(qkd.ErrInvalidInput, "receiver bases differ from the recorded measurement")
	}
	sifted, err := qkd.CompareBasesAndGenerateKey(s.SenderBits, s.SenderBases, s.ReceiverBases)
	if err != nil {
		return invalidQKD(err, "corrupt session")
	}
	key, err := qkd.DeriveKey(sifted, fmt.Sprintf("chat/qkd/%d/%s", s.ID, s.Key()))
	if err != nil {
		k.abort(ctx, s)
		return invalidQKD(err, "no matching bases, restart the exchange")
	}

	ev := KeyEvent{
		KeyGenerated: sifted,
		SessionKey:   base64.StdEncoding.EncodeToString(key),
		ExchangeID:   s.ID,
		SenderID:     sender,
		ReceiverID:   receiver,
	}
	k.hub.EmitUser(sender, EventKeyGenerated, ev)
	k.hub.EmitUser(receiver, EventKeyGenerated, ev)
	if err := k.store.Delete(ctx, s.Sender, s.Receiver); err != nil {
		k.log.Warn("delete qkd session", zap.Error(err), zap.Uint64("exchange", s.ID))
	}
	k.metrics.RecordQKDExchange("completed")
	return nil
}

func (k *KeyExchange) abort(ctx context.Context, s *qkd.Session) {
	if err := k.store.Delete(ctx, s.Sender, s.Receiver); err != nil {
		k.log.Warn("delete qkd session", zap.Error(err), zap.Uint64("exchange", s.ID))
	}
	k.metrics.RecordQKDExchange("aborted")
}
