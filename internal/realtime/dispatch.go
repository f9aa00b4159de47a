package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/qkd"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/validation"
)

// Client to server events.
const (
	EventStartKeyExchange = "start-key-exchange"
	EventMeasurePhotons   = "measure-photons"
	EventCompareBases     = "compare-bases"
	EventJoinGroupRoom    = "join_group_room"
	EventPrivateMessage   = "private_message"
	EventSendEphemeral    = "send-ephemeral-message"
)

// Server to client events outside the key exchange.
const (
	EventChatMessage      = "chat_message"
	EventReceiveEphemeral = "receive-ephemeral-message"
	EventJoinedGroupRoom  = "joined_group_room"
	EventError            = "error"
)

type startKeyExchange struct {
	ReceiverID string `json:"receiverId"`
}

type measurePhotons struct {
	ReceiverBases []qkd.Basis `json:"receiverBases"`
	SenderID      string      `json:"senderId"`
}

type compareBases struct {
	ReceiverBases []qkd.Basis `json:"receiverBases"`
	ReceiverID    string      `json:"receiverId"`
}

type joinGroupRoom struct {
	GroupID string `json:"groupId"`
}

type privateMessage struct {
	To               string `json:"to"`
	EncryptedMessage string `json:"encryptedMessage"`
}

type ephemeralMessage struct {
	Receiver         string `json:"receiver"`
	EncryptedMessage string `json:"encryptedMessage"`
}

// RelayedMessage is the live-only payload of chat_message when relayed from a socket.
type RelayedMessage struct {
	From             uuid.UUID `json:"from"`
	EncryptedMessage string    `json:"encryptedMessage"`
}

// EphemeralEvent is the receive-ephemeral-message payload. It is never persisted.
type EphemeralEvent struct {
	Sender           uuid.UUID `json:"sender"`
	EncryptedMessage string    `json:"encryptedMessage"`
}

// ErrorEvent reports a failed client event back to its sender.
type ErrorEvent struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// Membership answers group questions for room access.
type Membership interface {
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	GroupIDsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Dispatcher routes client frames to their handlers.
type Dispatcher struct {
	hub     *Hub
	kx      *KeyExchange
	groups  Membership
	metrics Recorder
	log     *zap.Logger
}

// NewDispatcher wires the event handlers. metrics may be nil.
func NewDispatcher(hub *Hub, kx *KeyExchange, groups Membership, metrics Recorder, logger *zap.Logger) *Dispatcher {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Dispatcher{hub: hub, kx: kx, groups: groups, metrics: metrics, log: logger}
}

// Dispatch handles one frame from p. Failures are reported to p only.
func (d *Dispatcher) Dispatch(ctx context.Context, p Peer, f Frame) {
	d.metrics.RecordEvent(f.Event)
	var err error
	switch f.Event {
	case EventStartKeyExchange:
		err = d.startKeyExchange(ctx, p, f.Data)
	case EventMeasurePhotons:
		err = d.measurePhotons(ctx, p, f.Data)
	case EventCompareBases:
		err = d.compareBases(ctx, p, f.Data)
	case EventJoinGroupRoom:
		err = d.joinGroupRoom(ctx, p, f.Data)
	case EventPrivateMessage:
		err = d.privateMessage(p, f.Data)
	case EventSendEphemeral:
		err = d.ephemeralMessage(p, f.Data)
	default:
		err = errs.Invalid(nil, "unknown event %q", f.Event)
	}
	if err == nil {
		return
	}

	if errs.KindOf(err) == errs.Infra && !errors.Is(err, errs.ErrOffline) {
		d.log.Error("realtime event failed", zap.String("event", f.Event),
			zap.Stringer("user", p.UserID()), zap.Error(err))
		err = errs.E(errs.Infra, err, "internal error")
	}
	event := EventError
	switch f.Event {
	case EventStartKeyExchange, EventMeasurePhotons, EventCompareBases:
		event = EventKeyExchangeError
	}
	reply(p, event, ErrorEvent{Event: f.Event, Message: errs.Message(err)}, d.log)
}

func reply(p Peer, event string, data any, log *zap.Logger) {
	frame, err := encode(event, data)
	if err != nil {
		log.Error("encode reply", zap.Error(err))
		return
	}
	p.Send(frame)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errs.Invalid(errs.ErrMissingField, "event data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Invalid(nil, "malformed event data")
	}
	return nil
}

func parseID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errs.Invalid(errs.ErrMissingField, "%s is required", field)
	}
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, errs.Invalid(nil, "%s is not a valid id", field)
	}
	return id, nil
}

func (d *Dispatcher) startKeyExchange(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in startKeyExchange
	if err := decode(raw, &in); err != nil {
		return err
	}
	receiver, err := parseID("receiverId", in.ReceiverID)
	if err != nil {
		return err
	}
	return d.kx.Start(ctx, p.UserID(), receiver)
}

func (d *Dispatcher) measurePhotons(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in measurePhotons
	if err := decode(raw, &in); err != nil {
		return err
	}
	sender, err := parseID("senderId", in.SenderID)
	if err != nil {
		return err
	}
	return d.kx.Measure(ctx, p.UserID(), sender, in.ReceiverBases)
}

func (d *Dispatcher) compareBases(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in compareBases
	if err := decode(raw, &in); err != nil {
		return err
	}
	receiver, err := parseID("receiverId", in.ReceiverID)
	if err != nil {
		return err
	}
	return d.kx.Compare(ctx, p.UserID(), receiver, in.ReceiverBases)
}

func (d *Dispatcher) joinGroupRoom(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in joinGroupRoom
	if err := decode(raw, &in); err != nil {
		return err
	}
	groupID, err := parseID("groupId", in.GroupID)
	if err != nil {
		return err
	}
	ok, err := d.groups.IsMember(ctx, groupID, p.UserID())
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrNotMember
	}
	d.hub.Join(p, GroupRoom(groupID))
	reply(p, EventJoinedGroupRoom, joinGroupRoom{GroupID: groupID.String()}, d.log)
	return nil
}

func checkCiphertext(text string) error {
	if err := validation.Required("encryptedMessage", text); err != nil {
		return err
	}
	if err := validation.MaxLen("encryptedMessage", text, validation.MaxMessageLen); err != nil {
		return err
	}
	return validation.Screen(text)
}

func (d *Dispatcher) privateMessage(p Peer, raw json.RawMessage) error {
	var in privateMessage
	if err := decode(raw, &in); err != nil {
		return err
	}
	to, err := parseID("to", in.To)
	if err != nil {
		return err
	}
	if to == p.UserID() {
		return errs.Invalid(errs.ErrSelfMessage, "cannot send a message to yourself")
	}
	if err := checkCiphertext(in.EncryptedMessage); err != nil {
		return err
	}
	if d.hub.EmitUser(to, EventChatMessage, RelayedMessage{From: p.UserID(), EncryptedMessage: in.EncryptedMessage}) == 0 {
		return errs.ErrOffline
	}
	return nil
}

func (d *Dispatcher) ephemeralMessage(p Peer, raw json.RawMessage) error {
	var in ephemeralMessage
	if err := decode(raw, &in); err != nil {
		return err
	}
	to, err := parseID("receiver", in.Receiver)
	if err != nil {
		return err
	}
	if err := checkCiphertext(in.EncryptedMessage); err != nil {
		return err
	}
	if d.hub.EmitUser(to, EventReceiveEphemeral, EphemeralEvent{Sender: p.UserID(), EncryptedMessage: in.EncryptedMessage}) == 0 {
		return errs.ErrOffline
	}
	return nil
}
