package service

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
)

// Realtime event names pushed by the services.
const (
	EventChatMessage = "chat_message"
	EventNewMessage  = "new_message"
)

// Notifier pushes events to live connections. Delivery is best-effort.
type Notifier interface {
	// NotifyUser reports whether at least one connection of userID got the event.
	NotifyUser(userID uuid.UUID, event string, data any) bool
	// NotifyGroup returns how many connections in the group's room got the event.
	NotifyGroup(groupID uuid.UUID, event string, data any) int
	// JoinGroup subscribes every live connection of userID to the group's room.
	JoinGroup(userID, groupID uuid.UUID)
}

// NopNotifier is used when no realtime channel is configured.
type NopNotifier struct{}

func (NopNotifier) NotifyUser(uuid.UUID, string, any) bool { return false }
func (NopNotifier) NotifyGroup(uuid.UUID, string, any) int { return 0 }
func (NopNotifier) JoinGroup(uuid.UUID, uuid.UUID)         {}

// Recorder receives business metrics.
type Recorder interface {
	RecordMessage(kind, status string)
	RecordDelivery(delivered bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordMessage(string, string) {}
func (nopRecorder) RecordDelivery(bool)          {}

// ReadOnlyChecker exposes the ledger health flag.
type ReadOnlyChecker interface {
	ReadOnly() bool
}

// DirectMessageEvent is the chat_message payload.
type DirectMessageEvent struct {
	ID           uuid.UUID `json:"id"`
	Message      string    `json:"message"`
	OriginUserID uuid.UUID `json:"originUserId"`
	TargetUserID uuid.UUID `json:"targetUserId"`
	Key          string    `json:"key"`
	Signature    string    `json:"signature,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// GroupMessageEvent is the new_message payload.
type GroupMessageEvent struct {
	ID        uuid.UUID `json:"id"`
	GroupID   uuid.UUID `json:"groupId"`
	UserID    uuid.UUID `json:"userId"`
	Message   string    `json:"message"`
	Signature string    `json:"signature,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func directEvent(m model.Message) DirectMessageEvent {
	return DirectMessageEvent{
		ID:           m.ID,
		Message:      m.Message,
		OriginUserID: m.OriginUserID,
		TargetUserID: m.TargetUserID,
		Key:          m.TargetKey,
		Signature:    m.Signature,
		CreatedAt:    m.CreatedAt,
	}
}

func groupEvent(m model.GroupMessage) GroupMessageEvent {
	return GroupMessageEvent{
		ID:        m.ID,
		GroupID:   m.GroupID,
		UserID:    m.UserID,
		Message:   m.Message,
		Signature: m.Signature,
		CreatedAt: m.CreatedAt,
	}
}
