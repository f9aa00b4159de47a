package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/crypto"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/repository"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/validation"
)

// SendGroup is a message sealed under the group key.
type SendGroup struct {
	Message   string `json:"message"`
	Signature string `json:"signature,omitempty"`
}

// GroupView is a group as returned to one of its members.
type GroupView struct {
	ID        uuid.UUID `json:"groupId"`
	Name      string    `json:"name"`
	CreatorID uuid.UUID `json:"creatorId"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupMessageView is a group message with its signature check.
type GroupMessageView struct {
	ID        uuid.UUID `json:"id"`
	Message   string    `json:"message"`
	GroupID   uuid.UUID `json:"groupId"`
	UserID    uuid.UUID `json:"userId"`
	Signature string    `json:"signature,omitempty"`
	IsValid   bool      `json:"isValid"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupOverview lists a member's groups and their messages.
type GroupOverview struct {
	Groups   []GroupView        `json:"groups"`
	Messages []GroupMessageView `json:"messages"`
}

// GroupService handles group lifecycle and group messages.
type GroupService interface {
	Create(ctx context.Context, creator uuid.UUID, name, key string) (GroupView, error)
	Join(ctx context.Context, userID, groupID uuid.UUID) (GroupView, error)
	Send(ctx context.Context, userID, groupID uuid.UUID, in SendGroup) (model.GroupMessage, error)
	Overview(ctx context.Context, viewer uuid.UUID) (GroupOverview, error)
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	GroupIDsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type GroupServiceImpl struct {
	groups   repository.GroupRepository
	notifier Notifier
	metrics  Recorder
	log      *zap.Logger
	now      func() time.Time
}

// NewGroupService constructs GroupService. notifier and metrics may be nil.
func NewGroupService(groups repository.GroupRepository, notifier Notifier, metrics Recorder, logger *zap.Logger) *GroupServiceImpl {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &GroupServiceImpl{groups: groups, notifier: notifier, metrics: metrics, log: logger, now: time.Now}
}

func viewOf(g model.Group) GroupView {
	return GroupView{ID: g.ID, Name: g.Name, CreatorID: g.CreatorID, Key: g.Key, CreatedAt: g.CreatedAt}
}

// Create stores a group and makes creator its first member.
func (s *GroupServiceImpl) Create(ctx context.Context, creator uuid.UUID, name, key string) (GroupView, error) {
	if err := validation.Required("name", name, "key", key); err != nil {
		return GroupView{}, err
	}
	if err := validation.MaxLen("name", name, validation.MaxGroupNameLen); err != nil {
		return GroupView{}, err
	}
	if err := validation.Screen(name); err != nil {
		return GroupView{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return GroupView{}, err
	}
	g := model.Group{ID: id, Name: name, CreatorID: creator, Key: key, CreatedAt: s.now().UTC()}
	if err := s.groups.Create(ctx, &g); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return GroupView{}, errs.Invalid(err, "group name %q is taken", name)
		}
		s.log.Error("create group", zap.Error(err), zap.Stringer("creator", creator))
		return GroupView{}, err
	}
	s.notifier.JoinGroup(creator, g.ID)
	return viewOf(g), nil
}

// Join adds userID to the group and returns it with the shared key.
func (s *GroupServiceImpl) Join(ctx context.Context, userID, groupID uuid.UUID) (GroupView, error) {
	g, err := s.groups.Get(ctx, groupID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return GroupView{}, errs.Invalid(err, "group does not exist")
		}
		return GroupView{}, err
	}
	if err := s.groups.AddMember(ctx, groupID, userID); err != nil {
		switch {
		case errors.Is(err, errs.ErrAlreadyMember):
			return GroupView{}, errs.Invalid(err, "already a member of %q", g.Name)
		case errors.Is(err, errs.ErrNotFound):
			return GroupView{}, errs.Invalid(err, "group does not exist")
		}
		s.log.Error("join group", zap.Error(err),
			zap.Stringer("user", userID), zap.Stringer("group", groupID))
		return GroupView{}, err
	}
	s.notifier.JoinGroup(userID, groupID)
	return viewOf(*g), nil
}

// Send stores a group message from a member and pushes it to the group room.
func (s *GroupServiceImpl) Send(ctx context.Context, userID, groupID uuid.UUID, in SendGroup) (model.GroupMessage, error) {
	if err := validation.Required("message", in.Message); err != nil {
		return model.GroupMessage{}, err
	}
	if err := validation.MaxLen("message", in.Message, validation.MaxMessageLen); err != nil {
		return model.GroupMessage{}, err
	}
	if err := validation.Screen(in.Message); err != nil {
		s.metrics.RecordMessage("group", "rejected")
		return model.GroupMessage{}, err
	}
	ok, err := s.groups.IsMember(ctx, groupID, userID)
	if err != nil {
		return model.GroupMessage{}, err
	}
	if !ok {
		s.metrics.RecordMessage("group", "rejected")
		return model.GroupMessage{}, errs.ErrNotMember
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.GroupMessage{}, err
	}
	m := model.GroupMessage{
		ID:        id,
		Message:   in.Message,
		GroupID:   groupID,
		UserID:    userID,
		Signature: in.Signature,
		CreatedAt: s.now().UTC(),
	}
	if err := s.groups.InsertMessage(ctx, &m); err != nil {
		s.log.Error("persist group message", zap.Error(err),
			zap.Stringer("group", groupID), zap.Stringer("user", userID))
		s.metrics.RecordMessage("group", "failed")
		return model.GroupMessage{}, err
	}
	s.metrics.RecordMessage("group", "ok")

	if n := s.notifier.NotifyGroup(groupID, EventNewMessage, groupEvent(m)); n == 0 {
		s.log.Debug("no live group members", zap.Stringer("group", groupID))
	}
	return m, nil
}

// Overview returns the viewer's groups and their messages with signature checks.
func (s *GroupServiceImpl) Overview(ctx context.Context, viewer uuid.UUID) (GroupOverview, error) {
	groups, err := s.groups.ListForUser(ctx, viewer)
	if err != nil {
		return GroupOverview{}, err
	}
	out := GroupOverview{
		Groups:   make([]GroupView, 0, len(groups)),
		Messages: []GroupMessageView{},
	}
	ids := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		out.Groups = append(out.Groups, viewOf(g))
		ids = append(ids, g.ID)
	}
	rows, err := s.groups.ListMessages(ctx, ids)
	if err != nil {
		return GroupOverview{}, err
	}
	for _, r := range rows {
		out.Messages = append(out.Messages, GroupMessageView{
			ID:        r.ID,
			Message:   r.Message,
			GroupID:   r.GroupID,
			UserID:    r.UserID,
			Signature: r.Signature,
			IsValid:   r.Signature != "" && pkgcrypto.Verify([]byte(r.Message), r.Signature, r.SenderSigningKey),
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *GroupServiceImpl) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	return s.groups.IsMember(ctx, groupID, userID)
}

func (s *GroupServiceImpl) GroupIDsFor(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return s.groups.GroupIDsForUser(ctx, userID)
}
