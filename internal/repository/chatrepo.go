package repository

import (
	"context"
	"time"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepository stores direct messages.
type MessageRepository interface {
	// Insert stores one message row; anything but exactly one affected row is an error.
	Insert(ctx context.Context, m *model.Message) error

	// ListForUser returns every message sent or received by userID, oldest first,
	// joined with the claimed sender's signing key.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.StoredMessage, error)

	// MarkLedgered records the ledger block index that covers the message.
	MarkLedgered(ctx context.Context, id uuid.UUID, index int64) error

	// ClaimUnledgered leases up to limit messages that have no ledger block yet,
	// oldest first. Only rows created before now-lease whose previous claim (if
	// any) is older than now-lease qualify; claimed rows are stamped with now.
	ClaimUnledgered(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.Message, error)
}

// GroupRepository stores groups, memberships and group messages.
type GroupRepository interface {
	// Create inserts the group and its creator's membership atomically.
	Create(ctx context.Context, g *model.Group) error
	// AddMember adds userID to the group; a duplicate yields errs.ErrAlreadyMember.
	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	// IsMember reports whether userID belongs to the group.
	IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error)
	// Get loads a group by ID.
	Get(ctx context.Context, groupID uuid.UUID) (*model.Group, error)
	// ListForUser returns the groups userID belongs to.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Group, error)
	// GroupIDsForUser returns only the IDs of the groups userID belongs to.
	GroupIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	// InsertMessage stores one group message row.
	InsertMessage(ctx context.Context, m *model.GroupMessage) error
	// ListMessages returns the messages of the given groups, oldest first.
	ListMessages(ctx context.Context, groupIDs []uuid.UUID) ([]model.StoredGroupMessage, error)
}

// BlockRepository is the ledger's append-only block store.
type BlockRepository interface {
	// Tail returns the block with the highest index, or errs.ErrNotFound on an empty chain.
	Tail(ctx context.Context) (model.Block, error)
	// Insert stores b; an existing block at b.Index yields errs.ErrIndexConflict.
	Insert(ctx context.Context, b model.Block) error
	// List returns every block ordered by index.
	List(ctx context.Context) ([]model.Block, error)
	// FindByData returns the lowest block whose data equals data, or errs.ErrNotFound.
	FindByData(ctx context.Context, data string) (model.Block, error)
}
