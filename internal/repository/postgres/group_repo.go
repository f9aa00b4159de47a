package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

// Create inserts the group and the creator's membership in one transaction.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insGroup = `INSERT INTO chat_groups (id, name, creator_id, key) VALUES ($1, $2, $3, $4)`
	const insMember = `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`

	if _, err = tx.Exec(ctx, insGroup, g.ID, g.Name, g.CreatorID, g.Key); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}
	if _, err = tx.Exec(ctx, insMember, g.ID, g.CreatorID); err != nil {
		return fmt.Errorf("add creator: %w", err)
	}
	return nil
}

// AddMember inserts a (group, user) membership.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	const q = `INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, groupID, userID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyMember
	}
	if isForeignKeyViolation(err) {
		return errs.ErrNotFound
	}
	return err
}

// IsMember reports group membership.
func (r *GroupRepo) IsMember(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, groupID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Get loads one group.
func (r *GroupRepo) Get(ctx context.Context, groupID uuid.UUID) (*model.Group, error) {
	const q = `SELECT id, name, creator_id, key, created_at FROM chat_groups WHERE id=$1`
	var g model.Group
	err := r.db.Pool.QueryRow(ctx, q, groupID).Scan(&g.ID, &g.Name, &g.CreatorID, &g.Key, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListForUser returns the groups userID belongs to, with their shared keys.
func (r *GroupRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Group, error) {
	const q = `
SELECT g.id, g.name, g.creator_id, g.key, g.created_at
FROM chat_groups g
JOIN group_members gm ON gm.group_id = g.id
WHERE gm.user_id = $1
ORDER BY g.name`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Group, error) {
		var g model.Group
		err := row.Scan(&g.ID, &g.Name, &g.CreatorID, &g.Key, &g.CreatedAt)
		return g, err
	})
}

// GroupIDsForUser returns the IDs of the groups userID belongs to.
func (r *GroupRepo) GroupIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT group_id FROM group_members WHERE user_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
}

// InsertMessage stores a group message.
func (r *GroupRepo) InsertMessage(ctx context.Context, m *model.GroupMessage) error {
	const q = `
INSERT INTO group_messages (id, message, group_id, user_id, signature)
VALUES ($1, $2, $3, $4, $5)`
	tag, err := r.db.Pool.Exec(ctx, q, m.ID, m.Message, m.GroupID, m.UserID, m.Signature)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n != 1 {
		return fmt.Errorf("insert group message: %d rows affected", n)
	}
	return nil
}

// ListMessages returns the messages of groupIDs with each sender's signing key.
func (r *GroupRepo) ListMessages(ctx context.Context, groupIDs []uuid.UUID) ([]model.StoredGroupMessage, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(groupIDs))
	for i, id := range groupIDs {
		ids[i] = id.String()
	}
	const q = `
SELECT gm.id, gm.message, gm.group_id, gm.user_id, gm.signature, gm.created_at, u.signing_public_key
FROM group_messages gm
JOIN users u ON u.id = gm.user_id
WHERE gm.group_id = ANY($1::uuid[])
ORDER BY gm.created_at, gm.id`
	rows, err := r.db.Pool.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StoredGroupMessage, error) {
		var s model.StoredGroupMessage
		err := row.Scan(&s.ID, &s.Message, &s.GroupID, &s.UserID, &s.Signature, &s.CreatedAt, &s.SenderSigningKey)
		return s, err
	})
}
