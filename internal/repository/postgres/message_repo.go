package postgres

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a direct message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Insert stores m. The row must be written exactly once.
func (r *MessageRepo) Insert(ctx context.Context, m *model.Message) error {
	const q = `
INSERT INTO messages (id, message, origin_user_id, target_user_id, origin_key, target_key, signature, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	tag, err := r.db.Pool.Exec(ctx, q, m.ID, m.Message, m.OriginUserID, m.TargetUserID, m.OriginKey, m.TargetKey, m.Signature, m.CreatedAt)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n != 1 {
		return fmt.Errorf("insert message: %d rows affected", n)
	}
	return nil
}

// ListForUser returns the conversation history of userID with the sender's signing key.
func (r *MessageRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.StoredMessage, error) {
	const q = `
SELECT m.id, m.message, m.origin_user_id, m.target_user_id, m.origin_key, m.target_key,
       m.signature, m.ledger_index, m.created_at, u.signing_public_key
FROM messages m
JOIN users u ON u.id = m.origin_user_id
WHERE m.origin_user_id = $1 OR m.target_user_id = $1
ORDER BY m.created_at, m.id`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StoredMessage
	for rows.Next() {
		var (
			s   model.StoredMessage
			idx pgtype.Int8
		)
		m := &s.Msg
		if err := rows.Scan(&m.ID, &m.Message, &m.OriginUserID, &m.TargetUserID, &m.OriginKey, &m.TargetKey,
			&m.Signature, &idx, &m.CreatedAt, &s.SenderSigningKey); err != nil {
			return nil, err
		}
		m.LedgerIndex = ledgerIndex(idx)
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkLedgered sets ledger_index once; an already ledgered or unknown row yields ErrNotFound.
func (r *MessageRepo) MarkLedgered(ctx context.Context, id uuid.UUID, index int64) error {
	const q = `UPDATE messages SET ledger_index=$2 WHERE id=$1 AND ledger_index IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, id, index)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ClaimUnledgered stamps ledger_claimed_at on up to limit eligible rows and
// returns them oldest first. SKIP LOCKED keeps concurrent reconcilers from
// claiming the same row.
func (r *MessageRepo) ClaimUnledgered(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.Message, error) {
	const q = `
UPDATE messages SET ledger_claimed_at = $1
WHERE id IN (
    SELECT id FROM messages
    WHERE ledger_index IS NULL AND created_at < $2
      AND (ledger_claimed_at IS NULL OR ledger_claimed_at < $2)
    ORDER BY created_at, id
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING id, message, origin_user_id, target_user_id, origin_key, target_key, signature, created_at`
	rows, err := r.db.Pool.Query(ctx, q, now, now.Add(-lease), limit)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var m model.Message
		err := row.Scan(&m.ID, &m.Message, &m.OriginUserID, &m.TargetUserID, &m.OriginKey, &m.TargetKey, &m.Signature, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	// RETURNING has no order of its own.
	slices.SortFunc(out, func(a, b model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID.Bytes(), b.ID.Bytes())
	})
	return out, nil
}

func ledgerIndex(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
