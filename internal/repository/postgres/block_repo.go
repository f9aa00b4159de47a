package postgres

import (
	"context"
	"errors"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/jackc/pgx/v5"
)

// BlockRepo implements BlockRepository using PostgreSQL.
// block_index is the primary key, so a racing writer gets a unique violation.
type BlockRepo struct{ db *DB }

// NewBlockRepo constructs a ledger block repository.
func NewBlockRepo(db *DB) *BlockRepo { return &BlockRepo{db: db} }

// Tail returns the highest block.
func (r *BlockRepo) Tail(ctx context.Context) (model.Block, error) {
	const q = `
SELECT block_index, timestamp, prev_hash, hash, data
FROM blocks
ORDER BY block_index DESC
LIMIT 1`
	var b model.Block
	err := r.db.Pool.QueryRow(ctx, q).Scan(&b.Index, &b.Timestamp, &b.PrevHash, &b.Hash, &b.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Block{}, errs.ErrNotFound
	}
	return b, err
}

// Insert stores b or reports ErrIndexConflict.
func (r *BlockRepo) Insert(ctx context.Context, b model.Block) error {
	const q = `
INSERT INTO blocks (block_index, timestamp, prev_hash, hash, data)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, b.Index, b.Timestamp, b.PrevHash, b.Hash, b.Data)
	if isUniqueViolation(err) {
		return errs.ErrIndexConflict
	}
	return err
}

// FindByData returns the first block carrying exactly data.
// The md5 predicate lets the lookup use blocks_data_md5_idx.
func (r *BlockRepo) FindByData(ctx context.Context, data string) (model.Block, error) {
	const q = `
SELECT block_index, timestamp, prev_hash, hash, data
FROM blocks
WHERE md5(data) = md5($1) AND data = $1
ORDER BY block_index
LIMIT 1`
	var b model.Block
	err := r.db.Pool.QueryRow(ctx, q, data).Scan(&b.Index, &b.Timestamp, &b.PrevHash, &b.Hash, &b.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Block{}, errs.ErrNotFound
	}
	return b, err
}

// List returns the chain in index order.
func (r *BlockRepo) List(ctx context.Context) ([]model.Block, error) {
	const q = `SELECT block_index, timestamp, prev_hash, hash, data FROM blocks ORDER BY block_index`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Block, error) {
		var b model.Block
		err := row.Scan(&b.Index, &b.Timestamp, &b.PrevHash, &b.Hash, &b.Data)
		return b, err
	})
}
