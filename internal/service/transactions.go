package service

import (
	"context"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/ledger"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/validation"
)

// ChainView is the full ledger with its validation result.
type ChainView struct {
	Chain      []model.Block     `json:"chain"`
	Validation ledger.Validation `json:"validation"`
}

// TransactionService exposes the ledger to external callers.
type TransactionService interface {
	// Add appends tx as a new block.
	Add(ctx context.Context, tx model.Transaction) (model.Block, error)
	// Chain returns every block and the validation of the whole chain.
	Chain(ctx context.Context) (ChainView, error)
}

type TransactionServiceImpl struct {
	ledger Ledger
	health ReadOnlyChecker
}

func NewTransactionService(chain Ledger, health ReadOnlyChecker) *TransactionServiceImpl {
	return &TransactionServiceImpl{ledger: chain, health: health}
}

func (s *TransactionServiceImpl) Add(ctx context.Context, tx model.Transaction) (model.Block, error) {
	if err := validation.Required("from", tx.From, "to", tx.To, "msgHash", tx.MsgHash, "sig", tx.Sig); err != nil {
		return model.Block{}, err
	}
	if s.health.ReadOnly() {
		return model.Block{}, errs.ErrReadOnly
	}
	return s.ledger.Append(ctx, tx)
}

func (s *TransactionServiceImpl) Chain(ctx context.Context) (ChainView, error) {
	blocks, err := s.ledger.Blocks(ctx)
	if err != nil {
		return ChainView{}, err
	}
	if blocks == nil {
		blocks = []model.Block{}
	}
	return ChainView{Chain: blocks, Validation: ledger.ValidateBlocks(blocks)}, nil
}
