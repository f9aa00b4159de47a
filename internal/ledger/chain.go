package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/repository"
)

// Append retry policy for index conflicts with writers outside this process.
const (
	maxAppendAttempts = 5
	appendBackoff     = 20 * time.Millisecond
)

// Chain appends to and validates the block store.
// Appends within one process are serialized by mu; the store's unique
// block index catches writers in other processes, which are retried.
type Chain struct {
	repo    repository.BlockRepository
	log     *zap.Logger
	now     func() time.Time
	observe func(model.Block)
	backoff time.Duration
	mu      sync.Mutex
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the block timestamp source.
func WithClock(now func() time.Time) Option { return func(c *Chain) { c.now = now } }

// WithObserver is called after every stored block.
func WithObserver(fn func(model.Block)) Option { return func(c *Chain) { c.observe = fn } }

// WithBackoff overrides the base delay between conflicting attempts.
func WithBackoff(d time.Duration) Option { return func(c *Chain) { c.backoff = d } }

// NewChain builds a chain over repo.
func NewChain(repo repository.BlockRepository, logger *zap.Logger, opts ...Option) *Chain {
	c := &Chain{
		repo:    repo,
		log:     logger,
		now:     time.Now,
		observe: func(model.Block) {},
		backoff: appendBackoff,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Append serializes payload as JSON and stores it as the next block.
func (c *Chain) Append(ctx context.Context, payload any) (model.Block, error) {
	b, _, err := c.append(ctx, payload, false)
	return b, err
}

// AppendOnce is Append for payloads that must appear in the chain at most
// once. When a block with the same serialized payload exists it is returned
// and created is false. The lookup is repeated on every attempt, so a
// foreign writer that stored the payload first wins the conflict.
func (c *Chain) AppendOnce(ctx context.Context, payload any) (b model.Block, created bool, err error) {
	return c.append(ctx, payload, true)
}

func (c *Chain) append(ctx context.Context, payload any, once bool) (model.Block, bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return model.Block{}, false, fmt.Errorf("encode payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if once {
			existing, err := c.repo.FindByData(ctx, string(data))
			switch {
			case err == nil:
				return existing, false, nil
			case !errors.Is(err, errs.ErrNotFound):
				return model.Block{}, false, fmt.Errorf("find block: %w", err)
			}
		}
		b, err := c.next(ctx, string(data))
		if err != nil {
			return model.Block{}, false, err
		}
		err = c.repo.Insert(ctx, b)
		if err == nil {
			c.observe(b)
			return b, true, nil
		}
		if !errors.Is(err, errs.ErrIndexConflict) {
			return model.Block{}, false, err
		}
		if attempt == maxAppendAttempts {
			return model.Block{}, false, fmt.Errorf("append after %d attempts: %w", attempt, err)
		}
		c.log.Warn("ledger index conflict, retrying",
			zap.Int64("index", b.Index),
			zap.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return model.Block{}, false, ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
}

// next builds the block that would follow the current tail.
func (c *Chain) next(ctx context.Context, data string) (model.Block, error) {
	b := model.Block{PrevHash: GenesisHash, Timestamp: c.now().UnixMilli(), Data: data}
	tail, err := c.repo.Tail(ctx)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return model.Block{}, fmt.Errorf("read tail: %w", err)
	default:
		b.Index = tail.Index + 1
		b.PrevHash = tail.Hash
	}
	b.Hash = ComputeHash(b.PrevHash, b.Timestamp, b.Data)
	return b, nil
}

// Blocks returns the whole chain in index order.
func (c *Chain) Blocks(ctx context.Context) ([]model.Block, error) {
	return c.repo.List(ctx)
}

// Validate scans the stored chain.
func (c *Chain) Validate(ctx context.Context) (Validation, error) {
	blocks, err := c.repo.List(ctx)
	if err != nil {
		return Validation{}, err
	}
	return ValidateBlocks(blocks), nil
}
