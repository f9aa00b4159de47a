package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Reconciler catches the ledger up with rows persisted while appends failed.
// It returns how many rows it ledgered.
type Reconciler func(ctx context.Context) (int, error)

// Monitor revalidates the chain, flips Health accordingly,
// and runs the reconciler while the chain is healthy.
type Monitor struct {
	chain     *Chain
	health    *Health
	interval  time.Duration
	reconcile Reconciler
	log       *zap.Logger
}

// NewMonitor returns a monitor. interval <= 0 validates only once in Run.
// reconcile may be nil.
func NewMonitor(chain *Chain, health *Health, interval time.Duration, reconcile Reconciler, logger *zap.Logger) *Monitor {
	return &Monitor{chain: chain, health: health, interval: interval, reconcile: reconcile, log: logger}
}

// Check validates the chain and updates the health flag.
// A storage error leaves the flag unchanged.
func (m *Monitor) Check(ctx context.Context) (Validation, error) {
	v, err := m.chain.Validate(ctx)
	if err != nil {
		m.log.Error("ledger validation failed to run", zap.Error(err))
		return Validation{}, err
	}
	m.health.SetHealthy(v.OK)
	if !v.OK {
		m.log.Error("ledger tampered, entering read-only mode",
			zap.Int64("firstTamperedIndex", *v.FirstTamperedIndex),
		)
	}
	return v, nil
}

// Start is the before-serving gate: it validates the chain synchronously,
// so Health is settled before any writer can reach it, then reconciles and
// keeps checking in the background until ctx is done. A storage error is
// returned and nothing is started.
func (m *Monitor) Start(ctx context.Context) error {
	if _, err := m.Check(ctx); err != nil {
		return fmt.Errorf("boot validation: %w", err)
	}
	go func() {
		m.reconcileOnce(ctx)
		m.loop(ctx)
	}()
	return nil
}

// Run checks once, then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.tick(ctx)
	m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if _, err := m.Check(ctx); err != nil {
		return
	}
	m.reconcileOnce(ctx)
}

func (m *Monitor) reconcileOnce(ctx context.Context) {
	if m.reconcile == nil || m.health.ReadOnly() {
		return
	}
	n, err := m.reconcile(ctx)
	if err != nil {
		m.log.Warn("ledger reconcile", zap.Error(err))
		return
	}
	if n > 0 {
		m.log.Info("ledger reconciled", zap.Int("messages", n))
	}
}
