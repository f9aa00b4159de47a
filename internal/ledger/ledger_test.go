package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/repository"
)

type memBlocks struct {
	mu     sync.Mutex
	blocks map[int64]model.Block

	// stolen makes the next n inserts lose the race to a foreign writer.
	stolen  int
	listErr error
}

var _ repository.BlockRepository = (*memBlocks)(nil)

func newMemBlocks() *memBlocks { return &memBlocks{blocks: map[int64]model.Block{}} }

func (m *memBlocks) Tail(_ context.Context) (model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.blocks) == 0 {
		return model.Block{}, errs.ErrNotFound
	}
	var tail model.Block
	first := true
	for _, b := range m.blocks {
		if first || b.Index > tail.Index {
			tail, first = b, false
		}
	}
	return tail, nil
}

func (m *memBlocks) Insert(_ context.Context, b model.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stolen > 0 {
		m.stolen--
		foreign := b
		foreign.Data = `"foreign"`
		foreign.Hash = ComputeHash(foreign.PrevHash, foreign.Timestamp, foreign.Data)
		m.blocks[b.Index] = foreign
		return errs.ErrIndexConflict
	}
	if _, ok := m.blocks[b.Index]; ok {
		return errs.ErrIndexConflict
	}
	m.blocks[b.Index] = b
	return nil
}

func (m *memBlocks) List(_ context.Context) ([]model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]model.Block, 0, len(m.blocks))
	for _, b := range m.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *memBlocks) FindByData(_ context.Context, data string) (model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found, ok := model.Block{}, false
	for _, b := range m.blocks {
		if b.Data == data && (!ok || b.Index < found.Index) {
			found, ok = b, true
		}
	}
	if !ok {
		return model.Block{}, errs.ErrNotFound
	}
	return found, nil
}

func (m *memBlocks) mutate(index int64, fn func(*model.Block)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.blocks[index]
	fn(&b)
	m.blocks[index] = b
}

func fill(t *testing.T, c *Chain, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := c.Append(context.Background(), model.Transaction{From: "a", To: "b", MsgHash: string(rune('a' + i))}); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	t.Parallel()
	a := ComputeHash(GenesisHash, 1700000000000, `{"x":1}`)
	b := ComputeHash(GenesisHash, 1700000000000, `{"x":1}`)
	if a != b || len(a) != 64 {
		t.Fatalf("hash not deterministic or wrong length: %q %q", a, b)
	}
	if a == ComputeHash(GenesisHash, 1700000000001, `{"x":1}`) {
		t.Fatalf("timestamp must be part of the hash")
	}
	// empty prevHash and data leave sha256("0")
	if got := ComputeHash("", 0, ""); got != "5feceb66ffc86f38d952786c6d696c79c2dbc239dd4e91b46729d73a27fb57e9" {
		t.Fatalf("sha256(\"0\") mismatch: %s", got)
	}
}

func TestAppend_GenesisBlock(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	at := time.UnixMilli(1700000000123)
	c := NewChain(repo, zap.NewNop(), WithClock(func() time.Time { return at }))

	b, err := c.Append(context.Background(), map[string]string{"from": "a"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.Index != 0 || b.PrevHash != GenesisHash {
		t.Fatalf("genesis: index=%d prev=%s", b.Index, b.PrevHash)
	}
	if b.Timestamp != at.UnixMilli() || b.Data != `{"from":"a"}` {
		t.Fatalf("unexpected block: %+v", b)
	}
	if b.Hash != ComputeHash(GenesisHash, b.Timestamp, b.Data) {
		t.Fatalf("append and recompute disagree")
	}

	next, err := c.Append(context.Background(), "second")
	if err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	if next.Index != 1 || next.PrevHash != b.Hash {
		t.Fatalf("link broken: %+v", next)
	}
}

func TestValidate_RoundTripAndTamper(t *testing.T) {
	t.Parallel()
	const n = 6

	for _, field := range []string{"hash", "data", "prevHash", "timestamp"} {
		for k := int64(0); k < n; k++ {
			repo := newMemBlocks()
			c := NewChain(repo, zap.NewNop())
			fill(t, c, n)

			v, err := c.Validate(context.Background())
			if err != nil || !v.OK || v.FirstTamperedIndex != nil {
				t.Fatalf("fresh chain must validate: %+v %v", v, err)
			}

			repo.mutate(k, func(b *model.Block) {
				switch field {
				case "hash":
					b.Hash = "f" + b.Hash[1:]
					if b.Hash == repo.blocks[k].Hash {
						b.Hash = "e" + b.Hash[1:]
					}
				case "data":
					b.Data += " "
				case "prevHash":
					b.PrevHash = ComputeHash("x", 0, "y")
				case "timestamp":
					b.Timestamp++
				}
			})

			v, err = c.Validate(context.Background())
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if v.OK || v.FirstTamperedIndex == nil || *v.FirstTamperedIndex != k {
				t.Fatalf("%s tamper at %d: got %+v", field, k, v)
			}
		}
	}
}

func TestValidateBlocks_Sequence(t *testing.T) {
	t.Parallel()

	if v := ValidateBlocks(nil); !v.OK {
		t.Fatalf("empty chain must be valid")
	}

	repo := newMemBlocks()
	c := NewChain(repo, zap.NewNop())
	fill(t, c, 3)
	blocks, _ := c.Blocks(context.Background())

	gap := []model.Block{blocks[0], blocks[2]}
	if v := ValidateBlocks(gap); v.OK || *v.FirstTamperedIndex != 2 {
		t.Fatalf("gap: %+v", v)
	}
	dup := []model.Block{blocks[0], blocks[1], blocks[1]}
	if v := ValidateBlocks(dup); v.OK || *v.FirstTamperedIndex != 1 {
		t.Fatalf("duplicate: %+v", v)
	}
}

// Regression target: concurrent appends on an empty chain must yield
// exactly indices 0..N-1 and a valid chain.
func TestAppend_ConcurrentNoGapsNoDuplicates(t *testing.T) {
	t.Parallel()
	const n = 64
	repo := newMemBlocks()
	c := NewChain(repo, zap.NewNop())

	var wg sync.WaitGroup
	indices := make(chan int64, n)
	errCh := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			b, err := c.Append(context.Background(), i)
			if err != nil {
				errCh <- err
				return
			}
			indices <- b.Index
		}(i)
	}
	close(start)
	wg.Wait()
	close(indices)
	close(errCh)

	for err := range errCh {
		t.Fatalf("Append: %v", err)
	}
	seen := make(map[int64]bool, n)
	for idx := range indices {
		if seen[idx] {
			t.Fatalf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
	for i := int64(0); i < n; i++ {
		if !seen[i] {
			t.Fatalf("missing index %d", i)
		}
	}
	if v, _ := c.Validate(context.Background()); !v.OK {
		t.Fatalf("chain invalid after concurrent appends: %+v", v)
	}
}

func TestAppend_RetriesOnForeignConflict(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	repo.stolen = 2
	c := NewChain(repo, zap.NewNop(), WithBackoff(time.Millisecond))

	b, err := c.Append(context.Background(), "mine")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if b.Index != 2 {
		t.Fatalf("expected to land after two foreign blocks, got index %d", b.Index)
	}
	if v, _ := c.Validate(context.Background()); !v.OK {
		t.Fatalf("chain must stay valid: %+v", v)
	}
}

func TestAppend_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	repo.stolen = maxAppendAttempts
	c := NewChain(repo, zap.NewNop(), WithBackoff(time.Microsecond))

	_, err := c.Append(context.Background(), "mine")
	if !errors.Is(err, errs.ErrIndexConflict) {
		t.Fatalf("want ErrIndexConflict, got %v", err)
	}
}

func TestAppend_ObserverAndUnencodablePayload(t *testing.T) {
	t.Parallel()
	var got []int64
	c := NewChain(newMemBlocks(), zap.NewNop(), WithObserver(func(b model.Block) { got = append(got, b.Index) }))
	fill(t, c, 2)
	if len(got) != 2 || got[1] != 1 {
		t.Fatalf("observer calls: %v", got)
	}
	if _, err := c.Append(context.Background(), func() {}); err == nil {
		t.Fatalf("unencodable payload must fail")
	}
}

func TestAppendOnce_ReturnsExistingBlock(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	c := NewChain(repo, zap.NewNop())
	ctx := context.Background()
	tx := model.Transaction{MsgID: "m1", From: "a", To: "b", MsgHash: "h"}

	first, created, err := c.AppendOnce(ctx, tx)
	if err != nil || !created {
		t.Fatalf("first AppendOnce: created=%v err=%v", created, err)
	}
	fill(t, c, 2)
	again, created, err := c.AppendOnce(ctx, tx)
	if err != nil || created {
		t.Fatalf("second AppendOnce: created=%v err=%v", created, err)
	}
	if again.Index != first.Index || again.Hash != first.Hash {
		t.Fatalf("got block %d, want %d", again.Index, first.Index)
	}

	other := tx
	other.MsgID = "m2"
	b, created, err := c.AppendOnce(ctx, other)
	if err != nil || !created || b.Index != 3 {
		t.Fatalf("distinct message: index=%d created=%v err=%v", b.Index, created, err)
	}
	blocks, _ := c.Blocks(ctx)
	if len(blocks) != 4 || !ValidateBlocks(blocks).OK {
		t.Fatalf("want 4 valid blocks, got %d", len(blocks))
	}
}

func TestAppendOnce_ForeignWriterStoredSamePayload(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	repo.stolen = 1 // the foreign block carries the payload "foreign"
	c := NewChain(repo, zap.NewNop(), WithBackoff(time.Microsecond))

	b, created, err := c.AppendOnce(context.Background(), "foreign")
	if err != nil {
		t.Fatalf("AppendOnce: %v", err)
	}
	if created || b.Index != 0 {
		t.Fatalf("want the foreign block 0 reused, got index=%d created=%v", b.Index, created)
	}
	if blocks, _ := c.Blocks(context.Background()); len(blocks) != 1 {
		t.Fatalf("payload stored %d times", len(blocks))
	}
}

func TestHealth_SubscribeAndFlip(t *testing.T) {
	t.Parallel()
	h := NewHealth()
	if !h.Healthy() || h.ReadOnly() {
		t.Fatalf("new health must be healthy")
	}
	var seen []bool
	h.Subscribe(func(ok bool) { seen = append(seen, ok) })
	h.SetHealthy(false)
	h.SetHealthy(false)
	h.SetHealthy(true)
	want := []bool{true, false, true}
	if len(seen) != len(want) {
		t.Fatalf("notifications: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("notifications: %v", seen)
		}
	}

	// independent instances do not share state
	if other := NewHealth(); other.ReadOnly() {
		t.Fatalf("instances share state")
	}
}

func TestMonitor_CheckFlipsReadOnlyAndReconciles(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	c := NewChain(repo, zap.NewNop())
	fill(t, c, 3)
	h := NewHealth()

	calls := 0
	m := NewMonitor(c, h, 0, func(context.Context) (int, error) { calls++; return 1, nil }, zap.NewNop())

	m.Run(context.Background())
	if h.ReadOnly() || calls != 1 {
		t.Fatalf("healthy chain: readOnly=%v reconcile calls=%d", h.ReadOnly(), calls)
	}

	repo.mutate(1, func(b *model.Block) { b.Data = "evil" })
	v, err := m.Check(context.Background())
	if err != nil || v.OK || !h.ReadOnly() {
		t.Fatalf("tampered chain: %+v %v readOnly=%v", v, err, h.ReadOnly())
	}

	// reconcile must not run while read-only
	m.Run(context.Background())
	if calls != 1 {
		t.Fatalf("reconcile ran in read-only mode")
	}

	// storage errors keep the previous state
	repo.listErr = errors.New("db down")
	if _, err := m.Check(context.Background()); err == nil {
		t.Fatalf("expected storage error")
	}
	if !h.ReadOnly() {
		t.Fatalf("storage error must not flip the flag")
	}
}

func TestMonitor_StartSettlesHealthBeforeReturning(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	c := NewChain(repo, zap.NewNop())
	fill(t, c, 3)
	repo.mutate(2, func(b *model.Block) { b.Hash = "forged" })
	h := NewHealth()

	reconciled := make(chan struct{}, 1)
	m := NewMonitor(c, h, 0, func(context.Context) (int, error) {
		reconciled <- struct{}{}
		return 0, nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !h.ReadOnly() {
		t.Fatalf("tampered chain must be read-only as soon as Start returns")
	}
	// writers gated on Health never see a healthy flag, so nothing reaches the tampered tail
	select {
	case <-reconciled:
		t.Fatalf("reconcile ran on a tampered chain")
	case <-time.After(20 * time.Millisecond):
	}
	if blocks, _ := c.Blocks(ctx); len(blocks) != 3 {
		t.Fatalf("chain grew to %d blocks", len(blocks))
	}
}

func TestMonitor_StartReconcilesHealthyChain(t *testing.T) {
	t.Parallel()
	c := NewChain(newMemBlocks(), zap.NewNop())
	fill(t, c, 2)
	h := NewHealth()

	reconciled := make(chan struct{}, 1)
	m := NewMonitor(c, h, 0, func(context.Context) (int, error) {
		reconciled <- struct{}{}
		return 1, nil
	}, zap.NewNop())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.ReadOnly() {
		t.Fatalf("healthy chain reported read-only")
	}
	select {
	case <-reconciled:
	case <-time.After(time.Second):
		t.Fatalf("reconcile never ran")
	}
}

func TestMonitor_StartFailsOnStorageError(t *testing.T) {
	t.Parallel()
	repo := newMemBlocks()
	repo.listErr = errors.New("db down")
	m := NewMonitor(NewChain(repo, zap.NewNop()), NewHealth(), time.Millisecond, nil, zap.NewNop())
	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("Start must fail when the chain cannot be read")
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	c := NewChain(newMemBlocks(), zap.NewNop())
	m := NewMonitor(c, NewHealth(), time.Millisecond, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
}
