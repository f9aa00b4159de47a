package qkd

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
)

// storeContract exercises behaviour shared by every Store.
func storeContract(t *testing.T, st Store, sender, receiver string) {
	t.Helper()
	ctx := context.Background()
	t.Cleanup(func() { _ = st.Delete(ctx, sender, receiver) })

	if _, err := st.Get(ctx, sender, receiver); !errors.Is(err, errs.ErrNoExchange) {
		t.Fatalf("Get on empty: want ErrNoExchange, got %v", err)
	}

	s := &Session{
		Sender:      sender,
		Receiver:    receiver,
		Photons:     []Photon{Vertical, DiagonalDn},
		SenderBits:  []int{0, 1},
		SenderBases: []Basis{Rectilinear, Diagonal},
	}
	if err := st.Create(ctx, s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == 0 || s.CreatedAt.IsZero() {
		t.Fatalf("Create must assign id and time: %+v", s)
	}

	// a second initiation for the same pair must not clobber the first
	dup := &Session{Sender: sender, Receiver: receiver}
	if err := st.Create(ctx, dup); !errors.Is(err, errs.ErrExchangeInFlight) {
		t.Fatalf("duplicate Create: want ErrExchangeInFlight, got %v", err)
	}

	// the reverse pair is a different exchange
	rev := &Session{Sender: receiver, Receiver: sender}
	if err := st.Create(ctx, rev); err != nil {
		t.Fatalf("reverse Create: %v", err)
	}
	if rev.ID == s.ID {
		t.Fatalf("exchange ids must differ")
	}
	_ = st.Delete(ctx, receiver, sender)

	got, err := st.Get(ctx, sender, receiver)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != s.ID || len(got.Photons) != 2 || got.Photons[1] != DiagonalDn {
		t.Fatalf("Get returned %+v", got)
	}

	got.ReceiverBases = []Basis{Diagonal, Diagonal}
	got.ReceiverBits = []int{1, 1}
	if err := st.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, _ := st.Get(ctx, sender, receiver)
	if len(again.ReceiverBits) != 2 || again.ReceiverBases[0] != Diagonal {
		t.Fatalf("Update not visible: %+v", again)
	}

	// an update carrying another exchange id must not overwrite this one
	stale := *again
	stale.ID = again.ID + 1000
	stale.ReceiverBits = []int{0, 0}
	if err := st.Update(ctx, &stale); !errors.Is(err, errs.ErrNoExchange) {
		t.Fatalf("Update with a foreign id: want ErrNoExchange, got %v", err)
	}
	if kept, _ := st.Get(ctx, sender, receiver); kept.ReceiverBits[0] != 1 {
		t.Fatalf("foreign update overwrote the session: %+v", kept)
	}

	if err := st.Delete(ctx, sender, receiver); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ctx, sender, receiver); !errors.Is(err, errs.ErrNoExchange) {
		t.Fatalf("Get after Delete: want ErrNoExchange, got %v", err)
	}
	if err := st.Update(ctx, got); !errors.Is(err, errs.ErrNoExchange) {
		t.Fatalf("Update after Delete: want ErrNoExchange, got %v", err)
	}
	if err := st.Delete(ctx, sender, receiver); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	storeContract(t, NewMemoryStore(time.Minute), "alice", "bob")
}

func TestMemoryStore_TTLAndSweep(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	st := NewMemoryStore(time.Minute)
	st.now = func() time.Time { return now }
	ctx := context.Background()

	if err := st.Create(ctx, &Session{Sender: "a", Receiver: "b"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Create(ctx, &Session{Sender: "c", Receiver: "d"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now = now.Add(2 * time.Minute)

	// a stale session no longer blocks a new initiation
	fresh := &Session{Sender: "a", Receiver: "b"}
	if err := st.Create(ctx, fresh); err != nil {
		t.Fatalf("Create over stale session: %v", err)
	}
	if _, err := st.Get(ctx, "c", "d"); !errors.Is(err, errs.ErrNoExchange) {
		t.Fatalf("expired Get: want ErrNoExchange, got %v", err)
	}

	if err := st.Create(ctx, &Session{Sender: "e", Receiver: "f"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if n := st.Sweep(); n != 2 {
		t.Fatalf("Sweep removed %d, want 2", n)
	}
	if st.Len() != 0 {
		t.Fatalf("store not empty after sweep: %d", st.Len())
	}
}

func TestMemoryStore_StaleUpdateRejected(t *testing.T) {
	t.Parallel()
	st := NewMemoryStore(time.Minute)
	ctx := context.Background()

	first := &Session{Sender: "a", Receiver: "b"}
	_ = st.Create(ctx, first)
	_ = st.Delete(ctx, "a", "b")
	second := &Session{Sender: "a", Receiver: "b"}
	_ = st.Create(ctx, second)

	first.ReceiverBits = []int{1}
	if err := st.Update(ctx, first); !errors.Is(err, errs.ErrNoExchange) {
		t.Fatalf("update from a finished exchange: want ErrNoExchange, got %v", err)
	}
}

// Set CHAT_TEST_REDIS=localhost:6379 to run against a real server.
func TestRedisStore_Contract(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	sender := "test-" + time.Now().Format("150405.000000000")
	storeContract(t, NewRedisStore(rdb, time.Minute), sender, "bob")
}
