package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/qkd"
)

type fakeMembers struct {
	members map[uuid.UUID][]uuid.UUID // group -> users
	err     error
}

var _ Membership = (*fakeMembers)(nil)

func (f *fakeMembers) IsMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return slices.Contains(f.members[groupID], userID), nil
}

func (f *fakeMembers) GroupIDsFor(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []uuid.UUID
	for g, users := range f.members {
		if slices.Contains(users, userID) {
			out = append(out, g)
		}
	}
	return out, nil
}

func frame(t *testing.T, event string, data any) Frame {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return Frame{Event: event, Data: raw}
}

type rig struct {
	hub     *Hub
	store   *qkd.MemoryStore
	members *fakeMembers
	rec     *countingRecorder
	d       *Dispatcher
	alice   *fakePeer
	bob     *fakePeer
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		store:   qkd.NewMemoryStore(time.Minute),
		members: &fakeMembers{members: map[uuid.UUID][]uuid.UUID{}},
		rec:     &countingRecorder{},
		alice:   newPeer(),
		bob:     newPeer(),
	}
	r.hub = NewHub(r.rec, zap.NewNop())
	kx := NewKeyExchange(r.store, r.hub, 16, r.rec, zap.NewNop())
	r.d = NewDispatcher(r.hub, kx, r.members, r.rec, zap.NewNop())
	r.hub.Register(r.alice)
	r.hub.Register(r.bob)
	return r
}

func (r *rig) errorMessage(t *testing.T, p *fakePeer, event string) string {
	t.Helper()
	var e ErrorEvent
	p.last(t, event, &e)
	return e.Message
}

func TestKeyExchange_FullFlow(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()
	a, b := r.alice.id.String(), r.bob.id.String()

	r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": b}))
	var pe PhotonsEvent
	r.bob.last(t, EventReceivePhotons, &pe)
	if pe.SenderID != r.alice.id || pe.Length != 16 || len(pe.Photons) != 16 || pe.ExchangeID == 0 {
		t.Fatalf("bad photons event: %+v", pe)
	}

	s, err := r.store.Get(ctx, a, b)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	// measuring in the sender's bases keeps every position
	r.d.Dispatch(ctx, r.bob, frame(t, EventMeasurePhotons, map[string]any{"senderId": a, "receiverBases": s.SenderBases}))
	var be BasesEvent
	r.alice.last(t, EventSendBasesReceiver, &be)
	if be.ReceiverID != r.bob.id || !slices.Equal(be.ReceiverBits, s.SenderBits) || be.ExchangeID != pe.ExchangeID {
		t.Fatalf("bad bases event: %+v", be)
	}

	r.d.Dispatch(ctx, r.alice, frame(t, EventCompareBases, map[string]any{"receiverId": b, "receiverBases": be.ReceiverBases}))
	var ka, kb KeyEvent
	r.alice.last(t, EventKeyGenerated, &ka)
	r.bob.last(t, EventKeyGenerated, &kb)
	if ka.SessionKey != kb.SessionKey || !slices.Equal(ka.KeyGenerated, kb.KeyGenerated) {
		t.Fatalf("parties got different keys")
	}
	if !slices.Equal(ka.KeyGenerated, s.SenderBits) {
		t.Fatalf("sifted key=%v, want %v", ka.KeyGenerated, s.SenderBits)
	}
	raw, err := base64.StdEncoding.DecodeString(ka.SessionKey)
	if err != nil || len(raw) != qkd.KeySize {
		t.Fatalf("session key must be %d bytes: %v", qkd.KeySize, err)
	}
	if r.store.Len() != 0 {
		t.Fatalf("session must be deleted after the key is emitted")
	}
	if r.rec.qkd["started"] != 1 || r.rec.qkd["completed"] != 1 {
		t.Fatalf("qkd metrics: %v", r.rec.qkd)
	}

	// a fresh exchange for the same pair is allowed once the previous one finished
	r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": b}))
	var pe2 PhotonsEvent
	r.bob.last(t, EventReceivePhotons, &pe2)
	if pe2.ExchangeID == pe.ExchangeID {
		t.Fatalf("exchange ids must not repeat")
	}
}

func TestKeyExchange_RandomReceiverBases(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()
	a, b := r.alice.id.String(), r.bob.id.String()

	r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": b}))
	r.d.Dispatch(ctx, r.bob, frame(t, EventMeasurePhotons, map[string]string{"senderId": a}))
	s, err := r.store.Get(ctx, a, b)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(s.ReceiverBases) != 16 || len(s.ReceiverBits) != 16 {
		t.Fatalf("server must draw receiver bases when none are given")
	}
	want, _ := qkd.CompareBasesAndGenerateKey(s.SenderBits, s.SenderBases, s.ReceiverBases)

	r.d.Dispatch(ctx, r.alice, frame(t, EventCompareBases, map[string]string{"receiverId": b}))
	if len(want) == 0 {
		if !strings.Contains(r.errorMessage(t, r.alice, EventKeyExchangeError), "restart") {
			t.Fatalf("empty sift must ask for a restart")
		}
		return
	}
	var k KeyEvent
	r.bob.last(t, EventKeyGenerated, &k)
	if !slices.Equal(k.KeyGenerated, want) {
		t.Fatalf("sifted=%v, want %v", k.KeyGenerated, want)
	}
}

func TestKeyExchange_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("in flight", func(t *testing.T) {
		r := newRig(t)
		start := frame(t, EventStartKeyExchange, map[string]string{"receiverId": r.bob.id.String()})
		r.d.Dispatch(ctx, r.alice, start)
		r.d.Dispatch(ctx, r.alice, start)
		if msg := r.errorMessage(t, r.alice, EventKeyExchangeError); !strings.Contains(msg, "already in progress") {
			t.Fatalf("msg=%q", msg)
		}
		if r.rec.qkd["rejected"] != 1 {
			t.Fatalf("rejected exchange not counted")
		}
	})

	t.Run("offline receiver", func(t *testing.T) {
		r := newRig(t)
		r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": uuid.Must(uuid.NewV4()).String()}))
		if msg := r.errorMessage(t, r.alice, EventKeyExchangeError); msg != "recipient offline" {
			t.Fatalf("msg=%q", msg)
		}
		if r.store.Len() != 0 {
			t.Fatalf("no session may be left behind")
		}
	})

	t.Run("self", func(t *testing.T) {
		r := newRig(t)
		r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": r.alice.id.String()}))
		r.errorMessage(t, r.alice, EventKeyExchangeError)
	})

	t.Run("measure without exchange", func(t *testing.T) {
		r := newRig(t)
		r.d.Dispatch(ctx, r.bob, frame(t, EventMeasurePhotons, map[string]string{"senderId": r.alice.id.String()}))
		if msg := r.errorMessage(t, r.bob, EventKeyExchangeError); msg != "no key exchange in progress" {
			t.Fatalf("msg=%q", msg)
		}
	})

	t.Run("bad bases", func(t *testing.T) {
		r := newRig(t)
		r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": r.bob.id.String()}))
		r.d.Dispatch(ctx, r.bob, frame(t, EventMeasurePhotons, map[string]any{"senderId": r.alice.id.String(), "receiverBases": []string{"+", "x"}}))
		if msg := r.errorMessage(t, r.bob, EventKeyExchangeError); !strings.Contains(msg, "do not fit") {
			t.Fatalf("msg=%q", msg)
		}
	})

	t.Run("compare before measure", func(t *testing.T) {
		r := newRig(t)
		r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": r.bob.id.String()}))
		r.d.Dispatch(ctx, r.alice, frame(t, EventCompareBases, map[string]string{"receiverId": r.bob.id.String()}))
		if msg := r.errorMessage(t, r.alice, EventKeyExchangeError); msg != "photons not measured yet" {
			t.Fatalf("msg=%q", msg)
		}
	})

	t.Run("compare with other bases", func(t *testing.T) {
		r := newRig(t)
		a, b := r.alice.id.String(), r.bob.id.String()
		r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{"receiverId": b}))
		bases := slices.Repeat([]qkd.Basis{qkd.Rectilinear}, 16)
		r.d.Dispatch(ctx, r.bob, frame(t, EventMeasurePhotons, map[string]any{"senderId": a, "receiverBases": bases}))
		other := slices.Repeat([]qkd.Basis{qkd.Diagonal}, 16)
		r.d.Dispatch(ctx, r.alice, frame(t, EventCompareBases, map[string]any{"receiverId": b, "receiverBases": other}))
		if msg := r.errorMessage(t, r.alice, EventKeyExchangeError); !strings.Contains(msg, "differ") {
			t.Fatalf("msg=%q", msg)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		r := newRig(t)
		r.d.Dispatch(ctx, r.alice, frame(t, EventStartKeyExchange, map[string]string{}))
		if msg := r.errorMessage(t, r.alice, EventKeyExchangeError); msg != "receiverId is required" {
			t.Fatalf("msg=%q", msg)
		}
	})
}

func TestDispatch_JoinGroupRoom(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()
	g := uuid.Must(uuid.NewV4())
	r.members.members[g] = []uuid.UUID{r.alice.id}

	r.d.Dispatch(ctx, r.bob, frame(t, EventJoinGroupRoom, map[string]string{"groupId": g.String()}))
	if msg := r.errorMessage(t, r.bob, EventError); msg != "not a group member" {
		t.Fatalf("msg=%q", msg)
	}

	r.d.Dispatch(ctx, r.alice, frame(t, EventJoinGroupRoom, map[string]string{"groupId": g.String()}))
	var ack joinGroupRoom
	r.alice.last(t, EventJoinedGroupRoom, &ack)
	if n := r.hub.NotifyGroup(g, "new_message", nil); n != 1 {
		t.Fatalf("room fan-out=%d, want 1", n)
	}

	r.members.err = errors.New("db down")
	r.d.Dispatch(ctx, r.alice, frame(t, EventJoinGroupRoom, map[string]string{"groupId": g.String()}))
	if msg := r.errorMessage(t, r.alice, EventError); msg != "internal error" {
		t.Fatalf("infra failures must stay generic, msg=%q", msg)
	}
}

func TestDispatch_Relays(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()
	b := r.bob.id.String()

	r.d.Dispatch(ctx, r.alice, frame(t, EventPrivateMessage, map[string]string{"to": b, "encryptedMessage": "Y2lwaGVy"}))
	var rm RelayedMessage
	r.bob.last(t, EventChatMessage, &rm)
	if rm.From != r.alice.id || rm.EncryptedMessage != "Y2lwaGVy" {
		t.Fatalf("relay: %+v", rm)
	}

	r.d.Dispatch(ctx, r.alice, frame(t, EventSendEphemeral, map[string]string{"receiver": b, "encryptedMessage": "ZXBo"}))
	var ee EphemeralEvent
	r.bob.last(t, EventReceiveEphemeral, &ee)
	if ee.Sender != r.alice.id || ee.EncryptedMessage != "ZXBo" {
		t.Fatalf("ephemeral: %+v", ee)
	}

	cases := []struct {
		name string
		f    Frame
		want string
	}{
		{"offline", frame(t, EventPrivateMessage, map[string]string{"to": uuid.Must(uuid.NewV4()).String(), "encryptedMessage": "x"}), "recipient offline"},
		{"self", frame(t, EventPrivateMessage, map[string]string{"to": r.alice.id.String(), "encryptedMessage": "x"}), "cannot send a message to yourself"},
		{"unsafe", frame(t, EventSendEphemeral, map[string]string{"receiver": b, "encryptedMessage": "<script>x</script>"}), "unsafe content: xss detected"},
		{"empty", frame(t, EventSendEphemeral, map[string]string{"receiver": b}), "missing required field: encryptedMessage"},
		{"bad id", frame(t, EventSendEphemeral, map[string]string{"receiver": "nope", "encryptedMessage": "x"}), "receiver is not a valid id"},
		{"malformed", Frame{Event: EventPrivateMessage, Data: json.RawMessage(`"str"`)}, "malformed event data"},
		{"no data", Frame{Event: EventPrivateMessage}, "event data is required"},
		{"unknown", Frame{Event: "dance"}, `unknown event "dance"`},
	}
	for _, tc := range cases {
		r.d.Dispatch(ctx, r.alice, tc.f)
		if msg := r.errorMessage(t, r.alice, EventError); msg != tc.want {
			t.Fatalf("%s: msg=%q, want %q", tc.name, msg, tc.want)
		}
	}
}
