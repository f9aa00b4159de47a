package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/ledger"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/repository"
)

type fakeUsers struct {
	mu     sync.Mutex
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) ListContacts(_ context.Context, exclude uuid.UUID) ([]model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Contact
	for _, u := range f.byName {
		if u.ID != exclude {
			out = append(out, model.Contact{ID: u.ID, Username: u.Username, PublicKey: u.PublicKey})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// add stores a user with the given signing key and returns its id.
func (f *fakeUsers) add(name, signingPub string) uuid.UUID {
	id := uuid.Must(uuid.NewV4())
	_ = f.Create(context.Background(), &model.User{ID: id, Username: name, PublicKey: "rsa-" + name, SigningPublicKey: signingPub})
	return id
}

type fakeMessages struct {
	mu      sync.Mutex
	rows    []model.Message
	claimed map[uuid.UUID]time.Time
	users   *fakeUsers

	insertErr error
	markErr   error

	// afterInsert runs once the row is visible to other readers.
	afterInsert func()
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func (f *fakeMessages) Insert(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	if f.insertErr != nil {
		f.mu.Unlock()
		return f.insertErr
	}
	f.rows = append(f.rows, *m)
	hook := f.afterInsert
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeMessages) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.StoredMessage, error) {
	f.mu.Lock()
	rows := append([]model.Message(nil), f.rows...)
	f.mu.Unlock()
	var out []model.StoredMessage
	for _, m := range rows {
		if m.OriginUserID != userID && m.TargetUserID != userID {
			continue
		}
		var key string
		if u, err := f.users.GetByID(ctx, m.OriginUserID); err == nil {
			key = u.SigningPublicKey
		}
		out = append(out, model.StoredMessage{Msg: m, SenderSigningKey: key})
	}
	return out, nil
}

func (f *fakeMessages) MarkLedgered(_ context.Context, id uuid.UUID, index int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	for i := range f.rows {
		if f.rows[i].ID == id && f.rows[i].LedgerIndex == nil {
			idx := index
			f.rows[i].LedgerIndex = &idx
			return nil
		}
	}
	return errs.ErrNotFound
}

func (f *fakeMessages) ClaimUnledgered(_ context.Context, now time.Time, lease time.Duration, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed == nil {
		f.claimed = map[uuid.UUID]time.Time{}
	}
	cutoff := now.Add(-lease)
	var out []model.Message
	for _, m := range f.rows {
		if len(out) == limit {
			break
		}
		if m.LedgerIndex != nil || !m.CreatedAt.Before(cutoff) {
			continue
		}
		if at, ok := f.claimed[m.ID]; ok && !at.Before(cutoff) {
			continue
		}
		f.claimed[m.ID] = now
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMessages) unledgered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.rows {
		if m.LedgerIndex == nil {
			n++
		}
	}
	return n
}

type fakeGroups struct {
	mu       sync.Mutex
	groups   map[uuid.UUID]model.Group
	members  map[uuid.UUID]map[uuid.UUID]bool
	messages []model.GroupMessage
	users    *fakeUsers

	isMemberErr error
}

var _ repository.GroupRepository = (*fakeGroups)(nil)

func newFakeGroups(users *fakeUsers) *fakeGroups {
	return &fakeGroups{
		groups:  map[uuid.UUID]model.Group{},
		members: map[uuid.UUID]map[uuid.UUID]bool{},
		users:   users,
	}
}

func (f *fakeGroups) Create(_ context.Context, g *model.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.groups {
		if ex.Name == g.Name {
			return errs.ErrAlreadyExists
		}
	}
	f.groups[g.ID] = *g
	f.members[g.ID] = map[uuid.UUID]bool{g.CreatorID: true}
	return nil
}

func (f *fakeGroups) AddMember(_ context.Context, groupID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[groupID]
	if !ok {
		return errs.ErrNotFound
	}
	if m[userID] {
		return errs.ErrAlreadyMember
	}
	m[userID] = true
	return nil
}

func (f *fakeGroups) IsMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isMemberErr != nil {
		return false, f.isMemberErr
	}
	return f.members[groupID][userID], nil
}

func (f *fakeGroups) Get(_ context.Context, groupID uuid.UUID) (*model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &g, nil
}

func (f *fakeGroups) ListForUser(_ context.Context, userID uuid.UUID) ([]model.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Group
	for id, m := range f.members {
		if m[userID] {
			out = append(out, f.groups[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeGroups) GroupIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	gs, _ := f.ListForUser(ctx, userID)
	ids := make([]uuid.UUID, 0, len(gs))
	for _, g := range gs {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (f *fakeGroups) InsertMessage(_ context.Context, m *model.GroupMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeGroups) ListMessages(ctx context.Context, groupIDs []uuid.UUID) ([]model.StoredGroupMessage, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range groupIDs {
		want[id] = true
	}
	f.mu.Lock()
	msgs := append([]model.GroupMessage(nil), f.messages...)
	f.mu.Unlock()
	var out []model.StoredGroupMessage
	for _, m := range msgs {
		if !want[m.GroupID] {
			continue
		}
		var key string
		if u, err := f.users.GetByID(ctx, m.UserID); err == nil {
			key = u.SigningPublicKey
		}
		out = append(out, model.StoredGroupMessage{GroupMessage: m, SenderSigningKey: key})
	}
	return out, nil
}

type memBlocks struct {
	mu     sync.Mutex
	blocks []model.Block
}

var _ repository.BlockRepository = (*memBlocks)(nil)

func (m *memBlocks) Tail(context.Context) (model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.blocks) == 0 {
		return model.Block{}, errs.ErrNotFound
	}
	return m.blocks[len(m.blocks)-1], nil
}

func (m *memBlocks) Insert(_ context.Context, b model.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Index != int64(len(m.blocks)) {
		return errs.ErrIndexConflict
	}
	m.blocks = append(m.blocks, b)
	return nil
}

func (m *memBlocks) List(context.Context) ([]model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Block(nil), m.blocks...), nil
}

func (m *memBlocks) FindByData(_ context.Context, data string) (model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if b.Data == data {
			return b, nil
		}
	}
	return model.Block{}, errs.ErrNotFound
}

// failingLedger rejects every append.
type failingLedger struct{ err error }

var _ Ledger = failingLedger{}

func (f failingLedger) Append(context.Context, any) (model.Block, error) { return model.Block{}, f.err }
func (f failingLedger) Blocks(context.Context) ([]model.Block, error)    { return nil, f.err }
func (f failingLedger) AppendOnce(context.Context, any) (model.Block, bool, error) {
	return model.Block{}, false, f.err
}
func (f failingLedger) Validate(context.Context) (ledger.Validation, error) {
	return ledger.Validation{}, f.err
}

type event struct {
	to    uuid.UUID
	name  string
	data  any
	group bool
}

type fakeNotifier struct {
	mu     sync.Mutex
	online map[uuid.UUID]bool
	events []event
	joins  [][2]uuid.UUID
}

var _ Notifier = (*fakeNotifier)(nil)

func (f *fakeNotifier) NotifyUser(userID uuid.UUID, name string, data any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	f.events = append(f.events, event{to: userID, name: name, data: data})
	return true
}

func (f *fakeNotifier) NotifyGroup(groupID uuid.UUID, name string, data any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event{to: groupID, name: name, data: data, group: true})
	return 1
}

func (f *fakeNotifier) JoinGroup(userID, groupID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, [2]uuid.UUID{userID, groupID})
}

type fakeRecorder struct {
	mu       sync.Mutex
	statuses map[string]int
	offline  int
}

func (f *fakeRecorder) RecordMessage(kind, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[string]int{}
	}
	f.statuses[kind+"/"+status]++
}

func (f *fakeRecorder) RecordDelivery(delivered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !delivered {
		f.offline++
	}
}
