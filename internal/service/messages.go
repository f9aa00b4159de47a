package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	pkgcrypto "github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/crypto"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/errs"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/ledger"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/model"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/repository"
	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/validation"
)

// Ledger is the part of ledger.Chain the services use.
type Ledger interface {
	Append(ctx context.Context, payload any) (model.Block, error)
	AppendOnce(ctx context.Context, payload any) (model.Block, bool, error)
	Blocks(ctx context.Context) ([]model.Block, error)
	Validate(ctx context.Context) (ledger.Validation, error)
}

var _ Ledger = (*ledger.Chain)(nil)

// ReconcileLease is how long a fresh or claimed row is left to its current
// writer before the reconciler takes it over.
const ReconcileLease = 30 * time.Second

// SendDirect is the sender's sealed envelope plus an optional signature
// over the ciphertext.
type SendDirect struct {
	Message   string `json:"message"`
	OriginKey string `json:"originKey"`
	TargetKey string `json:"targetKey"`
	Signature string `json:"signature,omitempty"`
}

// MessageView is a stored message as seen by one participant.
type MessageView struct {
	ID           uuid.UUID `json:"id"`
	Message      string    `json:"message"`
	OriginUserID uuid.UUID `json:"originUserId"`
	TargetUserID uuid.UUID `json:"targetUserId"`
	Key          string    `json:"key"` // session key wrapped for the viewer
	Signature    string    `json:"signature,omitempty"`
	IsValid      bool      `json:"isValid"`
	Ledgered     bool      `json:"ledgered"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Inbox is everything a user needs to render direct conversations.
type Inbox struct {
	Contacts []model.Contact `json:"contacts"`
	Messages []MessageView   `json:"messages"`
}

// MessageService handles direct messages.
type MessageService interface {
	// SendDirect validates, persists, ledgers and delivers one message.
	SendDirect(ctx context.Context, from, to uuid.UUID, in SendDirect) (model.Message, error)
	// Inbox lists contacts and the viewer's messages with signature checks.
	Inbox(ctx context.Context, viewer uuid.UUID) (Inbox, error)
	// Reconcile ledgers up to limit messages that were persisted without a block.
	Reconcile(ctx context.Context, limit int) (int, error)
}

type MessageServiceImpl struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	ledger   Ledger
	health   ReadOnlyChecker
	notifier Notifier
	metrics  Recorder
	log      *zap.Logger
	now      func() time.Time
	lease    time.Duration
}

// NewMessageService constructs MessageService. notifier and metrics may be nil.
func NewMessageService(
	users repository.UserRepository,
	messages repository.MessageRepository,
	chain Ledger,
	health ReadOnlyChecker,
	notifier Notifier,
	metrics Recorder,
	logger *zap.Logger,
) *MessageServiceImpl {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &MessageServiceImpl{
		users:    users,
		messages: messages,
		ledger:   chain,
		health:   health,
		notifier: notifier,
		metrics:  metrics,
		log:      logger,
		now:      time.Now,
		lease:    ReconcileLease,
	}
}

// MessageHash is the ciphertext fingerprint recorded in the ledger.
func MessageHash(ciphertext string) string {
	sum := blake3.Sum256([]byte(ciphertext))
	return hex.EncodeToString(sum[:])
}

func validateDirect(from, to uuid.UUID, in SendDirect) error {
	if from == to {
		return errs.Invalid(errs.ErrSelfMessage, "cannot send a message to yourself")
	}
	if err := validation.Required("message", in.Message, "originKey", in.OriginKey, "targetKey", in.TargetKey); err != nil {
		return err
	}
	if err := validation.MaxLen("message", in.Message, validation.MaxMessageLen); err != nil {
		return err
	}
	return validation.Screen(in.Message)
}

// SendDirect runs Validated -> Persisted -> Ledgered -> Delivered.
// A ledger failure leaves the row unledgered for Reconcile; a delivery
// failure only logs. Neither is reported to the caller.
func (s *MessageServiceImpl) SendDirect(ctx context.Context, from, to uuid.UUID, in SendDirect) (model.Message, error) {
	if err := validateDirect(from, to, in); err != nil {
		s.metrics.RecordMessage("direct", "rejected")
		return model.Message{}, err
	}
	if s.health.ReadOnly() {
		s.metrics.RecordMessage("direct", "read_only")
		return model.Message{}, errs.ErrReadOnly
	}
	if _, err := s.users.GetByID(ctx, to); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.metrics.RecordMessage("direct", "rejected")
			return model.Message{}, errs.Invalid(err, "recipient does not exist")
		}
		return model.Message{}, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return model.Message{}, err
	}
	m := model.Message{
		ID:           id,
		Message:      in.Message,
		OriginUserID: from,
		TargetUserID: to,
		OriginKey:    in.OriginKey,
		TargetKey:    in.TargetKey,
		Signature:    in.Signature,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.messages.Insert(ctx, &m); err != nil {
		s.log.Error("persist message", zap.Error(err),
			zap.Stringer("from", from), zap.Stringer("to", to))
		s.metrics.RecordMessage("direct", "failed")
		return model.Message{}, err
	}

	b, err := s.record(ctx, m)
	switch {
	case err != nil && b.Hash != "":
		// the block exists; the reconciler will link it
		s.log.Warn("ledger link failed", zap.Error(err),
			zap.Stringer("message", m.ID), zap.Int64("index", b.Index))
		s.metrics.RecordMessage("direct", "unledgered")
	case err != nil:
		s.log.Error("ledger append failed, message left unledgered",
			zap.Error(err), zap.Stringer("message", m.ID))
		s.metrics.RecordMessage("direct", "unledgered")
	default:
		idx := b.Index
		m.LedgerIndex = &idx
		s.metrics.RecordMessage("direct", "ok")
	}

	delivered := s.notifier.NotifyUser(to, EventChatMessage, directEvent(m))
	s.metrics.RecordDelivery(delivered)
	if !delivered {
		s.log.Warn("recipient offline, delivery deferred to next fetch",
			zap.Stringer("message", m.ID), zap.Stringer("to", to))
	}
	return m, nil
}

func transactionOf(m model.Message) model.Transaction {
	return model.Transaction{
		MsgID:   m.ID.String(),
		From:    m.OriginUserID.String(),
		To:      m.TargetUserID.String(),
		MsgHash: MessageHash(m.Message),
		Sig:     m.Signature,
	}
}

// record ensures m has exactly one ledger block and links the row to it.
// A failed link is returned with the block; the block stays findable by
// its payload, so a later record for m reuses it.
func (s *MessageServiceImpl) record(ctx context.Context, m model.Message) (model.Block, error) {
	b, created, err := s.ledger.AppendOnce(ctx, transactionOf(m))
	if err != nil {
		return model.Block{}, err
	}
	if !created {
		s.log.Info("message already ledgered, linking existing block",
			zap.Stringer("message", m.ID), zap.Int64("index", b.Index))
	}
	err = s.messages.MarkLedgered(ctx, m.ID, b.Index)
	switch {
	case err == nil, errors.Is(err, errs.ErrNotFound):
		// not found: another writer linked the row already
		return b, nil
	default:
		return b, fmt.Errorf("link block %d: %w", b.Index, err)
	}
}

// Reconcile claims rows older than the lease and ledgers them. It stops at
// the first failure so order is preserved; unfinished claims expire after
// the lease.
func (s *MessageServiceImpl) Reconcile(ctx context.Context, limit int) (int, error) {
	if s.health.ReadOnly() {
		return 0, errs.ErrReadOnly
	}
	pending, err := s.messages.ClaimUnledgered(ctx, s.now().UTC(), s.lease, limit)
	if err != nil {
		return 0, err
	}
	for i, m := range pending {
		if _, err := s.record(ctx, m); err != nil {
			return i, fmt.Errorf("reconcile %s: %w", m.ID, err)
		}
	}
	return len(pending), nil
}

// Inbox verifies every signature against the claimed sender's key.
// A failed check only flags the row.
func (s *MessageServiceImpl) Inbox(ctx context.Context, viewer uuid.UUID) (Inbox, error) {
	contacts, err := s.users.ListContacts(ctx, viewer)
	if err != nil {
		return Inbox{}, err
	}
	rows, err := s.messages.ListForUser(ctx, viewer)
	if err != nil {
		return Inbox{}, err
	}
	views := make([]MessageView, 0, len(rows))
	for _, r := range rows {
		m := r.Msg
		key := m.TargetKey
		if m.OriginUserID == viewer {
			key = m.OriginKey
		}
		views = append(views, MessageView{
			ID:           m.ID,
			Message:      m.Message,
			OriginUserID: m.OriginUserID,
			TargetUserID: m.TargetUserID,
			Key:          key,
			Signature:    m.Signature,
			IsValid:      m.Signature != "" && pkgcrypto.Verify([]byte(m.Message), m.Signature, r.SenderSigningKey),
			Ledgered:     m.LedgerIndex != nil,
			CreatedAt:    m.CreatedAt,
		})
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	return Inbox{Contacts: contacts, Messages: views}, nil
}
