package payee

import (
	"context"
	"micropay/internal/ledger"
	"micropay/internal/metrics"
	"micropay/internal/model"
	"micropay/internal/policy"
	"micropay/internal/utils/log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// RejectAction says what a session does after it rejects a proof.
type RejectAction int

const (
	// IgnoreRejected drops the proof and keeps accepting later ones.
	IgnoreRejected RejectAction = iota
	// TerminateOnReject stops accepting proofs after the first rejection.
	// The best proof so far is still claimed on Finalize.
	TerminateOnReject
)

func ParseRejectAction(s string) (RejectAction, error) {
	switch s {
	case "", "ignore":
		return IgnoreRejected, nil
	case "terminate":
		return TerminateOnReject, nil
	default:
		return 0, errors.Errorf("unknown reject action %q", s)
	}
}

type (
	// Result is the outcome of a proof intake.
	Result struct {
		Accepted bool
		Reason   string
	}

	// Session is the payee side of one channel. Its identity is fixed at
	// construction; only the best proof and the state change afterwards.
	Session struct {
		id        model.ChannelID
		sender    common.Address
		receiver  common.Address
		ledger    ledger.ChannelService
		validator policy.ValidationPolicy
		onReject  RejectAction
		notifier  *Notifier
		proofs    ProofStore
		sessions  SessionStore
		createdAt time.Time

		// mu guards state and best. Finalize reads best under mu, so it sees
		// either all of a concurrent intake or none of it.
		mu    sync.Mutex
		state model.SessionState
		best  *model.Payment
	}

	// Snapshot is a read-only copy of a session.
	Snapshot struct {
		ChannelID model.ChannelID          `json:"channel_id"`
		Sender    common.Address           `json:"sender"`
		Receiver  common.Address           `json:"receiver"`
		State     model.SessionState       `json:"state"`
		BestProof *model.SerializedPayment `json:"best_proof,omitempty"`
		CreatedAt time.Time                `json:"created_at"`
	}
)

var _ policy.Channel = (*Session)(nil)

func Accepted() Result {
	return Result{Accepted: true}
}

func Rejected(reason string) Result {
	return Result{Reason: reason}
}

func (s *Session) ID() model.ChannelID {
	return s.id
}

func (s *Session) Sender() common.Address {
	return s.sender
}

func (s *Session) Receiver() common.Address {
	return s.receiver
}

func (s *Session) Ledger() ledger.Caller {
	return s.ledger
}

// BestProof returns a copy of the highest accepted proof, nil if none.
func (s *Session) BestProof() *model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.best.Clone()
}

func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ChannelID: s.id,
		Sender:    s.sender,
		Receiver:  s.receiver,
		State:     s.state,
		CreatedAt: s.createdAt,
	}
	if s.best != nil {
		sp := s.best.ToSerialized()
		snap.BestProof = &sp
	}
	return snap
}

func (s *Session) check(p *model.Payment) (string, bool) {
	switch s.State() {
	case model.SessionClosed:
		return ReasonClosed, false
	case model.SessionTerminated:
		return ReasonTerminated, false
	}

	switch {
	case !p.IsSigned():
		return ReasonUnsigned, false
	case p.ChannelID != s.id:
		return ReasonChannelMismatch, false
	case p.Payer != s.sender:
		return ReasonPayerMismatch, false
	case p.Payee != s.receiver:
		return ReasonPayeeMismatch, false
	case p.Value == nil || p.Value.Sign() <= 0:
		return ReasonStale, false
	}
	return "", true
}

// Intake validates p and makes it the best proof when it is valid and
// strictly larger than the current best. Validation errors never end the
// session; they turn into a rejection.
func (s *Session) Intake(ctx context.Context, p *model.Payment) Result {
	if reason, ok := s.check(p); !ok {
		return s.reject(ctx, p, reason)
	}

	ok, err := s.validator.Validate(ctx, s, p)
	if err != nil {
		log.Error("validate payment failed", zap.String("channel", s.id.Hex()), zap.Error(err))
		return s.reject(ctx, p, ReasonValidatorError)
	}
	if !ok {
		return s.reject(ctx, p, ReasonNotClaimable)
	}

	s.mu.Lock()
	switch {
	case s.state == model.SessionClosed:
		s.mu.Unlock()
		return s.reject(ctx, p, ReasonClosed)
	case s.state == model.SessionTerminated:
		s.mu.Unlock()
		return s.reject(ctx, p, ReasonTerminated)
	case s.best != nil && p.Value.Cmp(s.best.Value) <= 0:
		s.mu.Unlock()
		return s.reject(ctx, p, ReasonStale)
	}
	s.best = p.Clone()
	if s.proofs != nil {
		if err := s.proofs.SaveProof(ctx, s.best); err != nil {
			log.Error("save best proof failed", zap.String("channel", s.id.Hex()), zap.Error(err))
		}
	}
	s.mu.Unlock()
	s.persist(ctx, nil)

	metrics.ProofsAccepted.Inc()
	log.Debug("payment accepted", zap.Stringer("payment", p))

	sp := p.ToSerialized()
	s.notifier.Publish(model.Event{
		Type:      model.EventPaymentReceived,
		ChannelID: s.id,
		Payment:   &sp,
		At:        time.Now(),
	})
	return Accepted()
}

func (s *Session) reject(ctx context.Context, p *model.Payment, reason string) Result {
	metrics.ProofsRejected.WithLabelValues(reason).Inc()
	log.Info("payment rejected", zap.String("channel", s.id.Hex()), zap.String("reason", reason), zap.Stringer("payment", p))

	s.notifier.Publish(model.Event{
		Type:      model.EventPaymentRejected,
		ChannelID: s.id,
		Reason:    reason,
		At:        time.Now(),
	})

	if s.onReject == TerminateOnReject && reason != ReasonClosed && reason != ReasonTerminated {
		s.mu.Lock()
		terminated := s.state == model.SessionActive
		if terminated {
			s.state = model.SessionTerminated
		}
		s.mu.Unlock()
		if terminated {
			log.Warn("session terminated after rejected payment", zap.String("channel", s.id.Hex()))
			s.persist(ctx, nil)
		}
	}
	return Rejected(reason)
}

// Finalize claims the best proof on the ledger. It runs at most once; later
// calls fail with ErrSessionClosed. Without an accepted proof no claim is
// made and both results are nil.
func (s *Session) Finalize(ctx context.Context) (*model.Receipt, error) {
	s.mu.Lock()
	if s.state == model.SessionClosed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.state = model.SessionClosed
	best := s.best.Clone()
	s.mu.Unlock()

	metrics.ActiveSessions.Dec()

	if best == nil {
		log.Info("no proof to claim", zap.String("channel", s.id.Hex()))
		metrics.Claims.WithLabelValues("skipped").Inc()
		s.persist(ctx, nil)
		return nil, nil
	}

	log.Info("claiming channel", zap.String("channel", s.id.Hex()), zap.String("value", best.Value.String()))
	rcpt, err := s.ledger.Claim(ctx, s.id, best.Value, best.Signature)
	if err != nil {
		metrics.Claims.WithLabelValues("failed").Inc()
		return nil, errors.Wrapf(err, "claim channel %s", s.id.Hex())
	}

	metrics.Claims.WithLabelValues("claimed").Inc()
	s.persist(ctx, rcpt)
	if s.proofs != nil {
		if err := s.proofs.DeleteProof(ctx, s.id); err != nil {
			log.Warn("delete claimed proof failed", zap.String("channel", s.id.Hex()), zap.Error(err))
		}
	}
	s.notifier.Publish(model.Event{
		Type:      model.EventChannelClaimed,
		ChannelID: s.id,
		Receipt:   rcpt,
		At:        time.Now(),
	})
	return rcpt, nil
}

func (s *Session) record(rcpt *model.Receipt) *model.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &model.SessionRecord{
		ChannelID: s.id.Hex(),
		Sender:    s.sender.Hex(),
		Receiver:  s.receiver.Hex(),
		State:     s.state,
		CreatedAt: s.createdAt,
		UpdatedAt: time.Now(),
	}
	if s.best != nil {
		rec.BestValue = s.best.Value.String()
	}
	if rcpt != nil {
		rec.ClaimTx = rcpt.TxHash.Hex()
	}
	return rec
}

func (s *Session) persist(ctx context.Context, rcpt *model.Receipt) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.SaveSession(ctx, s.record(rcpt)); err != nil {
		log.Error("save session failed", zap.String("channel", s.id.Hex()), zap.Error(err))
	}
}
