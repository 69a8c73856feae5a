package payee

import (
	"context"
	"micropay/internal/cryptographic/hash"
	"micropay/internal/ledger"
	"micropay/internal/metrics"
	"micropay/internal/model"
	"micropay/internal/policy"
	"micropay/internal/utils/log"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type (
	Options struct {
		// Exclusive refuses a hello from a new sender while a session bound
		// to another sender is still open.
		Exclusive bool
		OnReject  RejectAction
		Validator policy.ValidationPolicy
		Proofs    ProofStore
		Sessions  SessionStore
		Notifier  *Notifier
	}

	// Registry issues one Session per accepted handshake and routes proofs
	// to them by channel id.
	Registry struct {
		receiver common.Address
		ledger   ledger.ChannelService
		opts     Options

		mu       sync.RWMutex
		sessions map[model.ChannelID]*Session
	}
)

func DefaultOptions() Options {
	return Options{
		Exclusive: true,
		OnReject:  IgnoreRejected,
		Validator: policy.LedgerClaimable{},
	}
}

func NewRegistry(receiver common.Address, l ledger.ChannelService, opts Options) *Registry {
	if opts.Validator == nil {
		opts.Validator = policy.LedgerClaimable{}
	}
	return &Registry{
		receiver: receiver,
		ledger:   l,
		opts:     opts,
		sessions: make(map[model.ChannelID]*Session),
	}
}

func (r *Registry) Receiver() common.Address {
	return r.receiver
}

func (r *Registry) Notifier() *Notifier {
	return r.opts.Notifier
}

func (r *Registry) newSession(id model.ChannelID, sender common.Address, state model.SessionState, createdAt time.Time) *Session {
	return &Session{
		id:        id,
		sender:    sender,
		receiver:  r.receiver,
		ledger:    r.ledger,
		validator: r.opts.Validator,
		onReject:  r.opts.OnReject,
		notifier:  r.opts.Notifier,
		proofs:    r.opts.Proofs,
		sessions:  r.opts.Sessions,
		createdAt: createdAt,
		state:     state,
	}
}

// Hello binds sender to a session on the channel keccak256(sender ‖ receiver).
// A repeated hello from the same sender returns the session it already has.
func (r *Registry) Hello(ctx context.Context, sender common.Address) (*Session, error) {
	id := hash.ChannelIDFor(sender, r.receiver)

	r.mu.Lock()
	if s, ok := r.sessions[id]; ok && s.State() != model.SessionClosed {
		r.mu.Unlock()
		metrics.Handshakes.WithLabelValues("repeated").Inc()
		log.Debug("repeated hello", zap.String("sender", sender.Hex()), zap.String("channel", id.Hex()))
		return s, nil
	}
	if r.opts.Exclusive {
		for _, s := range r.sessions {
			if s.sender != sender && s.State() != model.SessionClosed {
				r.mu.Unlock()
				metrics.Handshakes.WithLabelValues("refused").Inc()
				log.Warn("hello refused", zap.String("sender", sender.Hex()), zap.String("bound", s.sender.Hex()))
				return nil, errors.Wrapf(ErrSenderMismatch, "channel %s", s.id.Hex())
			}
		}
	}
	s := r.newSession(id, sender, model.SessionActive, time.Now())
	r.sessions[id] = s
	r.mu.Unlock()

	metrics.Handshakes.WithLabelValues("created").Inc()
	metrics.ActiveSessions.Inc()
	log.Info("channel session created", zap.String("sender", sender.Hex()), zap.String("channel", id.Hex()))

	s.persist(ctx, nil)
	r.opts.Notifier.Publish(model.Event{
		Type:      model.EventChannelCreated,
		ChannelID: id,
		At:        time.Now(),
	})
	return s, nil
}

func (r *Registry) Session(id model.ChannelID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions lists every known session ordered by creation time.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Intake hands p to the session of its channel.
func (r *Registry) Intake(ctx context.Context, p *model.Payment) Result {
	s, ok := r.Session(p.ChannelID)
	if !ok {
		metrics.ProofsRejected.WithLabelValues(ReasonUnknownChannel).Inc()
		log.Info("payment for unknown channel", zap.String("channel", p.ChannelID.Hex()))
		return Rejected(ReasonUnknownChannel)
	}
	return s.Intake(ctx, p)
}

// FinalizeAll finalizes every session that is not closed yet. Sessions are
// finalized independently; failures are combined into the returned error.
func (r *Registry) FinalizeAll(ctx context.Context) (map[model.ChannelID]*model.Receipt, error) {
	receipts := make(map[model.ChannelID]*model.Receipt)

	var err error
	for _, s := range r.Sessions() {
		if s.State() == model.SessionClosed {
			continue
		}
		rcpt, ferr := s.Finalize(ctx)
		if ferr != nil {
			if errors.Is(ferr, ErrSessionClosed) {
				continue
			}
			err = multierr.Append(err, ferr)
			continue
		}
		if rcpt != nil {
			receipts[s.id] = rcpt
		}
	}
	return receipts, err
}

// Restore reloads the open sessions of this receiver from the session store
// together with their best proofs. Sessions already known are left alone.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.opts.Sessions == nil {
		return 0, nil
	}
	recs, err := r.opts.Sessions.ListActive(ctx, r.receiver)
	if err != nil {
		return 0, errors.Wrap(err, "list active sessions")
	}

	restored := 0
	for _, rec := range recs {
		id, err := model.ParseChannelID(rec.ChannelID)
		if err != nil {
			log.Warn("skip session record", zap.String("channel", rec.ChannelID), zap.Error(err))
			continue
		}
		if !common.IsHexAddress(rec.Sender) {
			log.Warn("skip session record", zap.String("channel", rec.ChannelID), zap.String("sender", rec.Sender))
			continue
		}
		sender := common.HexToAddress(rec.Sender)
		if hash.ChannelIDFor(sender, r.receiver) != id {
			log.Warn("skip session record with foreign channel id", zap.String("channel", rec.ChannelID))
			continue
		}

		s := r.newSession(id, sender, rec.State, rec.CreatedAt)
		if r.opts.Proofs != nil {
			best, err := r.opts.Proofs.LoadProof(ctx, id)
			if err != nil {
				return restored, errors.Wrapf(err, "load proof for %s", id.Hex())
			}
			if best != nil && best.ChannelID == id && best.Payer == sender && best.Payee == r.receiver {
				s.best = best
			}
		}
		if s.best == nil && rec.BestValue != "" {
			log.Warn("best proof missing from proof store", zap.String("channel", id.Hex()), zap.String("recorded", rec.BestValue))
		}

		r.mu.Lock()
		if _, ok := r.sessions[id]; ok {
			r.mu.Unlock()
			continue
		}
		r.sessions[id] = s
		r.mu.Unlock()

		metrics.ActiveSessions.Inc()
		restored++
		log.Info("channel session restored", zap.String("sender", sender.Hex()), zap.String("channel", id.Hex()))
	}
	return restored, nil
}
