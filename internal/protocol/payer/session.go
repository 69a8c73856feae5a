package payer

import (
	"context"
	"micropay/internal/cryptographic/hash"
	"micropay/internal/ledger"
	"micropay/internal/metrics"
	"micropay/internal/model"
	"micropay/internal/policy"
	"micropay/internal/signer"
	"micropay/internal/units"
	"micropay/internal/utils/log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type (
	// Transport carries the two protocol messages to the payee.
	// Implementations wrap network failures with ErrTransport and answers
	// they cannot decode with ErrProtocol.
	Transport interface {
		Hello(ctx context.Context, req model.HelloRequest) (*model.HelloResponse, error)
		SendProof(ctx context.Context, req model.ProofRequest) (*model.ProofResponse, error)
	}

	// Channel is the payer's view of an opened channel.
	Channel struct {
		Receiver       common.Address  `json:"receiver"`
		ID             model.ChannelID `json:"channel_id"`
		SettlingPeriod uint64          `json:"settling_period"`
	}

	// Session is the payer side of one channel. The channel is fixed by
	// OpenChannel or Attach and never changes afterwards.
	Session struct {
		sender    common.Address
		transport Transport
		ledger    ledger.ChannelService
		signer    signer.Signer
		policy    policy.SendPolicy

		mu      sync.Mutex
		channel *Channel
	}
)

func NewSession(sender common.Address, t Transport, l ledger.ChannelService, s signer.Signer, p policy.SendPolicy) *Session {
	if p == nil {
		p = policy.AlwaysSend{}
	}
	return &Session{
		sender:    sender,
		transport: t,
		ledger:    l,
		signer:    s,
		policy:    p,
	}
}

func (s *Session) Sender() common.Address {
	return s.sender
}

// Channel returns the bound channel, nil before OpenChannel or Attach.
func (s *Session) Channel() *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return nil
	}
	c := *s.channel
	return &c
}

func (s *Session) bind(c Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		return errors.Wrapf(ErrAlreadyOpen, "channel %s", s.channel.ID.Hex())
	}
	s.channel = &c
	return nil
}

func (s *Session) bound() (*Channel, error) {
	c := s.Channel()
	if c == nil {
		return nil, ErrNotOpen
	}
	return c, nil
}

// OpenChannel runs the handshake and locks initialValue ether in a new
// channel to the payee that answered.
func (s *Session) OpenChannel(ctx context.Context, initialValue string, settlingPeriodBlocks uint64) (*model.Receipt, error) {
	if s.Channel() != nil {
		return nil, ErrAlreadyOpen
	}
	value, err := units.EtherToWei(initialValue)
	if err != nil {
		return nil, errors.Wrap(err, "initial value")
	}

	resp, err := s.transport.Hello(ctx, model.HelloRequest{
		SenderAddress:        s.sender,
		SettlingPeriodBlocks: settlingPeriodBlocks,
	})
	if err != nil {
		return nil, transportError("hello", err)
	}
	if resp == nil || resp.ReceiverAddress == (common.Address{}) {
		return nil, errors.Wrap(ErrProtocol, "hello: missing receiver address")
	}
	if want := hash.ChannelIDFor(s.sender, resp.ReceiverAddress); resp.ChannelID != want {
		return nil, errors.Wrapf(ErrProtocol, "hello: channel id %s, expected %s", resp.ChannelID.Hex(), want.Hex())
	}

	if err := s.bind(Channel{
		Receiver:       resp.ReceiverAddress,
		ID:             resp.ChannelID,
		SettlingPeriod: settlingPeriodBlocks,
	}); err != nil {
		return nil, err
	}
	log.Info("opening channel",
		zap.String("channel", resp.ChannelID.Hex()),
		zap.String("receiver", resp.ReceiverAddress.Hex()),
		zap.String("value", value.String()),
	)

	rcpt, err := s.ledger.Open(ctx, resp.ChannelID, resp.ReceiverAddress, settlingPeriodBlocks, value)
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	return rcpt, nil
}

// Attach binds the session to a channel opened earlier without talking to
// the payee.
func (s *Session) Attach(receiver common.Address, id model.ChannelID, settlingPeriod uint64) error {
	return s.bind(Channel{Receiver: receiver, ID: id, SettlingPeriod: settlingPeriod})
}

// SendPayment signs and sends a payment whose value is the cumulative amount
// in ether owed so far.
func (s *Session) SendPayment(ctx context.Context, value string) error {
	c, err := s.bound()
	if err != nil {
		return err
	}
	wei, err := units.EtherToWei(value)
	if err != nil {
		return errors.Wrap(err, "payment value")
	}

	p := model.NewPayment(s.sender, c.Receiver, c.ID, wei)
	if err := signer.SignPayment(ctx, s.ledger, s.signer, p); err != nil {
		metrics.PaymentsSent.WithLabelValues("unsigned").Inc()
		return err
	}

	if !s.policy.ShouldSend() {
		metrics.PaymentsSent.WithLabelValues("held").Inc()
		return errors.Wrapf(ErrSendPolicy, "payment of %s wei", wei)
	}

	resp, err := s.transport.SendProof(ctx, model.ProofRequest{Payment: p.ToSerialized()})
	if err != nil {
		metrics.PaymentsSent.WithLabelValues("failed").Inc()
		return transportError("send proof", err)
	}

	switch {
	case resp != nil && resp.Response == model.ResponseOK:
		metrics.PaymentsSent.WithLabelValues("accepted").Inc()
		log.Debug("payment accepted", zap.Stringer("payment", p))
		return nil
	case resp != nil && resp.Response == model.ResponseRejected:
		metrics.PaymentsSent.WithLabelValues("rejected").Inc()
		log.Warn("payment rejected", zap.Stringer("payment", p), zap.String("reason", resp.Reason))
		return errors.Wrap(ErrProofRejected, resp.Reason)
	default:
		metrics.PaymentsSent.WithLabelValues("failed").Inc()
		return errors.Wrapf(ErrProtocol, "send proof: response %+v", resp)
	}
}

// Deposit adds value ether to the channel.
func (s *Session) Deposit(ctx context.Context, value string) (*model.Receipt, error) {
	c, err := s.bound()
	if err != nil {
		return nil, err
	}
	wei, err := units.EtherToWei(value)
	if err != nil {
		return nil, errors.Wrap(err, "deposit value")
	}
	ok, err := s.ledger.CanDeposit(ctx, c.ID, s.sender)
	if err != nil {
		return nil, errors.Wrap(err, "can deposit")
	}
	if !ok {
		return nil, errors.Wrapf(ledger.ErrChannelNotOpen, "deposit to %s", c.ID.Hex())
	}
	return s.ledger.Deposit(ctx, c.ID, wei)
}

// StartSettling starts the settling period after which the payer can take
// back whatever the payee has not claimed.
func (s *Session) StartSettling(ctx context.Context) (*model.Receipt, error) {
	c, err := s.bound()
	if err != nil {
		return nil, err
	}
	ok, err := s.ledger.CanStartSettling(ctx, c.ID, s.sender)
	if err != nil {
		return nil, errors.Wrap(err, "can start settling")
	}
	if !ok {
		return nil, errors.Wrapf(ledger.ErrChannelNotOpen, "start settling %s", c.ID.Hex())
	}
	return s.ledger.StartSettling(ctx, c.ID)
}

func (s *Session) Settle(ctx context.Context) (*model.Receipt, error) {
	c, err := s.bound()
	if err != nil {
		return nil, err
	}
	ok, err := s.ledger.CanSettle(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrap(err, "can settle")
	}
	if !ok {
		settling, err := s.ledger.IsSettling(ctx, c.ID)
		if err != nil {
			return nil, errors.Wrap(err, "is settling")
		}
		if settling {
			return nil, errors.Wrapf(ledger.ErrSettlingPending, "settle %s", c.ID.Hex())
		}
		return nil, errors.Wrapf(ledger.ErrNotSettling, "settle %s", c.ID.Hex())
	}
	return s.ledger.Settle(ctx, c.ID)
}
