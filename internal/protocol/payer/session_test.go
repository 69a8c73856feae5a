package payer

import (
	"context"
	"crypto/ecdsa"
	"micropay/internal/cryptographic/hash"
	"micropay/internal/cryptographic/signature"
	"micropay/internal/ledger"
	"micropay/internal/ledger/memory"
	"micropay/internal/model"
	"micropay/internal/policy"
	"micropay/internal/protocol/payee"
	"micropay/internal/signer"
	"micropay/internal/units"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type (
	// loopback delivers messages straight to a payee registry.
	loopback struct {
		registry *payee.Registry
		hellos   int
		proofs   int
	}

	// scripted answers with canned responses and errors.
	scripted struct {
		hello    *model.HelloResponse
		helloErr error
		proof    *model.ProofResponse
		proofErr error
		hellos   int
		proofs   int
	}

	fixture struct {
		chain    *memory.Ledger
		payerKey *ecdsa.PrivateKey
		payer    common.Address
		payee    common.Address
	}
)

func (l *loopback) Hello(ctx context.Context, req model.HelloRequest) (*model.HelloResponse, error) {
	l.hellos++
	s, err := l.registry.Hello(ctx, req.SenderAddress)
	if err != nil {
		return nil, err
	}
	return model.NewHelloResponse(s.Receiver(), s.ID()), nil
}

func (l *loopback) SendProof(ctx context.Context, req model.ProofRequest) (*model.ProofResponse, error) {
	l.proofs++
	p, err := model.FromSerialized(req.Payment)
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, err.Error())
	}
	res := l.registry.Intake(ctx, p)
	if res.Accepted {
		return &model.ProofResponse{Response: model.ResponseOK}, nil
	}
	return &model.ProofResponse{Response: model.ResponseRejected, Reason: res.Reason}, nil
}

func (s *scripted) Hello(ctx context.Context, req model.HelloRequest) (*model.HelloResponse, error) {
	s.hellos++
	return s.hello, s.helloErr
}

func (s *scripted) SendProof(ctx context.Context, req model.ProofRequest) (*model.ProofResponse, error) {
	s.proofs++
	return s.proof, s.proofErr
}

func newFixture(t *testing.T) *fixture {
	key, payer, err := signature.NewSecp256k1Keypair()
	require.NoError(t, err)
	_, payee, err := signature.NewSecp256k1Keypair()
	require.NoError(t, err)
	return &fixture{
		chain:    memory.New(common.HexToAddress("0xc0ffee")),
		payerKey: key,
		payer:    payer,
		payee:    payee,
	}
}

func (f *fixture) session(t Transport, p policy.SendPolicy) *Session {
	return NewSession(f.payer, t, f.chain.As(f.payer), signer.NewKeyring(f.payerKey), p)
}

func (f *fixture) helloResponse() *model.HelloResponse {
	return model.NewHelloResponse(f.payee, hash.ChannelIDFor(f.payer, f.payee))
}

func wei(t *testing.T, ether string) string {
	v, err := units.EtherToWei(ether)
	require.NoError(t, err)
	return v.String()
}

func TestStreamOfPaymentsIsClaimed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	registry := payee.NewRegistry(f.payee, f.chain.As(f.payee), payee.DefaultOptions())
	tr := &loopback{registry: registry}
	s := f.session(tr, nil)

	rcpt, err := s.OpenChannel(ctx, "1", 10)
	require.NoError(t, err)
	assert.Equal(t, ledger.EventDidOpen, rcpt.Event)

	id := hash.ChannelIDFor(f.payer, f.payee)
	assert.Equal(t, &Channel{Receiver: f.payee, ID: id, SettlingPeriod: 10}, s.Channel())
	assert.Equal(t, wei(t, "1"), f.chain.ChannelValue(id).String())

	for _, v := range []string{"0.01", "0.02", "0.03"} {
		require.NoError(t, s.SendPayment(ctx, v))
	}
	assert.Equal(t, 3, tr.proofs)

	ps, ok := registry.Session(id)
	require.True(t, ok)
	best := ps.BestProof()
	assert.Equal(t, wei(t, "0.03"), best.Value.String())

	digest, err := f.chain.As(f.payee).PaymentDigest(ctx, id, best.Value)
	require.NoError(t, err)
	assert.True(t, signature.EthVerify(f.payer, digest, best.Signature))

	claim, err := ps.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.EventDidClaim, claim.Event)
	assert.Equal(t, wei(t, "0.03"), f.chain.Balance(f.payee).String())
	assert.Equal(t, wei(t, "0.97"), f.chain.Balance(f.payer).String())
}

func TestSendPolicyDeclineSendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr := &scripted{hello: f.helloResponse(), proof: &model.ProofResponse{Response: model.ResponseOK}}
	meter := policy.NewByteMeter(1024)
	s := f.session(tr, meter)

	_, err := s.OpenChannel(ctx, "1", 10)
	require.NoError(t, err)

	err = s.SendPayment(ctx, "0.01")
	assert.True(t, errors.Is(err, ErrSendPolicy))
	assert.Equal(t, 0, tr.proofs)

	meter.Delivered(1024)
	require.NoError(t, s.SendPayment(ctx, "0.01"))
	assert.Equal(t, 1, tr.proofs)
}

func TestSendPaymentResponses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for name, tc := range map[string]struct {
		proof    *model.ProofResponse
		proofErr error
		want     error
	}{
		"rejected":     {proof: &model.ProofResponse{Response: model.ResponseRejected, Reason: "stale"}, want: ErrProofRejected},
		"unknown body": {proof: &model.ProofResponse{Response: "OK"}, want: ErrProtocol},
		"empty body":   {proof: nil, want: ErrProtocol},
		"network":      {proofErr: errors.New("connection refused"), want: ErrTransport},
		"undecodable":  {proofErr: errors.Wrap(ErrProtocol, "invalid json"), want: ErrProtocol},
	} {
		t.Run(name, func(t *testing.T) {
			tr := &scripted{hello: f.helloResponse(), proof: tc.proof, proofErr: tc.proofErr}
			s := f.session(tr, nil)
			require.NoError(t, s.Attach(f.payee, hash.ChannelIDFor(f.payer, f.payee), 10))

			err := s.SendPayment(ctx, "0.01")
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Equal(t, 1, tr.proofs)
		})
	}
}

func TestOpenChannelErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tr := &scripted{helloErr: errors.New("dial tcp: refused")}
	_, err := f.session(tr, nil).OpenChannel(ctx, "1", 10)
	assert.True(t, errors.Is(err, ErrTransport))

	forged := f.helloResponse()
	forged.ChannelID = model.ChannelID{7}
	_, err = f.session(&scripted{hello: forged}, nil).OpenChannel(ctx, "1", 10)
	assert.True(t, errors.Is(err, ErrProtocol))

	_, err = f.session(&scripted{hello: f.helloResponse()}, nil).OpenChannel(ctx, "one", 10)
	assert.True(t, errors.Is(err, units.ErrInvalidAmount))

	// the ledger refuses a reused channel id
	s := f.session(&scripted{hello: f.helloResponse()}, nil)
	_, err = s.OpenChannel(ctx, "1", 10)
	require.NoError(t, err)
	_, err = s.OpenChannel(ctx, "1", 10)
	assert.True(t, errors.Is(err, ErrAlreadyOpen))

	_, err = f.session(&scripted{hello: f.helloResponse()}, nil).OpenChannel(ctx, "1", 10)
	assert.True(t, errors.Is(err, ledger.ErrChannelExists))
}

func TestPaymentBeforeOpen(t *testing.T) {
	f := newFixture(t)
	tr := &scripted{}
	s := f.session(tr, nil)

	assert.True(t, errors.Is(s.SendPayment(context.Background(), "0.01"), ErrNotOpen))
	_, err := s.Settle(context.Background())
	assert.True(t, errors.Is(err, ErrNotOpen))
	assert.Equal(t, 0, tr.proofs)
}

func TestRecoverUnspentFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(&scripted{hello: f.helloResponse()}, nil)

	_, err := s.OpenChannel(ctx, "1", 3)
	require.NoError(t, err)

	rcpt, err := s.Deposit(ctx, "0.5")
	require.NoError(t, err)
	assert.Equal(t, ledger.EventDidDeposit, rcpt.Event)

	_, err = s.Settle(ctx)
	assert.True(t, errors.Is(err, ledger.ErrNotSettling))

	rcpt, err = s.StartSettling(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.EventDidStartSettling, rcpt.Event)

	_, err = s.Settle(ctx)
	assert.True(t, errors.Is(err, ledger.ErrSettlingPending))

	_, err = s.Deposit(ctx, "0.1")
	assert.True(t, errors.Is(err, ledger.ErrChannelNotOpen))

	f.chain.Mine(3)
	rcpt, err = s.Settle(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.EventDidSettle, rcpt.Event)
	assert.Equal(t, wei(t, "1.5"), f.chain.Balance(f.payer).String())
}
