// Package memory is an in-process ledger following the Unidirectional
// contract rules. It backs the development mode of the daemons and the tests.
package memory

import (
	"context"
	"math/big"
	"micropay/internal/cryptographic/hash"
	"micropay/internal/cryptographic/signature"
	"micropay/internal/ledger"
	"micropay/internal/model"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type (
	channel struct {
		sender         common.Address
		receiver       common.Address
		value          *big.Int
		settlingPeriod uint64
		settlingUntil  uint64
	}

	// Ledger is the shared chain state. Use As to get a ChannelService bound
	// to an account.
	Ledger struct {
		mu       sync.Mutex
		contract common.Address
		block    uint64
		nonce    uint64
		channels map[model.ChannelID]*channel
		balances map[common.Address]*big.Int
		calls    map[string]int
	}

	// Account issues calls to a Ledger from a fixed address.
	Account struct {
		ledger *Ledger
		from   common.Address
	}
)

var _ ledger.ChannelService = (*Account)(nil)

func New(contract common.Address) *Ledger {
	return &Ledger{
		contract: contract,
		channels: make(map[model.ChannelID]*channel),
		balances: make(map[common.Address]*big.Int),
		calls:    make(map[string]int),
	}
}

func (l *Ledger) As(from common.Address) *Account {
	return &Account{ledger: l, from: from}
}

// Mine advances the block height by n.
func (l *Ledger) Mine(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block += n
}

func (l *Ledger) BlockNumber() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.block
}

// Balance is the amount paid out of channels to addr so far.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// ChannelValue is the amount locked in channel id, nil if absent.
func (l *Ledger) ChannelValue(id model.ChannelID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.channels[id]; ok {
		return new(big.Int).Set(ch.value)
	}
	return nil
}

// Calls reports how many times method was invoked successfully or not.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

func (l *Ledger) digest(id model.ChannelID, value *big.Int) []byte {
	return hash.Keccak256(l.contract.Bytes(), id[:], common.BigToHash(value).Bytes())
}

func (l *Ledger) receipt(event string) *model.Receipt {
	l.block++
	l.nonce++
	return &model.Receipt{
		TxHash:      common.BytesToHash(hash.Keccak256(l.contract.Bytes(), new(big.Int).SetUint64(l.nonce).Bytes())),
		BlockNumber: l.block,
		Event:       event,
	}
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	b, ok := l.balances[addr]
	if !ok {
		b = new(big.Int)
		l.balances[addr] = b
	}
	b.Add(b, amount)
}

func (l *Ledger) isOpen(ch *channel) bool {
	return ch != nil && ch.settlingUntil == 0
}

func (l *Ledger) isSettling(ch *channel) bool {
	return ch != nil && ch.settlingUntil != 0
}

// canClaim does not depend on settling. The receiver may redeem until the
// channel is settled.
func (l *Ledger) canClaim(id model.ChannelID, value *big.Int, origin common.Address, sig []byte) bool {
	ch := l.channels[id]
	if ch == nil || origin != ch.receiver {
		return false
	}
	return signature.EthVerify(ch.sender, l.digest(id, value), sig)
}

func (a *Account) Open(ctx context.Context, id model.ChannelID, receiver common.Address, settlingPeriod uint64, value *big.Int) (*model.Receipt, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["open"]++

	if _, ok := l.channels[id]; ok {
		return nil, errors.Wrapf(ledger.ErrChannelExists, "open %s", id)
	}
	l.channels[id] = &channel{
		sender:         a.from,
		receiver:       receiver,
		value:          new(big.Int).Set(value),
		settlingPeriod: settlingPeriod,
	}
	return l.receipt(ledger.EventDidOpen), nil
}

func (a *Account) Deposit(ctx context.Context, id model.ChannelID, value *big.Int) (*model.Receipt, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["deposit"]++

	ch := l.channels[id]
	if !l.isOpen(ch) {
		return nil, errors.Wrapf(ledger.ErrChannelNotOpen, "deposit %s", id)
	}
	if ch.sender != a.from {
		return nil, errors.Wrapf(ledger.ErrUnauthorized, "deposit %s", id)
	}
	ch.value.Add(ch.value, value)
	return l.receipt(ledger.EventDidDeposit), nil
}

// Claim pays the receiver up to value and returns the rest to the sender.
// The channel is removed.
func (a *Account) Claim(ctx context.Context, id model.ChannelID, value *big.Int, sig []byte) (*model.Receipt, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["claim"]++

	if !l.canClaim(id, value, a.from, sig) {
		return nil, errors.Wrapf(ledger.ErrTxFailed, "claim %s: not claimable", id)
	}

	ch := l.channels[id]
	payout := new(big.Int).Set(value)
	if payout.Cmp(ch.value) > 0 {
		payout.Set(ch.value)
	}
	l.credit(ch.receiver, payout)
	l.credit(ch.sender, new(big.Int).Sub(ch.value, payout))
	delete(l.channels, id)
	return l.receipt(ledger.EventDidClaim), nil
}

func (a *Account) StartSettling(ctx context.Context, id model.ChannelID) (*model.Receipt, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["startSettling"]++

	ch := l.channels[id]
	if !l.isOpen(ch) {
		return nil, errors.Wrapf(ledger.ErrChannelNotOpen, "start settling %s", id)
	}
	if ch.sender != a.from {
		return nil, errors.Wrapf(ledger.ErrUnauthorized, "start settling %s", id)
	}
	ch.settlingUntil = l.block + ch.settlingPeriod + 1
	return l.receipt(ledger.EventDidStartSettling), nil
}

// Settle returns the whole channel value to the sender once the settling
// period is over.
func (a *Account) Settle(ctx context.Context, id model.ChannelID) (*model.Receipt, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls["settle"]++

	ch := l.channels[id]
	if !l.isSettling(ch) {
		return nil, errors.Wrapf(ledger.ErrNotSettling, "settle %s", id)
	}
	if l.block < ch.settlingUntil {
		return nil, errors.Wrapf(ledger.ErrSettlingPending, "settle %s", id)
	}
	l.credit(ch.sender, ch.value)
	delete(l.channels, id)
	return l.receipt(ledger.EventDidSettle), nil
}

func (a *Account) IsAbsent(ctx context.Context, id model.ChannelID) (bool, error) {
	present, err := a.IsPresent(ctx, id)
	return !present, err
}

func (a *Account) IsPresent(ctx context.Context, id model.ChannelID) (bool, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.channels[id]
	return ok, nil
}

func (a *Account) IsSettling(ctx context.Context, id model.ChannelID) (bool, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isSettling(l.channels[id]), nil
}

func (a *Account) IsOpen(ctx context.Context, id model.ChannelID) (bool, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isOpen(l.channels[id]), nil
}

func (a *Account) CanDeposit(ctx context.Context, id model.ChannelID, origin common.Address) (bool, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := l.channels[id]
	return l.isOpen(ch) && ch.sender == origin, nil
}

func (a *Account) CanStartSettling(ctx context.Context, id model.ChannelID, origin common.Address) (bool, error) {
	return a.CanDeposit(ctx, id, origin)
}

func (a *Account) CanSettle(ctx context.Context, id model.ChannelID) (bool, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := l.channels[id]
	return l.isSettling(ch) && l.block >= ch.settlingUntil, nil
}

func (a *Account) CanClaim(ctx context.Context, id model.ChannelID, value *big.Int, origin common.Address, sig []byte) (bool, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canClaim(id, value, origin, sig), nil
}

func (a *Account) PaymentDigest(ctx context.Context, id model.ChannelID, value *big.Int) ([]byte, error) {
	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.digest(id, value), nil
}
