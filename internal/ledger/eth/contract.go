// Package eth binds the channel service to a deployed Unidirectional contract
// through go-ethereum.
package eth

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"micropay/internal/ledger"
	"micropay/internal/model"
	"micropay/internal/utils/log"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type (
	Backend interface {
		bind.ContractBackend
		bind.DeployBackend
	}

	Config struct {
		Contract common.Address
		ChainID  *big.Int
		// GasMultiplier scales every gas estimate. Values below 1 are ignored.
		GasMultiplier float64
	}

	// Contract is a ledger.ChannelService bound to one account.
	Contract struct {
		backend  Backend
		address  common.Address
		parsed   abi.ABI
		contract *bind.BoundContract
		auth     *bind.TransactOpts
		from     common.Address
		gasMult  float64

		// serializes nonce assignment between concurrent transactions
		txMu sync.Mutex
	}
)

var _ ledger.ChannelService = (*Contract)(nil)

// GasMultiplierFor returns the default gas multiplier of a network profile.
func GasMultiplierFor(network string) float64 {
	switch network {
	case "development":
		return 2
	default:
		return 1
	}
}

func New(backend Backend, key *ecdsa.PrivateKey, cfg Config) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(UnidirectionalABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse contract abi")
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, cfg.ChainID)
	if err != nil {
		return nil, errors.Wrap(err, "transactor")
	}

	mult := cfg.GasMultiplier
	if mult < 1 {
		mult = 1
	}

	return &Contract{
		backend:  backend,
		address:  cfg.Contract,
		parsed:   parsed,
		contract: bind.NewBoundContract(cfg.Contract, parsed, backend, backend, backend),
		auth:     auth,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		gasMult:  mult,
	}, nil
}

func (c *Contract) From() common.Address {
	return c.from
}

// transact estimates gas, sends the transaction and waits until it is mined.
func (c *Contract) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*model.Receipt, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	data, err := c.parsed.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: pack", method)
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &c.address,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: estimate gas", method)
	}
	gasLimit := uint64(float64(gas) * c.gasMult)
	log.Debug("estimated gas", zap.String("method", method), zap.Uint64("gas", gas), zap.Uint64("limit", gasLimit))

	opts := *c.auth
	opts.Context = ctx
	opts.Value = value
	opts.GasLimit = gasLimit

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: send", method)
	}
	log.Debug("transaction sent", zap.String("method", method), zap.String("tx", tx.Hash().Hex()))

	rcpt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: wait mined", method)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, errors.Wrapf(ledger.ErrTxFailed, "%s: reverted in tx %s", method, tx.Hash().Hex())
	}

	log.Debug("transaction mined", zap.String("method", method), zap.String("tx", rcpt.TxHash.Hex()), zap.Uint64("block", rcpt.BlockNumber.Uint64()))
	return c.toReceipt(rcpt), nil
}

func (c *Contract) toReceipt(rcpt *types.Receipt) *model.Receipt {
	out := &model.Receipt{
		TxHash:  rcpt.TxHash,
		GasUsed: rcpt.GasUsed,
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}
	out.Event = c.eventName(rcpt.Logs)
	return out
}

func (c *Contract) eventName(logs []*types.Log) string {
	for _, l := range logs {
		if l.Address != c.address || len(l.Topics) == 0 {
			continue
		}
		ev, err := c.parsed.EventByID(l.Topics[0])
		if err == nil {
			return ev.Name
		}
	}
	return ""
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: c.from}
	if err := c.contract.Call(opts, &out, method, args...); err != nil {
		return nil, errors.Wrapf(err, "%s: call", method)
	}
	if len(out) != 1 {
		return nil, errors.Errorf("%s: want 1 result, got %d", method, len(out))
	}
	return out[0], nil
}

func (c *Contract) callBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	v, err := c.call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Errorf("%s: unexpected result type %T", method, v)
	}
	return b, nil
}

func (c *Contract) Open(ctx context.Context, id model.ChannelID, receiver common.Address, settlingPeriod uint64, value *big.Int) (*model.Receipt, error) {
	return c.transact(ctx, value, "open", [32]byte(id), receiver, new(big.Int).SetUint64(settlingPeriod))
}

func (c *Contract) Deposit(ctx context.Context, id model.ChannelID, value *big.Int) (*model.Receipt, error) {
	return c.transact(ctx, value, "deposit", [32]byte(id))
}

func (c *Contract) Claim(ctx context.Context, id model.ChannelID, value *big.Int, signature []byte) (*model.Receipt, error) {
	return c.transact(ctx, nil, "claim", [32]byte(id), value, signature)
}

func (c *Contract) Settle(ctx context.Context, id model.ChannelID) (*model.Receipt, error) {
	return c.transact(ctx, nil, "settle", [32]byte(id))
}

func (c *Contract) StartSettling(ctx context.Context, id model.ChannelID) (*model.Receipt, error) {
	return c.transact(ctx, nil, "startSettling", [32]byte(id))
}

func (c *Contract) IsAbsent(ctx context.Context, id model.ChannelID) (bool, error) {
	return c.callBool(ctx, "isAbsent", [32]byte(id))
}

func (c *Contract) IsPresent(ctx context.Context, id model.ChannelID) (bool, error) {
	return c.callBool(ctx, "isPresent", [32]byte(id))
}

func (c *Contract) IsSettling(ctx context.Context, id model.ChannelID) (bool, error) {
	return c.callBool(ctx, "isSettling", [32]byte(id))
}

func (c *Contract) IsOpen(ctx context.Context, id model.ChannelID) (bool, error) {
	return c.callBool(ctx, "isOpen", [32]byte(id))
}

func (c *Contract) CanDeposit(ctx context.Context, id model.ChannelID, origin common.Address) (bool, error) {
	return c.callBool(ctx, "canDeposit", [32]byte(id), origin)
}

func (c *Contract) CanStartSettling(ctx context.Context, id model.ChannelID, origin common.Address) (bool, error) {
	return c.callBool(ctx, "canStartSettling", [32]byte(id), origin)
}

func (c *Contract) CanSettle(ctx context.Context, id model.ChannelID) (bool, error) {
	return c.callBool(ctx, "canSettle", [32]byte(id))
}

func (c *Contract) CanClaim(ctx context.Context, id model.ChannelID, value *big.Int, origin common.Address, signature []byte) (bool, error) {
	return c.callBool(ctx, "canClaim", [32]byte(id), value, origin, signature)
}

func (c *Contract) PaymentDigest(ctx context.Context, id model.ChannelID, value *big.Int) ([]byte, error) {
	v, err := c.call(ctx, "paymentDigest", [32]byte(id), value)
	if err != nil {
		return nil, err
	}
	digest, ok := v.([32]byte)
	if !ok {
		return nil, errors.Errorf("paymentDigest: unexpected result type %T", v)
	}
	return digest[:], nil
}
