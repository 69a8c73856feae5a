// Package chain builds the ledger a daemon talks to from its configuration.
package chain

import (
	"context"
	"math/big"
	"micropay/internal/config"
	"micropay/internal/ledger"
	"micropay/internal/ledger/eth"
	"micropay/internal/ledger/memory"
	"micropay/internal/signer"
	"micropay/internal/utils/log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Account picks the configured address, or the only key of ring when the
// address is empty.
func Account(address string, ring *signer.Keyring) (common.Address, error) {
	if address != "" {
		if !common.IsHexAddress(address) {
			return common.Address{}, errors.Errorf("invalid address %q", address)
		}
		return common.HexToAddress(address), nil
	}
	accounts := ring.Accounts()
	if len(accounts) != 1 {
		return common.Address{}, errors.Errorf("cannot pick an account from %d keys, set the address", len(accounts))
	}
	return accounts[0], nil
}

// Open returns the channel service of account. The simulated ledger is
// private to the process; shared is used when not nil.
func Open(ctx context.Context, cfg config.Ledger, ring *signer.Keyring, account common.Address, shared *memory.Ledger) (ledger.ChannelService, func(), error) {
	var contract common.Address
	if cfg.Contract != "" {
		if !common.IsHexAddress(cfg.Contract) {
			return nil, nil, errors.Errorf("invalid contract address %q", cfg.Contract)
		}
		contract = common.HexToAddress(cfg.Contract)
	}

	switch cfg.Backend {
	case config.BackendMemory:
		if shared == nil {
			shared = memory.New(contract)
		}
		log.Warn("using simulated ledger", zap.String("account", account.Hex()))
		return shared.As(account), func() {}, nil

	case config.BackendEth:
		key, ok := ring.Key(account)
		if !ok {
			return nil, nil, errors.Wrapf(signer.ErrUnknownAccount, "%s", account.Hex())
		}
		mult := cfg.GasMultiplier
		if mult <= 0 {
			mult = eth.GasMultiplierFor(cfg.Network)
		}
		c, closeFn, err := eth.Dial(ctx, cfg.RPCURL, key, eth.Config{
			Contract:      contract,
			ChainID:       big.NewInt(cfg.ChainID),
			GasMultiplier: mult,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, closeFn, nil

	default:
		return nil, nil, errors.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
