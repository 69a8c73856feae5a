package eth

import (
	"context"
	"crypto/ecdsa"
	"micropay/internal/utils/log"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dial connects to the node at rpcURL and binds the contract for key. The
// chain id is read from the node when cfg leaves it unset.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, cfg Config) (*Contract, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dial %s", rpcURL)
	}

	if cfg.ChainID == nil || cfg.ChainID.Sign() == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, nil, errors.Wrap(err, "chain id")
		}
		cfg.ChainID = id
	}

	c, err := New(client, key, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	log.Info("ledger connected",
		zap.String("rpc", rpcURL),
		zap.String("contract", cfg.Contract.Hex()),
		zap.String("chain_id", cfg.ChainID.String()),
		zap.String("account", c.From().Hex()),
	)
	return c, client.Close, nil
}
