package chain

import (
	"context"
	"math/big"
	"micropay/internal/config"
	"micropay/internal/cryptographic/hash"
	"micropay/internal/cryptographic/signature"
	"micropay/internal/ledger/memory"
	"micropay/internal/signer"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccount(t *testing.T) {
	key, addr, err := signature.NewSecp256k1Keypair()
	require.NoError(t, err)
	other, _, err := signature.NewSecp256k1Keypair()
	require.NoError(t, err)

	got, err := Account("", signer.NewKeyring(key))
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	got, err = Account(addr.Hex(), signer.NewKeyring(key, other))
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	_, err = Account("", signer.NewKeyring(key, other))
	assert.Error(t, err)
	_, err = Account("", signer.NewKeyring())
	assert.Error(t, err)
	_, err = Account("not-an-address", signer.NewKeyring(key))
	assert.Error(t, err)
}

func TestOpenMemory(t *testing.T) {
	ctx := context.Background()
	payerAddr := common.HexToAddress("0x01")
	payeeAddr := common.HexToAddress("0x02")
	shared := memory.New(common.Address{})

	cfg := config.Ledger{Backend: config.BackendMemory}
	channels, closeFn, err := Open(ctx, cfg, signer.NewKeyring(), payerAddr, shared)
	require.NoError(t, err)
	defer closeFn()

	id := hash.ChannelIDFor(payerAddr, payeeAddr)
	_, err = channels.Open(ctx, id, payeeAddr, 5, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, "100", shared.ChannelValue(id).String())

	// a second view of the same ledger sees the channel
	view, _, err := Open(ctx, cfg, signer.NewKeyring(), payeeAddr, shared)
	require.NoError(t, err)
	open, err := view.IsOpen(ctx, id)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	account := common.HexToAddress("0x01")

	_, _, err := Open(ctx, config.Ledger{Backend: "paper"}, signer.NewKeyring(), account, nil)
	assert.Error(t, err)

	_, _, err = Open(ctx, config.Ledger{Backend: config.BackendMemory, Contract: "0xzz"}, signer.NewKeyring(), account, nil)
	assert.Error(t, err)

	_, _, err = Open(ctx, config.Ledger{Backend: config.BackendEth}, signer.NewKeyring(), account, nil)
	assert.ErrorIs(t, err, signer.ErrUnknownAccount)
}
