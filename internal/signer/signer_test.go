package signer

import (
	"context"
	"math/big"
	"micropay/internal/cryptographic/hash"
	"micropay/internal/cryptographic/signature"
	"micropay/internal/ledger/memory"
	"micropay/internal/model"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignPayment(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	ring := NewKeyring(key)
	payer := crypto.PubkeyToAddress(key.PublicKey)
	payee := common.HexToAddress("0xb2")

	l := memory.New(common.HexToAddress("0xc0"))
	p := model.NewPayment(payer, payee, hash.ChannelIDFor(payer, payee), big.NewInt(10))
	require.False(t, p.IsSigned())

	require.NoError(t, SignPayment(ctx, l.As(payer), ring, p))
	require.True(t, p.IsSigned())

	digest, err := l.As(payer).PaymentDigest(ctx, p.ChannelID, p.Value)
	require.NoError(t, err)
	assert.True(t, signature.EthVerify(payer, digest, p.Signature))
}

func TestSignUnknownAccount(t *testing.T) {
	_, err := NewKeyring().Sign(context.Background(), common.HexToAddress("0x01"), make([]byte, 32))
	assert.True(t, errors.Is(err, ErrUnknownAccount))
}

func TestLoadKeyring(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "payer.key")
	require.NoError(t, crypto.SaveECDSA(path, key))

	ring, err := LoadKeyring(path)
	require.NoError(t, err)
	_, ok := ring.Key(crypto.PubkeyToAddress(key.PublicKey))
	assert.True(t, ok)
	assert.Equal(t, []common.Address{crypto.PubkeyToAddress(key.PublicKey)}, ring.Accounts())

	_, err = LoadKeyring(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
