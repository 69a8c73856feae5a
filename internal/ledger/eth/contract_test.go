package eth

import (
	"math/big"
	"micropay/internal/ledger"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnidirectionalABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(UnidirectionalABI))
	require.NoError(t, err)

	for _, m := range []string{"open", "deposit", "claim", "settle", "startSettling",
		"isAbsent", "isPresent", "isSettling", "isOpen",
		"canDeposit", "canStartSettling", "canSettle", "canClaim", "paymentDigest"} {
		_, ok := parsed.Methods[m]
		assert.True(t, ok, m)
	}

	data, err := parsed.Pack("claim", [32]byte{1}, big.NewInt(10), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, parsed.Methods["claim"].ID, data[:4])
}

func TestGasMultiplierFor(t *testing.T) {
	assert.Equal(t, 2.0, GasMultiplierFor("development"))
	assert.Equal(t, 1.0, GasMultiplierFor("kovan"))
	assert.Equal(t, 1.0, GasMultiplierFor(""))
}

func TestReceiptEventName(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	contractAddr := common.HexToAddress("0xc0ffee")
	c, err := New(nil, key, Config{Contract: contractAddr, ChainID: big.NewInt(1337)})
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), c.From())

	claimTopic := c.parsed.Events[ledger.EventDidClaim].ID
	rcpt := &types.Receipt{
		TxHash:      common.HexToHash("0x01"),
		BlockNumber: big.NewInt(7),
		GasUsed:     21000,
		Logs: []*types.Log{
			{Address: common.HexToAddress("0xdead"), Topics: []common.Hash{claimTopic}},
			{Address: contractAddr, Topics: []common.Hash{claimTopic}},
		},
	}

	out := c.toReceipt(rcpt)
	assert.Equal(t, ledger.EventDidClaim, out.Event)
	assert.Equal(t, uint64(7), out.BlockNumber)
	assert.Equal(t, uint64(21000), out.GasUsed)
}
