package hash

import (
	"micropay/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 hashes the concatenation of data with legacy (pre-NIST) Keccak.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// ChannelIDFor derives the channel identifier of a payer/payee pair as
// keccak256(payer ‖ payee). The order matters.
func ChannelIDFor(payer, payee common.Address) model.ChannelID {
	var id model.ChannelID
	copy(id[:], Keccak256(payer.Bytes(), payee.Bytes()))
	return id
}
