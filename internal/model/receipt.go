package model

import "github.com/ethereum/go-ethereum/common"

// Receipt is the outcome of a state-mutating ledger call.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
	// Event is the name of the contract event the call emitted, e.g. DidClaim.
	Event string `json:"event,omitempty"`
}
