// Package ledger describes the on-chain Unidirectional channel contract as
// seen by the off-chain sessions. Every call is terminal on failure: nothing
// in this layer retries.
package ledger

import (
	"context"
	"math/big"
	"micropay/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrTxFailed         = errors.New("transaction failed")
	ErrChannelExists    = errors.New("channel identifier already in use")
	ErrChannelNotOpen   = errors.New("channel is not open")
	ErrNotSettling      = errors.New("channel is not settling")
	ErrSettlingPending  = errors.New("settling period has not elapsed")
	ErrUnauthorized     = errors.New("caller is not allowed to perform this action")
	ErrInvalidSignature = errors.New("payment signature does not match channel sender")
)

const (
	EventDidOpen          = "DidOpen"
	EventDidDeposit       = "DidDeposit"
	EventDidClaim         = "DidClaim"
	EventDidStartSettling = "DidStartSettling"
	EventDidSettle        = "DidSettle"
)

type (
	// Transactor holds the state-mutating contract calls. Calls are issued
	// from the account the implementation is bound to.
	Transactor interface {
		Open(ctx context.Context, id model.ChannelID, receiver common.Address, settlingPeriod uint64, value *big.Int) (*model.Receipt, error)
		Deposit(ctx context.Context, id model.ChannelID, value *big.Int) (*model.Receipt, error)
		Claim(ctx context.Context, id model.ChannelID, value *big.Int, signature []byte) (*model.Receipt, error)
		Settle(ctx context.Context, id model.ChannelID) (*model.Receipt, error)
		StartSettling(ctx context.Context, id model.ChannelID) (*model.Receipt, error)
	}

	// Caller holds the read-only contract queries.
	Caller interface {
		IsAbsent(ctx context.Context, id model.ChannelID) (bool, error)
		IsPresent(ctx context.Context, id model.ChannelID) (bool, error)
		IsSettling(ctx context.Context, id model.ChannelID) (bool, error)
		IsOpen(ctx context.Context, id model.ChannelID) (bool, error)
		CanDeposit(ctx context.Context, id model.ChannelID, origin common.Address) (bool, error)
		CanStartSettling(ctx context.Context, id model.ChannelID, origin common.Address) (bool, error)
		CanSettle(ctx context.Context, id model.ChannelID) (bool, error)
		CanClaim(ctx context.Context, id model.ChannelID, value *big.Int, origin common.Address, signature []byte) (bool, error)
		PaymentDigest(ctx context.Context, id model.ChannelID, value *big.Int) ([]byte, error)
	}

	// ChannelService is the on-chain channel contract.
	ChannelService interface {
		Transactor
		Caller
	}
)
