package policy

import (
	"context"
	"math/big"
	"micropay/internal/ledger"
	"micropay/internal/model"

	"github.com/ethereum/go-ethereum/common"
)

type (
	// Channel is the view of a payee session a validation policy gets.
	Channel interface {
		ID() model.ChannelID
		Sender() common.Address
		Receiver() common.Address
		BestProof() *model.Payment
		Ledger() ledger.Caller
	}

	// ValidationPolicy decides whether an incoming proof is acceptable.
	// An error means the decision could not be made.
	ValidationPolicy interface {
		Validate(ctx context.Context, ch Channel, p *model.Payment) (bool, error)
	}

	ValidationFunc func(ctx context.Context, ch Channel, p *model.Payment) (bool, error)

	// LedgerClaimable accepts proofs the ledger would let the receiver claim.
	LedgerClaimable struct{}

	// MinIncrement rejects proofs that raise the best value by less than Min
	// before handing over to Next.
	MinIncrement struct {
		Min  *big.Int
		Next ValidationPolicy
	}

	// All accepts a proof only when every policy does. Policies run in order
	// and stop at the first refusal.
	All []ValidationPolicy
)

func (f ValidationFunc) Validate(ctx context.Context, ch Channel, p *model.Payment) (bool, error) {
	return f(ctx, ch, p)
}

func (LedgerClaimable) Validate(ctx context.Context, ch Channel, p *model.Payment) (bool, error) {
	return ch.Ledger().CanClaim(ctx, ch.ID(), p.Value, ch.Receiver(), p.Signature)
}

func (m MinIncrement) Validate(ctx context.Context, ch Channel, p *model.Payment) (bool, error) {
	increment := new(big.Int).Set(p.Value)
	if best := ch.BestProof(); best != nil {
		increment.Sub(increment, best.Value)
	}
	if m.Min != nil && increment.Cmp(m.Min) < 0 {
		return false, nil
	}
	if m.Next == nil {
		return true, nil
	}
	return m.Next.Validate(ctx, ch, p)
}

func (a All) Validate(ctx context.Context, ch Channel, p *model.Payment) (bool, error) {
	for _, v := range a {
		ok, err := v.Validate(ctx, ch, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
