package payee

import "github.com/pkg/errors"

var (
	ErrSessionClosed  = errors.New("session already finalized")
	ErrSenderMismatch = errors.New("payee is bound to another sender")
	ErrUnknownChannel = errors.New("unknown channel")
)

// Rejection reasons reported to the sender of a proof.
const (
	ReasonClosed          = "session closed"
	ReasonTerminated      = "session terminated"
	ReasonUnknownChannel  = "unknown channel"
	ReasonUnsigned        = "payment is not signed"
	ReasonChannelMismatch = "payment is for another channel"
	ReasonPayerMismatch   = "payer does not match channel sender"
	ReasonPayeeMismatch   = "payee does not match channel receiver"
	ReasonNotClaimable    = "payment is not claimable"
	ReasonValidatorError  = "payment could not be validated"
	ReasonStale           = "payment does not exceed the best proof"
)
