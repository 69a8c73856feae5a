package payer

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrTransport     = errors.New("transport failure")
	ErrProtocol      = errors.New("unexpected response from payee")
	ErrSendPolicy    = errors.New("send policy declined payment")
	ErrProofRejected = errors.New("payee rejected payment")
	ErrAlreadyOpen   = errors.New("channel already open")
	ErrNotOpen       = errors.New("channel not open")
)

// transportError classifies err as a transport failure unless the transport
// already said what went wrong.
func transportError(op string, err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrProtocol) {
		return errors.Wrap(err, op)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
