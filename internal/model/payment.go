package model

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// ErrMalformedPayment is returned when a serialized payment cannot be decoded.
var ErrMalformedPayment = errors.New("malformed payment")

type (
	// ChannelID identifies a channel on the ledger.
	ChannelID [32]byte

	// Payment is a cumulative payment proof. Value is the total owed to the
	// payee so far, in wei, not a delta.
	Payment struct {
		Payer     common.Address
		Payee     common.Address
		ChannelID ChannelID
		Value     *big.Int
		Signature []byte
	}

	// SerializedPayment is the wire form of a Payment.
	SerializedPayment struct {
		Payer     string `json:"payer"`
		Payee     string `json:"payee"`
		ChannelID string `json:"channelId"`
		Value     string `json:"value"`
		Signed    string `json:"signed"`
	}
)

func (id ChannelID) Hex() string {
	return hexutil.Encode(id[:])
}

func (id ChannelID) String() string {
	return id.Hex()
}

func (id ChannelID) IsZero() bool {
	return id == ChannelID{}
}

func (id ChannelID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ChannelID) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseChannelID decodes a 0x-prefixed 32 byte hex string.
func ParseChannelID(s string) (ChannelID, error) {
	var id ChannelID
	raw, err := hexutil.Decode(s)
	if err != nil {
		return id, errors.Wrapf(err, "channel id %q", s)
	}
	if len(raw) != len(id) {
		return id, errors.Errorf("channel id %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// NewPayment builds an unsigned payment.
func NewPayment(payer, payee common.Address, id ChannelID, value *big.Int) *Payment {
	return &Payment{
		Payer:     payer,
		Payee:     payee,
		ChannelID: id,
		Value:     new(big.Int).Set(value),
	}
}

func (p *Payment) IsSigned() bool {
	return len(p.Signature) > 0
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	if p.Value != nil {
		c.Value = new(big.Int).Set(p.Value)
	}
	c.Signature = bytes.Clone(p.Signature)
	return &c
}

func (p *Payment) Equal(o *Payment) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Payer != o.Payer || p.Payee != o.Payee || p.ChannelID != o.ChannelID {
		return false
	}
	if (p.Value == nil) != (o.Value == nil) {
		return false
	}
	if p.Value != nil && p.Value.Cmp(o.Value) != 0 {
		return false
	}
	return bytes.Equal(p.Signature, o.Signature)
}

func (p *Payment) String() string {
	return fmt.Sprintf("payment{channel=%s payer=%s payee=%s value=%s signed=%t}",
		p.ChannelID.Hex(), p.Payer.Hex(), p.Payee.Hex(), p.Value, p.IsSigned())
}

func (p *Payment) ToSerialized() SerializedPayment {
	s := SerializedPayment{
		Payer:     p.Payer.Hex(),
		Payee:     p.Payee.Hex(),
		ChannelID: p.ChannelID.Hex(),
	}
	if p.Value != nil {
		s.Value = p.Value.String()
	}
	if p.IsSigned() {
		s.Signed = hexutil.Encode(p.Signature)
	}
	return s
}

// FromSerialized decodes and checks a wire payment.
func FromSerialized(s SerializedPayment) (*Payment, error) {
	if !common.IsHexAddress(s.Payer) {
		return nil, errors.Wrapf(ErrMalformedPayment, "payer %q", s.Payer)
	}
	if !common.IsHexAddress(s.Payee) {
		return nil, errors.Wrapf(ErrMalformedPayment, "payee %q", s.Payee)
	}

	id, err := ParseChannelID(s.ChannelID)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedPayment, err.Error())
	}

	value, ok := new(big.Int).SetString(s.Value, 10)
	if !ok || value.Sign() < 0 {
		return nil, errors.Wrapf(ErrMalformedPayment, "value %q", s.Value)
	}

	var sig []byte
	if s.Signed != "" {
		sig, err = hexutil.Decode(s.Signed)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedPayment, "signature: %v", err)
		}
	}

	return &Payment{
		Payer:     common.HexToAddress(s.Payer),
		Payee:     common.HexToAddress(s.Payee),
		ChannelID: id,
		Value:     value,
		Signature: sig,
	}, nil
}
