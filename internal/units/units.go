// Package units converts between ether denominations.
package units

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Unit string

const (
	Wei   Unit = "wei"
	Gwei  Unit = "gwei"
	Ether Unit = "ether"
)

var (
	ErrUnknownUnit   = errors.New("unknown unit")
	ErrInvalidAmount = errors.New("invalid amount")
)

var exponents = map[Unit]int32{
	Wei:   0,
	Gwei:  9,
	Ether: 18,
}

// ToWei converts a decimal amount expressed in unit to wei. Amounts that do
// not resolve to a whole number of wei are rejected.
func ToWei(amount string, unit Unit) (*big.Int, error) {
	exp, ok := exponents[Unit(strings.ToLower(string(unit)))]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownUnit, "%q", unit)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q: %v", amount, err)
	}
	if d.IsNegative() {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q is negative", amount)
	}

	wei := d.Shift(exp)
	if !wei.IsInteger() {
		return nil, errors.Wrapf(ErrInvalidAmount, "%q has more precision than 1 wei", amount)
	}
	return wei.BigInt(), nil
}

func EtherToWei(amount string) (*big.Int, error) {
	return ToWei(amount, Ether)
}

// FromWei formats wei in unit without trailing zeros.
func FromWei(wei *big.Int, unit Unit) (string, error) {
	exp, ok := exponents[Unit(strings.ToLower(string(unit)))]
	if !ok {
		return "", errors.Wrapf(ErrUnknownUnit, "%q", unit)
	}
	return decimal.NewFromBigInt(wei, -exp).String(), nil
}
