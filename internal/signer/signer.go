// Package signer produces payment signatures for the payer side.
package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"micropay/internal/cryptographic/signature"
	"micropay/internal/model"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

var ErrUnknownAccount = errors.New("no key for account")

type (
	// Signer signs a ledger-issued digest under account.
	Signer interface {
		Sign(ctx context.Context, account common.Address, digest []byte) ([]byte, error)
	}

	// DigestSource issues the digest a payment signature must cover.
	DigestSource interface {
		PaymentDigest(ctx context.Context, id model.ChannelID, value *big.Int) ([]byte, error)
	}

	// Keyring is a Signer backed by in-memory secp256k1 keys.
	Keyring struct {
		mu   sync.RWMutex
		keys map[common.Address]*ecdsa.PrivateKey
	}
)

var _ Signer = (*Keyring)(nil)

func NewKeyring(keys ...*ecdsa.PrivateKey) *Keyring {
	k := &Keyring{keys: make(map[common.Address]*ecdsa.PrivateKey)}
	for _, key := range keys {
		k.Add(key)
	}
	return k
}

// LoadKeyring reads hex encoded private keys from files.
func LoadKeyring(paths ...string) (*Keyring, error) {
	k := NewKeyring()
	for _, p := range paths {
		key, err := crypto.LoadECDSA(p)
		if err != nil {
			return nil, errors.Wrapf(err, "load key %s", p)
		}
		k.Add(key)
	}
	return k, nil
}

func (k *Keyring) Add(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	k.mu.Lock()
	k.keys[addr] = key
	k.mu.Unlock()
	return addr
}

func (k *Keyring) Key(account common.Address) (*ecdsa.PrivateKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[account]
	return key, ok
}

// Accounts lists the addresses of the keyring in byte order.
func (k *Keyring) Accounts() []common.Address {
	k.mu.RLock()
	out := make([]common.Address, 0, len(k.keys))
	for addr := range k.keys {
		out = append(out, addr)
	}
	k.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (k *Keyring) Sign(ctx context.Context, account common.Address, digest []byte) ([]byte, error) {
	key, ok := k.Key(account)
	if !ok {
		return nil, errors.Wrap(ErrUnknownAccount, account.Hex())
	}
	return signature.EthSign(key, digest)
}

// SignPayment fetches the digest for p from the ledger and signs it under
// p.Payer. p is updated in place.
func SignPayment(ctx context.Context, digests DigestSource, s Signer, p *model.Payment) error {
	digest, err := digests.PaymentDigest(ctx, p.ChannelID, p.Value)
	if err != nil {
		return errors.Wrap(err, "payment digest")
	}

	sig, err := s.Sign(ctx, p.Payer, digest)
	if err != nil {
		return errors.Wrap(err, "sign payment")
	}

	p.Signature = sig
	return nil
}
