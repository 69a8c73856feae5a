package signature

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	SignatureLength  = crypto.SignatureLength
	recoveryIDOffset = 27
)

func NewSecp256k1Keypair() (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, common.Address{}, err
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// EthSign signs digest the way eth_sign does: the digest is wrapped in the
// "\x19Ethereum Signed Message" envelope and V is 27 or 28.
func EthSign(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(digest), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += recoveryIDOffset
	return sig, nil
}

// EthRecover returns the address that produced sig over digest with EthSign.
func EthRecover(digest, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), SignatureLength)
	}

	s := make([]byte, SignatureLength)
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= recoveryIDOffset {
		s[crypto.RecoveryIDOffset] -= recoveryIDOffset
	}

	pub, err := crypto.SigToPub(accounts.TextHash(digest), s)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func EthVerify(signer common.Address, digest, sig []byte) bool {
	addr, err := EthRecover(digest, sig)
	return err == nil && addr == signer
}
