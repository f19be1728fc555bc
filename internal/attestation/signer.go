package attestation

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidKey = errors.New("invalid signing key")

// KeySigner signs 32-byte digests with a secp256k1 identity.
type KeySigner interface {
	SignHash(digest []byte) ([]byte, error)
	Address() common.Address
}

// ECDSAKeySigner holds a validator private key in memory.
type ECDSAKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key (with or without 0x). When
// expectedAddress is non-empty it must match the key's address.
func NewKeySigner(hexKey, expectedAddress string) (*ECDSAKeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("%w: validator private key is required", ErrInvalidKey)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	s := &ECDSAKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
	if expectedAddress != "" {
		if !common.IsHexAddress(expectedAddress) {
			return nil, fmt.Errorf("%w: invalid validator address %q", ErrInvalidKey, expectedAddress)
		}
		if common.HexToAddress(expectedAddress) != s.address {
			return nil, fmt.Errorf("%w: key address %s does not match configured validator address %s",
				ErrInvalidKey, s.address.Hex(), common.HexToAddress(expectedAddress).Hex())
		}
	}
	return s, nil
}

// NewKeySignerFromKey wraps an existing private key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *ECDSAKeySigner {
	return &ECDSAKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// SignHash returns a 65-byte [R || S || V] signature with V in {0, 1}.
func (s *ECDSAKeySigner) SignHash(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, s.key)
}

func (s *ECDSAKeySigner) Address() common.Address {
	return s.address
}

// PrivateKey exposes the key for transaction signing by the ledger adapter.
func (s *ECDSAKeySigner) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}
