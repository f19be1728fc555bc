// Package blob stores attestation envelopes in content-addressed storage.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrEmptyContent is returned when Put is called with no bytes.
var ErrEmptyContent = errors.New("blob content is empty")

// Store persists a JSON document and returns its content address.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// Digest returns the lowercase hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
