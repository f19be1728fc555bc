package attestation

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"carbonproof/internal/project/models"
)

var (
	ErrSigningFailed    = errors.New("attestation signing failed")
	ErrContentMismatch  = errors.New("attestation content does not match outcome")
	ErrSignatureInvalid = errors.New("attestation signature invalid")
	ErrSignerMismatch   = errors.New("attestation signer is not trusted")
)

// Attestation binds an outcome to the validator identity that produced it.
type Attestation struct {
	Outcome     models.Outcome `json:"outcome"`
	Canonical   []byte         `json:"canonical"`
	ContentHash string         `json:"content_hash"`
	Signature   string         `json:"signature"`
	Signer      string         `json:"signer"`
}

// Envelope is the record persisted to the blob store.
type Envelope struct {
	Attestation *Attestation `json:"attestation"`
	Submission  any          `json:"submission,omitempty"`
	StoredAt    time.Time    `json:"stored_at"`
}

// Service signs and verifies attestations.
type Service struct {
	key     KeySigner
	trusted common.Address
}

// Option configures a Service.
type Option func(*Service)

// WithTrustedSigner verifies against addr instead of the signing key's address.
func WithTrustedSigner(addr common.Address) Option {
	return func(s *Service) {
		s.trusted = addr
	}
}

// New creates a Service. key may be nil for a verify-only service, in which
// case WithTrustedSigner is required.
func New(key KeySigner, opts ...Option) (*Service, error) {
	s := &Service{key: key}
	if key != nil {
		s.trusted = key.Address()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trusted == (common.Address{}) {
		return nil, errors.New("trusted signer address is required")
	}
	return s, nil
}

// Signer returns the trusted validator address.
func (s *Service) Signer() common.Address {
	return s.trusted
}

// Sign canonicalizes the outcome, hashes it, and signs the hex hash as an
// EIP-191 personal message. Signing is deterministic.
func (s *Service) Sign(outcome models.Outcome) (*Attestation, error) {
	if s.key == nil {
		return nil, fmt.Errorf("%w: no signing key configured", ErrSigningFailed)
	}
	canonical, err := Canonicalize(outcome)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	hash := ContentHash(canonical)
	sig, err := s.key.SignHash(messageDigest(hash))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature length %d", ErrSigningFailed, len(sig))
	}
	// Personal-message signatures carry V as 27/28.
	sig[crypto.RecoveryIDOffset] += 27

	return &Attestation{
		Outcome:     outcome,
		Canonical:   canonical,
		ContentHash: hash,
		Signature:   hexutil.Encode(sig),
		Signer:      s.key.Address().Hex(),
	}, nil
}

// Verify recomputes the canonical bytes from att.Outcome and checks the hash,
// the signature, and the signer.
func (s *Service) Verify(att *Attestation) error {
	if att == nil {
		return fmt.Errorf("%w: nil attestation", ErrContentMismatch)
	}
	canonical, err := Canonicalize(att.Outcome)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrContentMismatch, err)
	}
	hash := ContentHash(canonical)
	if string(canonical) != string(att.Canonical) || hash != att.ContentHash {
		return ErrContentMismatch
	}

	recovered, err := RecoverSigner(hash, att.Signature)
	if err != nil {
		return err
	}
	if recovered != s.trusted {
		return fmt.Errorf("%w: recovered %s", ErrSignerMismatch, recovered.Hex())
	}
	if att.Signer != "" && common.HexToAddress(att.Signer) != recovered {
		return fmt.Errorf("%w: declared %s, recovered %s", ErrSignerMismatch, att.Signer, recovered.Hex())
	}
	return nil
}

// RecoverSigner returns the address that signed contentHash. V may be 0/1 or 27/28.
func RecoverSigner(contentHash, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrSignatureInvalid, len(sig))
	}
	if v := sig[crypto.RecoveryIDOffset]; v == 27 || v == 28 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(messageDigest(contentHash), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func messageDigest(contentHash string) []byte {
	return accounts.TextHash([]byte(contentHash))
}
