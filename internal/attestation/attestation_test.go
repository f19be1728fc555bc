package attestation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"carbonproof/internal/project/models"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func sampleOutcome() models.Outcome {
	rules := models.RuleOutcome{Dimensions: []models.DimensionResult{
		{Dimension: models.DimensionEmissionReduction, Passed: true, Value: 50000.0},
		{Dimension: models.DimensionProjectDuration, Passed: true, Value: 365},
		{Dimension: models.DimensionDataSources, Passed: true, Value: []string{"sensor", "satellite", "sensor2"}},
	}}
	anomaly := &models.AnomalyOutcome{
		Features:     []float64{0.05, 0.1, 0.6},
		Score:        1.0090479561337888,
		Threshold:    2.042633824545278,
		ModelVersion: "gauss-1717200000-50",
	}
	return models.NewOutcome(1, models.StatusVerified, "validation passed", rules, anomaly,
		time.Date(2024, 6, 1, 10, 30, 0, 123456789, time.UTC))
}

type AttestationSuite struct {
	suite.Suite
	key     *ECDSAKeySigner
	service *Service
}

func TestAttestationSuite(t *testing.T) {
	suite.Run(t, new(AttestationSuite))
}

func (s *AttestationSuite) SetupTest() {
	key, err := NewKeySigner("0x"+testKeyHex, "")
	s.Require().NoError(err)
	s.key = key
	s.service, err = New(key)
	s.Require().NoError(err)
}

func (s *AttestationSuite) TestSignThenVerify() {
	att, err := s.service.Sign(sampleOutcome())
	s.Require().NoError(err)

	s.NoError(s.service.Verify(att))
	s.Equal(s.key.Address().Hex(), att.Signer)
	s.Len(att.ContentHash, 64)
	s.True(strings.HasPrefix(att.Signature, "0x"))
	s.Len(att.Signature, 2+65*2)
}

func (s *AttestationSuite) TestSigningIsDeterministic() {
	first, err := s.service.Sign(sampleOutcome())
	s.Require().NoError(err)
	second, err := s.service.Sign(sampleOutcome())
	s.Require().NoError(err)

	s.Equal(first.Canonical, second.Canonical)
	s.Equal(first.ContentHash, second.ContentHash)
	s.Equal(first.Signature, second.Signature)
}

func (s *AttestationSuite) TestVerifySurvivesJSONRoundTrip() {
	att, err := s.service.Sign(sampleOutcome())
	s.Require().NoError(err)

	raw, err := json.Marshal(att)
	s.Require().NoError(err)
	var decoded Attestation
	s.Require().NoError(json.Unmarshal(raw, &decoded))

	s.NoError(s.service.Verify(&decoded))
}

func (s *AttestationSuite) TestTamperedOutcomeIsDetected() {
	att, err := s.service.Sign(sampleOutcome())
	s.Require().NoError(err)

	tampered := *att
	tampered.Outcome.Status = models.StatusRejected
	s.ErrorIs(s.service.Verify(&tampered), ErrContentMismatch)

	tampered = *att
	tampered.ContentHash = strings.Repeat("0", 64)
	s.ErrorIs(s.service.Verify(&tampered), ErrContentMismatch)
}

func (s *AttestationSuite) TestTamperedSignatureIsDetected() {
	att, err := s.service.Sign(sampleOutcome())
	s.Require().NoError(err)

	tampered := *att
	b := []byte(tampered.Signature)
	if b[10] == 'a' {
		b[10] = 'b'
	} else {
		b[10] = 'a'
	}
	tampered.Signature = string(b)

	err = s.service.Verify(&tampered)
	s.Require().Error(err)
	s.True(errors.Is(err, ErrSignatureInvalid) || errors.Is(err, ErrSignerMismatch), "got %v", err)

	tampered.Signature = "0x1234"
	s.ErrorIs(s.service.Verify(&tampered), ErrSignatureInvalid)
}

func (s *AttestationSuite) TestUntrustedSignerIsRejected() {
	other, err := crypto.GenerateKey()
	s.Require().NoError(err)
	rogue, err := New(NewKeySignerFromKey(other))
	s.Require().NoError(err)

	att, err := rogue.Sign(sampleOutcome())
	s.Require().NoError(err)

	s.ErrorIs(s.service.Verify(att), ErrSignerMismatch)
}

func (s *AttestationSuite) TestVerifyOnlyService() {
	att, err := s.service.Sign(sampleOutcome())
	s.Require().NoError(err)

	verifier, err := New(nil, WithTrustedSigner(s.key.Address()))
	s.Require().NoError(err)
	s.NoError(verifier.Verify(att))

	_, err = verifier.Sign(sampleOutcome())
	s.ErrorIs(err, ErrSigningFailed)
}

func TestRecoverSigner_AcceptsBothRecoveryIDForms(t *testing.T) {
	key, err := NewKeySigner(testKeyHex, "")
	require.NoError(t, err)
	hash := ContentHash([]byte(`{"a":1}`))

	raw, err := key.SignHash(messageDigest(hash))
	require.NoError(t, err)

	got, err := RecoverSigner(hash, "0x"+common.Bytes2Hex(raw))
	require.NoError(t, err)
	assert.Equal(t, key.Address(), got)

	raw[64] += 27
	got, err = RecoverSigner(hash, "0x"+common.Bytes2Hex(raw))
	require.NoError(t, err)
	assert.Equal(t, key.Address(), got)
}

func TestCanonicalize_IgnoresFieldOrder(t *testing.T) {
	a, err := Canonicalize(json.RawMessage(`{"b": 2, "a": {"y": 1.0, "x": [3, 2]}}`))
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"a": map[string]any{"x": []int{3, 2}, "y": 1}, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, `{"a":{"x":[3,2],"y":1},"b":2}`, string(a))
	assert.Equal(t, a, b)
}

func TestNewKeySigner(t *testing.T) {
	key, err := NewKeySigner(testKeyHex, "")
	require.NoError(t, err)

	_, err = NewKeySigner(testKeyHex, key.Address().Hex())
	assert.NoError(t, err)

	_, err = NewKeySigner(testKeyHex, "0x0000000000000000000000000000000000000001")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewKeySigner("", "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewKeySigner("not-hex", "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNew_RequiresTrustedSigner(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
