package pipeline_test

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"carbonproof/internal/attestation"
	blobmem "carbonproof/internal/blob/memory"
	"carbonproof/internal/ledger"
	chainmem "carbonproof/internal/ledger/memory"
	storemem "carbonproof/internal/ledger/store/memory"
	"carbonproof/internal/pipeline"
	"carbonproof/internal/pipeline/mocks"
	"carbonproof/internal/project/models"
	"carbonproof/internal/validation/anomaly"
	historymem "carbonproof/internal/validation/history/memory"
	"carbonproof/internal/validation/rules"
	dErrors "carbonproof/pkg/domain-errors"
	audit "carbonproof/pkg/platform/audit"
	auditpub "carbonproof/pkg/platform/audit/publisher"
	auditmem "carbonproof/pkg/platform/audit/store/memory"
	"carbonproof/pkg/requestcontext"
	"carbonproof/pkg/testutil"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var (
	validator = common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7")
	fixedNow  = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reduction(v float64) *float64 { return &v }

func validFields() models.SubmissionFields {
	return models.SubmissionFields{
		TokenID:           42,
		EmissionReduction: reduction(50000),
		StartDate:         "2023-01-01",
		EndDate:           "2024-01-01",
		Location:          models.Location{Lat: -3.46, Lon: -62.21},
		DataSources:       []string{"sensor", "satellite", "sensor2"},
	}
}

func submission(mutate func(f *models.SubmissionFields)) models.Submission {
	f := validFields()
	if mutate != nil {
		mutate(&f)
	}
	return models.NewSubmission(f)
}

func moderateHistory() []anomaly.Sample {
	samples := make([]anomaly.Sample, 50)
	for i := range samples {
		sources := 3
		if i%2 == 1 {
			sources = 4
		}
		samples[i] = anomaly.Sample{
			EmissionReduction: 40000 + float64(i)*400,
			DurationDays:      300 + i*3,
			DistinctSources:   sources,
		}
	}
	return samples
}

func newSigner(t *testing.T) *attestation.Service {
	t.Helper()
	key, err := attestation.NewKeySigner(testKeyHex, "")
	require.NoError(t, err)
	svc, err := attestation.New(key)
	require.NoError(t, err)
	return svc
}

func newScorer(t *testing.T) *anomaly.Scorer {
	t.Helper()
	sc := anomaly.New(anomaly.WithLogger(discardLogger()))
	_, err := sc.UpdateModel(context.Background(), moderateHistory())
	require.NoError(t, err)
	return sc
}

func fastLedgerConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.MaxAttempts = 5
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.PollInterval = time.Millisecond
	cfg.ConfirmationTimeout = 100 * time.Millisecond
	cfg.CallTimeout = time.Second
	return cfg
}

func startSubmitter(t *testing.T, chain ledger.Chain, store ledger.Store) *ledger.Submitter {
	t.Helper()
	s, err := ledger.New(chain, store, ledger.WithConfig(fastLedgerConfig()), ledger.WithLogger(discardLogger()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

// flakyChain fails the first n broadcasts with a transient RPC error.
type flakyChain struct {
	*chainmem.Chain
	mu       sync.Mutex
	failures int
}

func (f *flakyChain) Broadcast(ctx context.Context, call *ledger.SignedCall) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return ledger.Transient("broadcast", errors.New("connection reset by peer"))
	}
	f.mu.Unlock()
	return f.Chain.Broadcast(ctx, call)
}

type ScenarioSuite struct {
	suite.Suite
	ctx     context.Context
	chain   *chainmem.Chain
	blobs   *blobmem.Store
	history *historymem.Store
	audits  *auditmem.InMemoryStore
	signer  *attestation.Service
	pipe    *pipeline.Pipeline
}

func TestScenarioSuite(t *testing.T) {
	suite.Run(t, new(ScenarioSuite))
}

func (s *ScenarioSuite) SetupTest() {
	s.ctx = requestcontext.WithRequestID(context.Background(), "req-1")
	s.chain = chainmem.NewChain(validator)
	s.blobs = blobmem.New()
	s.history = historymem.New()
	s.audits = auditmem.NewInMemoryStore()
	s.signer = newSigner(s.T())

	p, err := pipeline.New(rules.New(), newScorer(s.T()), s.signer, s.blobs,
		pipeline.WithLedger(startSubmitter(s.T(), s.chain, storemem.New())),
		pipeline.WithHistory(s.history),
		pipeline.WithAuditor(auditpub.NewPublisher(s.audits)),
		pipeline.WithLogger(discardLogger()),
		pipeline.WithClock(func() time.Time { return fixedNow }),
	)
	s.Require().NoError(err)
	s.pipe = p
}

func (s *ScenarioSuite) TestVerifiedProjectIsAttestedAndConfirmed() {
	res := s.pipe.Run(s.ctx, submission(nil))

	s.Require().Equal(pipeline.KindVerified, res.Kind, "err: %v", res.Err)
	s.NoError(res.Err)
	s.Equal(models.StatusVerified, res.Outcome.Status)
	s.Equal(pipeline.ReasonVerified, res.Outcome.Reason)
	s.Equal(fixedNow, res.Outcome.Timestamp)
	s.NoError(s.signer.Verify(res.Attestation))
	s.Equal(validator.Hex(), res.Attestation.Signer)

	s.Require().NotNil(res.Transaction)
	s.Equal(ledger.StatusConfirmed, res.Transaction.Status)
	s.Equal(1, s.chain.Writes())

	stored, err := s.blobs.Get(s.ctx, res.ContentAddress)
	s.Require().NoError(err)
	var env struct {
		Attestation attestation.Attestation `json:"attestation"`
		Submission  models.Record           `json:"submission"`
	}
	s.Require().NoError(json.Unmarshal(stored, &env))
	s.Equal(res.Attestation.ContentHash, env.Attestation.ContentHash)
	s.Equal(int64(42), env.Submission.TokenID)

	s.Equal(1, s.history.Len())

	events, err := s.audits.ListByProject(s.ctx, 42)
	s.Require().NoError(err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
		s.Equal("req-1", e.RequestID)
	}
	s.ElementsMatch([]string{string(audit.EventProjectValidated), string(audit.EventLedgerAuthorized)}, actions)
}

func (s *ScenarioSuite) TestRuleRejections() {
	cases := []struct {
		name   string
		mutate func(f *models.SubmissionFields)
		reason string
	}{
		{
			name:   "negative reduction",
			mutate: func(f *models.SubmissionFields) { f.EmissionReduction = reduction(-1000) },
			reason: rules.ReasonEmissionOutOfRange,
		},
		{
			name:   "two week project",
			mutate: func(f *models.SubmissionFields) { f.StartDate, f.EndDate = "2023-01-01", "2023-01-15" },
			reason: "14 days",
		},
		{
			name:   "single sensor source",
			mutate: func(f *models.SubmissionFields) { f.DataSources = []string{"sensor"} },
			reason: "satellite",
		},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			res := s.pipe.Run(s.ctx, submission(tc.mutate))

			s.Require().Equal(pipeline.KindRejected, res.Kind, "err: %v", res.Err)
			s.Equal(models.StatusRejected, res.Outcome.Status)
			s.Contains(res.Outcome.Reason, tc.reason)
			s.NoError(s.signer.Verify(res.Attestation), "rejections are attested too")
			s.NotEmpty(res.ContentAddress)
			s.Nil(res.Transaction)
		})
	}
	s.Equal(0, s.chain.Writes())
	s.Equal(0, s.history.Len())
}

func (s *ScenarioSuite) TestExtremeReductionIsRejectedAsAnomaly() {
	res := s.pipe.Run(s.ctx, submission(func(f *models.SubmissionFields) {
		f.EmissionReduction = reduction(999999)
	}))

	s.Require().Equal(pipeline.KindRejected, res.Kind, "err: %v", res.Err)
	s.True(strings.HasPrefix(res.Outcome.Reason, anomaly.ReasonAnomalyDetected))
	s.Require().NotNil(res.Outcome.Anomaly)
	s.True(res.Outcome.Anomaly.Anomalous)
	s.Equal(0, s.chain.Writes())
}

func (s *ScenarioSuite) TestInputErrors() {
	testutil.Given(s.T(), "a submission without an emission reduction", func(t *testing.T) {
		res := s.pipe.Run(s.ctx, submission(func(f *models.SubmissionFields) { f.EmissionReduction = nil }))
		assert.Equal(t, pipeline.KindInputError, res.Kind)
		assert.True(t, dErrors.HasCode(res.Err, dErrors.CodeValidation))
		assert.False(t, res.HasOutcome())
	})

	testutil.Given(s.T(), "a NaN emission reduction", func(t *testing.T) {
		res := s.pipe.Run(s.ctx, submission(func(f *models.SubmissionFields) { f.EmissionReduction = reduction(math.NaN()) }))
		assert.Equal(t, pipeline.KindInputError, res.Kind, "err: %v", res.Err)
		assert.True(t, dErrors.HasCode(res.Err, dErrors.CodeValidation))
		assert.False(t, res.HasOutcome())
	})

	testutil.Given(s.T(), "dates in the wrong order", func(t *testing.T) {
		res := s.pipe.Run(s.ctx, submission(func(f *models.SubmissionFields) { f.StartDate, f.EndDate = "2024-01-01", "2023-01-01" }))
		assert.Equal(t, pipeline.KindInputError, res.Kind)
		assert.False(t, res.HasOutcome())
	})

	s.Equal(0, s.blobs.Puts(), "nothing is attested for unjudgeable input")
}

func TestScenario_TransientLedgerFailuresAreRetried(t *testing.T) {
	chain := &flakyChain{Chain: chainmem.NewChain(validator), failures: 2}
	p, err := pipeline.New(rules.New(), newScorer(t), newSigner(t), blobmem.New(),
		pipeline.WithLedger(startSubmitter(t, chain, storemem.New())),
		pipeline.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	res := p.Run(context.Background(), submission(nil))

	require.Equal(t, pipeline.KindVerified, res.Kind, "err: %v", res.Err)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, ledger.StatusConfirmed, res.Transaction.Status)
	assert.Equal(t, 2, res.Transaction.Retries)
	assert.Equal(t, 1, chain.Writes())
}

func TestRun_RevertedAuthorizationIsInfrastructureError(t *testing.T) {
	chain := chainmem.NewChain(validator)
	chain.RevertProject(42)
	p, err := pipeline.New(rules.New(), newScorer(t), newSigner(t), blobmem.New(),
		pipeline.WithLedger(startSubmitter(t, chain, storemem.New())),
		pipeline.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	res := p.Run(context.Background(), submission(nil))

	assert.Equal(t, pipeline.KindInfrastructureError, res.Kind)
	assert.ErrorIs(t, res.Err, ledger.ErrReverted)
	require.True(t, res.HasOutcome())
	assert.True(t, res.Outcome.Verified())
	require.NotNil(t, res.Transaction)
	assert.Equal(t, ledger.StatusReverted, res.Transaction.Status)
}

type FailureSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	signer     *mocks.MockSigner
	blobs      *mocks.MockBlobStore
	authorizer *mocks.MockAuthorizer
	auditor    *mocks.MockAuditPublisher
	pipe       *pipeline.Pipeline
}

func TestFailureSuite(t *testing.T) {
	suite.Run(t, new(FailureSuite))
}

func (s *FailureSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.signer = mocks.NewMockSigner(s.ctrl)
	s.blobs = mocks.NewMockBlobStore(s.ctrl)
	s.authorizer = mocks.NewMockAuthorizer(s.ctrl)
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)

	p, err := pipeline.New(rules.New(), newScorer(s.T()), s.signer, s.blobs,
		pipeline.WithLedger(s.authorizer),
		pipeline.WithAuditor(s.auditor),
		pipeline.WithLogger(discardLogger()),
		pipeline.WithBlobTimeout(time.Second),
	)
	s.Require().NoError(err)
	s.pipe = p
}

func (s *FailureSuite) attestation(outcome models.Outcome) *attestation.Attestation {
	return &attestation.Attestation{Outcome: outcome, ContentHash: "0xabc", Signature: "0xsig", Signer: validator.Hex()}
}

func (s *FailureSuite) TestSigningFailureStopsBeforeStorage() {
	s.signer.EXPECT().Sign(gomock.Any()).Return(nil, attestation.ErrSigningFailed)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	res := s.pipe.Run(context.Background(), submission(nil))

	s.Equal(pipeline.KindInfrastructureError, res.Kind)
	s.ErrorIs(res.Err, attestation.ErrSigningFailed)
	s.True(res.HasOutcome())
	s.Nil(res.Attestation)
}

func (s *FailureSuite) TestBlobFailureAfterVerifiedSkipsLedger() {
	s.signer.EXPECT().Sign(gomock.Any()).DoAndReturn(func(o models.Outcome) (*attestation.Attestation, error) {
		return s.attestation(o), nil
	})
	s.blobs.EXPECT().Put(gomock.Any(), gomock.Any()).Return("", errors.New("ipfs: connection refused"))
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	res := s.pipe.Run(context.Background(), submission(nil))

	s.Equal(pipeline.KindInfrastructureError, res.Kind)
	s.True(dErrors.HasCode(res.Err, dErrors.CodeUnavailable))
	s.True(res.Outcome.Verified())
	s.NotNil(res.Attestation)
	s.Nil(res.Transaction)
}

func (s *FailureSuite) TestLedgerFailureKeepsAttestation() {
	s.signer.EXPECT().Sign(gomock.Any()).DoAndReturn(func(o models.Outcome) (*attestation.Attestation, error) {
		return s.attestation(o), nil
	})
	s.blobs.EXPECT().Put(gomock.Any(), gomock.Any()).Return("sha256:abc", nil)
	s.authorizer.EXPECT().Authorize(gomock.Any(), int64(42)).
		Return(&ledger.Transaction{ProjectID: 42, Status: ledger.StatusFailed}, ledger.ErrConfirmationTimeout)

	var actions []string
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
		actions = append(actions, e.Action)
		return nil
	}).Times(2)

	res := s.pipe.Run(context.Background(), submission(nil))

	s.Equal(pipeline.KindInfrastructureError, res.Kind)
	s.ErrorIs(res.Err, ledger.ErrConfirmationTimeout)
	s.Equal("sha256:abc", res.ContentAddress)
	s.Equal(ledger.StatusFailed, res.Transaction.Status)
	s.Equal([]string{string(audit.EventLedgerAuthorizeFailed), string(audit.EventProjectValidated)}, actions)
}

func (s *FailureSuite) TestAuditFailureDoesNotChangeResult() {
	s.signer.EXPECT().Sign(gomock.Any()).DoAndReturn(func(o models.Outcome) (*attestation.Attestation, error) {
		return s.attestation(o), nil
	})
	s.blobs.EXPECT().Put(gomock.Any(), gomock.Any()).Return("sha256:abc", nil)
	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(auditpub.ErrBufferFull)

	res := s.pipe.Run(context.Background(), submission(func(f *models.SubmissionFields) { f.DataSources = []string{"sensor"} }))

	s.Equal(pipeline.KindRejected, res.Kind)
	s.NoError(res.Err)
}

func (s *FailureSuite) TestAuthorizeExisting() {
	verified := models.NewOutcome(42, models.StatusVerified, pipeline.ReasonVerified, models.RuleOutcome{}, nil, fixedNow)

	s.Run("authorizes a verified attestation", func() {
		att := s.attestation(verified)
		s.signer.EXPECT().Verify(att).Return(nil)
		s.authorizer.EXPECT().Authorize(gomock.Any(), int64(42)).
			Return(&ledger.Transaction{ProjectID: 42, Status: ledger.StatusConfirmed}, nil)
		s.auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		res := s.pipe.AuthorizeExisting(context.Background(), att)
		s.Equal(pipeline.KindVerified, res.Kind)
		s.Equal(ledger.StatusConfirmed, res.Transaction.Status)
	})

	s.Run("refuses a tampered attestation", func() {
		att := s.attestation(verified)
		s.signer.EXPECT().Verify(att).Return(attestation.ErrSignatureInvalid)

		res := s.pipe.AuthorizeExisting(context.Background(), att)
		s.Equal(pipeline.KindInputError, res.Kind)
		s.ErrorIs(res.Err, attestation.ErrSignatureInvalid)
	})

	s.Run("refuses a rejected outcome", func() {
		rejected := models.NewOutcome(42, models.StatusRejected, "nope", models.RuleOutcome{}, nil, fixedNow)
		att := s.attestation(rejected)
		s.signer.EXPECT().Verify(att).Return(nil)

		res := s.pipe.AuthorizeExisting(context.Background(), att)
		s.Equal(pipeline.KindInputError, res.Kind)
		s.True(dErrors.HasCode(res.Err, dErrors.CodeValidation))
	})

	s.Run("requires an attestation", func() {
		res := s.pipe.AuthorizeExisting(context.Background(), nil)
		s.Equal(pipeline.KindInputError, res.Kind)
	})
}

func TestRun_ModelNotReadyIsInfrastructureError(t *testing.T) {
	p, err := pipeline.New(rules.New(), anomaly.New(anomaly.WithLogger(discardLogger())), newSigner(t), blobmem.New(),
		pipeline.WithLogger(discardLogger()),
	)
	require.NoError(t, err)

	res := p.Run(context.Background(), submission(nil))

	assert.Equal(t, pipeline.KindInfrastructureError, res.Kind)
	assert.ErrorIs(t, res.Err, anomaly.ErrModelNotReady)
	assert.False(t, res.HasOutcome())
}

func TestRun_RecordsStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))

	p, err := pipeline.New(rules.New(), newScorer(t), newSigner(t), blobmem.New(),
		pipeline.WithLogger(discardLogger()),
		pipeline.WithTracer(provider.Tracer("test")),
	)
	require.NoError(t, err)

	res := p.Run(context.Background(), submission(nil))
	require.Equal(t, pipeline.KindVerified, res.Kind)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.ElementsMatch(t, []string{
		"pipeline.rules", "pipeline.anomaly", "pipeline.sign", "pipeline.blob", "pipeline.run",
	}, names)
}

func TestNew_RequiresDependencies(t *testing.T) {
	signer := newSigner(t)
	scorer := newScorer(t)
	blobs := blobmem.New()

	_, err := pipeline.New(nil, scorer, signer, blobs)
	assert.EqualError(t, err, "rule validator is required")
	_, err = pipeline.New(rules.New(), nil, signer, blobs)
	assert.EqualError(t, err, "anomaly scorer is required")
	_, err = pipeline.New(rules.New(), scorer, nil, blobs)
	assert.EqualError(t, err, "attestation signer is required")
	_, err = pipeline.New(rules.New(), scorer, signer, nil)
	assert.EqualError(t, err, "blob store is required")
}
