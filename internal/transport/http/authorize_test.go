package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"carbonproof/internal/attestation"
	blobmem "carbonproof/internal/blob/memory"
	"carbonproof/internal/ledger"
	"carbonproof/internal/pipeline"
	"carbonproof/internal/transport/http/mocks"
	"carbonproof/internal/validation/anomaly"
	"carbonproof/internal/validation/rules"
	dErrors "carbonproof/pkg/domain-errors"
	"carbonproof/pkg/testutil"
)

const signerKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

// flakyLedger fails the first Authorize call and confirms afterwards.
type flakyLedger struct {
	mu    sync.Mutex
	calls int
}

func (l *flakyLedger) Authorize(_ context.Context, projectID int64) (*ledger.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls == 1 {
		return &ledger.Transaction{ProjectID: projectID, Status: ledger.StatusFailed}, ledger.ErrConfirmationTimeout
	}
	return &ledger.Transaction{ProjectID: projectID, TxHash: "0xresumed", Status: ledger.StatusConfirmed}, nil
}

func newResumableRouter(t *testing.T, authorizer pipeline.Authorizer) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := attestation.NewKeySigner(signerKeyHex, "")
	require.NoError(t, err)
	signer, err := attestation.New(key)
	require.NoError(t, err)

	scorer := anomaly.New(anomaly.WithLogger(logger))
	require.NoError(t, scorer.Init(context.Background(), nil))

	pipe, err := pipeline.New(rules.New(), scorer, signer, blobmem.New(),
		pipeline.WithLogger(logger),
		pipeline.WithLedger(authorizer),
	)
	require.NoError(t, err)

	ctrl := gomock.NewController(t)
	h, err := New(pipe, mocks.NewMockStatusReader(ctrl),
		WithLogger(logger),
		WithMetricsHandler(http.NotFoundHandler()),
	)
	require.NoError(t, err)
	return h.Router()
}

func TestAuthorizeProject_ResumesFromAcceptedResponse(t *testing.T) {
	authorizer := &flakyLedger{}
	router := newResumableRouter(t, authorizer)

	accepted := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/validate-project", validBody))
	testutil.AssertStatus(t, accepted, http.StatusAccepted)
	first := testutil.UnmarshalResponse[validationResponse](t, accepted)
	require.NotNil(t, first.Attestation)
	assert.Equal(t, "VERIFIED", first.Status)

	body, err := json.Marshal(first.Attestation)
	require.NoError(t, err)

	testutil.When(t, "the signed outcome is tampered with", func(t *testing.T) {
		tampered := strings.Replace(string(body), pipeline.ReasonVerified, "approved by hand", 1)
		require.NotEqual(t, string(body), tampered)

		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/projects/42/authorize", tampered))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	testutil.When(t, "the original attestation is resubmitted", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/projects/42/authorize", string(body)))

		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[validationResponse](t, rr)
		assert.Equal(t, "CONFIRMED", resp.LedgerStatus)
		assert.Equal(t, "0xresumed", resp.TxHash)
		assert.Equal(t, first.Signature, resp.Signature, "outcome is not re-signed")
	})

	assert.Equal(t, 2, authorizer.calls)
}

func TestAuthorizeProject_LedgerStillFailing(t *testing.T) {
	router := newResumableRouter(t, ledgerFunc(func(context.Context, int64) (*ledger.Transaction, error) {
		return nil, errors.New("dial tcp 10.0.0.5:8545: connection refused")
	}))

	accepted := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/validate-project", validBody))
	testutil.AssertStatus(t, accepted, http.StatusAccepted)
	body, err := json.Marshal(testutil.UnmarshalResponse[validationResponse](t, accepted).Attestation)
	require.NoError(t, err)

	rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/projects/42/authorize", string(body)))
	testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, string(dErrors.CodeUnavailable))
}

type ledgerFunc func(ctx context.Context, projectID int64) (*ledger.Transaction, error)

func (f ledgerFunc) Authorize(ctx context.Context, projectID int64) (*ledger.Transaction, error) {
	return f(ctx, projectID)
}
