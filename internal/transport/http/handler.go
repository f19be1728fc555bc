// Package httptransport is the thin HTTP adapter over the validation
// pipeline, the ledger status reader and the anomaly model.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"carbonproof/internal/attestation"
	"carbonproof/internal/ledger"
	"carbonproof/internal/pipeline"
	"carbonproof/internal/platform/metrics"
	"carbonproof/internal/ratelimit"
	"carbonproof/internal/project/models"
	"carbonproof/internal/validation/anomaly"
	dErrors "carbonproof/pkg/domain-errors"
	audit "carbonproof/pkg/platform/audit"
	"carbonproof/pkg/platform/httputil"
	"carbonproof/pkg/platform/middleware/admin"
	"carbonproof/pkg/platform/middleware/auth"
	"carbonproof/pkg/platform/middleware/metadata"
	request "carbonproof/pkg/platform/middleware/request"
	"carbonproof/pkg/platform/middleware/requesttime"
	"carbonproof/pkg/platform/sentinel"
	"carbonproof/pkg/requestcontext"
)

// Validator runs the validation pipeline.
type Validator interface {
	Run(ctx context.Context, sub models.Submission) pipeline.Result
	// AuthorizeExisting resumes ledger authorization for a signed outcome.
	AuthorizeExisting(ctx context.Context, att *attestation.Attestation) pipeline.Result
}

// StatusReader reports ledger authorization state.
type StatusReader interface {
	GetStatus(ctx context.Context, projectID int64) (ledger.Status, error)
	Transaction(ctx context.Context, projectID int64) (*ledger.Transaction, error)
}

// ModelManager exposes the anomaly model lifecycle to operators.
type ModelManager interface {
	UpdateFromSubmissions(ctx context.Context, subs []models.Submission) (*anomaly.Model, error)
	Current() *anomaly.Model
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// HealthCheck reports a dependency's health; nil means healthy.
type HealthCheck func(ctx context.Context) error

const (
	defaultMaxBodyBytes   = 256 << 10
	defaultRequestTimeout = 5 * time.Minute
	healthCheckTimeout    = 2 * time.Second
)

// Handler serves the public and admin endpoints.
type Handler struct {
	validator    Validator
	status       StatusReader
	model        ModelManager
	jwtValidator auth.JWTValidator
	auditor      AuditPublisher
	checks       map[string]HealthCheck
	schema       *jsonschema.Schema
	limiter      *ratelimit.Middleware

	maxBodyBytes   int64
	requestTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	registry       http.Handler
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithModelManager enables the admin model endpoints. They also need WithJWTValidator.
func WithModelManager(m ModelManager) Option {
	return func(h *Handler) {
		h.model = m
	}
}

func WithJWTValidator(v auth.JWTValidator) Option {
	return func(h *Handler) {
		h.jwtValidator = v
	}
}

func WithAuditor(a AuditPublisher) Option {
	return func(h *Handler) {
		h.auditor = a
	}
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithRateLimiter caps submissions per client IP. A nil limiter disables it.
func WithRateLimiter(l *ratelimit.Middleware) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithMetricsHandler overrides the /metrics handler, e.g. to serve a private registry.
func WithMetricsHandler(mh http.Handler) Option {
	return func(h *Handler) {
		if mh != nil {
			h.registry = mh
		}
	}
}

func New(validator Validator, status StatusReader, opts ...Option) (*Handler, error) {
	if validator == nil {
		return nil, errors.New("validator is required")
	}
	if status == nil {
		return nil, errors.New("status reader is required")
	}
	schema, err := compileSubmissionSchema()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		validator:      validator,
		status:         status,
		checks:         make(map[string]HealthCheck),
		schema:         schema,
		maxBodyBytes:   defaultMaxBodyBytes,
		requestTimeout: defaultRequestTimeout,
		logger:         slog.Default(),
		registry:       promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Router builds the chi router with the full middleware chain.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(h.logger))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(h.logger))
	r.Use(request.Latency(h.metrics))

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.registry)
	r.Get("/projects/{id}/status", h.handleProjectStatus)

	r.Group(func(r chi.Router) {
		r.Use(h.limiter.PerIP)
		r.Use(request.MaxBodySize(h.maxBodyBytes))
		r.Use(request.ContentTypeJSON)
		r.Post("/validate-project", h.handleValidateProject)
		r.Post("/projects/{id}/authorize", h.handleAuthorizeProject)
	})

	if h.model != nil && h.jwtValidator != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAuth(h.jwtValidator, h.logger, h.authFailed))
			r.Use(admin.RequireRole("admin", h.logger, h.authFailed))
			r.Get("/model", h.handleGetModel)
			r.With(request.MaxBodySize(16*h.maxBodyBytes), request.ContentTypeJSON).
				Post("/model", h.handleUpdateModel)
		})
	}
	return r
}

func (h *Handler) handleValidateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read request body"))
		return
	}
	if msg, err := validateAgainstSchema(h.schema, raw); err != nil {
		h.logger.InfoContext(ctx, "submission failed schema validation",
			"request_id", requestID,
			"detail", msg,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, msg))
		return
	}
	var req submissionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()
	res := h.validator.Run(runCtx, req.toSubmission())

	switch res.Kind {
	case pipeline.KindVerified, pipeline.KindRejected:
		httputil.WriteJSON(w, http.StatusOK, toValidationResponse(res))
	case pipeline.KindInputError:
		err := res.Err
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			err = dErrors.Wrap(err, dErrors.CodeValidation, "submission cannot be evaluated")
		}
		httputil.WriteError(w, err)
	default:
		code := dErrors.CodeOf(res.Err)
		if !res.HasOutcome() {
			httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": string(code)})
			return
		}
		body := toValidationResponse(res)
		body.Error = string(code)
		if res.Outcome.Verified() {
			body.Attestation = res.Attestation
		}
		httputil.WriteJSON(w, http.StatusAccepted, body)
	}
}

// handleAuthorizeProject resumes ledger authorization for an attestation
// returned by an earlier 202 response.
func (h *Handler) handleAuthorizeProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	var att attestation.Attestation
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&att); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid attestation body"))
		return
	}
	if dec.More() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid attestation body"))
		return
	}
	if att.Outcome.ProjectID != projectID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "attestation is for a different project"))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()
	res := h.validator.AuthorizeExisting(runCtx, &att)

	switch res.Kind {
	case pipeline.KindVerified:
		httputil.WriteJSON(w, http.StatusOK, toValidationResponse(res))
	case pipeline.KindInputError, pipeline.KindRejected:
		err := res.Err
		switch {
		case err == nil:
			err = dErrors.New(dErrors.CodeValidation, "attestation cannot be authorized")
		case dErrors.CodeOf(err) == dErrors.CodeInternal:
			err = dErrors.Wrap(err, dErrors.CodeValidation, "attestation cannot be authorized")
		}
		h.logger.InfoContext(ctx, "attestation refused for authorization",
			"project_id", projectID,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
	default:
		h.logger.ErrorContext(ctx, "ledger authorization resume failed",
			"project_id", projectID,
			"request_id", request.GetRequestID(ctx),
			"error", res.Err,
		)
		err := res.Err
		if err == nil {
			err = dErrors.New(dErrors.CodeUnavailable, "ledger authorization failed")
		}
		httputil.WriteError(w, err)
	}
}

func projectIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || projectID < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "project id must be a non-negative integer"))
		return 0, false
	}
	return projectID, true
}

func (h *Handler) handleProjectStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, ok := projectIDParam(w, r)
	if !ok {
		return
	}

	status, err := h.status.GetStatus(ctx, projectID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read ledger status",
			"project_id", projectID,
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger status unavailable"))
		return
	}
	tx, err := h.status.Transaction(ctx, projectID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		h.logger.WarnContext(ctx, "failed to read stored transaction", "project_id", projectID, "error", err)
	}
	httputil.WriteJSON(w, http.StatusOK, toStatusResponse(projectID, status, tx))
}

func (h *Handler) handleGetModel(w http.ResponseWriter, _ *http.Request) {
	m := h.model.Current()
	if m == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no anomaly model published"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toModelResponse(m))
}

func (h *Handler) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req modelUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	subs := make([]models.Submission, len(req.Submissions))
	for i, s := range req.Submissions {
		subs[i] = s.toSubmission()
	}

	m, err := h.model.UpdateFromSubmissions(ctx, subs)
	if err != nil {
		h.metrics.IncrementModelUpdate("failed")
		if errors.Is(err, anomaly.ErrInsufficientTraining) {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, err.Error()))
			return
		}
		h.logger.ErrorContext(ctx, "anomaly model update failed",
			"request_id", request.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "model update failed"))
		return
	}
	h.metrics.IncrementModelUpdate("published")
	h.emit(ctx, audit.Event{
		Action:   string(audit.EventModelUpdated),
		Decision: m.Version,
		Reason:   strconv.Itoa(m.Samples) + " samples",
	})
	httputil.WriteJSON(w, http.StatusOK, toModelResponse(m))
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) authFailed(ctx context.Context, reason string) {
	h.emit(ctx, audit.Event{Action: string(audit.EventAdminAuthFailed), Reason: reason})
}

func (h *Handler) emit(ctx context.Context, event audit.Event) {
	if h.auditor == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.ActorID = requestcontext.ActorID(ctx)
	event.ClientAgent = requestcontext.ClientAgent(ctx)
	if err := h.auditor.Emit(ctx, event); err != nil {
		h.logger.WarnContext(ctx, "failed to emit audit event", "action", event.Action, "error", err)
	}
}
