package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	request "carbonproof/pkg/platform/middleware/request"
	"carbonproof/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	Subject string
	Role    string
	JTI     string
}

// FailureHook observes rejected requests, e.g. to emit a security audit event.
type FailureHook func(ctx context.Context, reason string)

type contextKeyRole struct{}

// GetRole retrieves the authenticated role from the context
func GetRole(ctx context.Context) string {
	role, ok := ctx.Value(contextKeyRole{}).(string)
	if !ok {
		return ""
	}
	return role
}

// WithRole injects a role into a context.
// Useful for handler tests that don't run the full middleware chain.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, contextKeyRole{}, role)
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth validates the bearer token and stores the subject as the
// request actor. onFailure may be nil.
func RequireAuth(validator JWTValidator, logger *slog.Logger, onFailure FailureHook) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter, r *http.Request, reason, desc string, err error) {
		ctx := r.Context()
		logger.WarnContext(ctx, "unauthorized access - "+reason,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		if onFailure != nil {
			onFailure(ctx, reason)
		}
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", desc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				reject(w, r, "missing token", "Missing or invalid Authorization header", nil)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				reject(w, r, "invalid token", "Invalid or expired token", err)
				return
			}

			ctx := requestcontext.WithActorID(r.Context(), claims.Subject)
			ctx = WithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
