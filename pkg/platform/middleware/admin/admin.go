package admin

import (
	"log/slog"
	"net/http"

	"carbonproof/pkg/platform/middleware/auth"
	request "carbonproof/pkg/platform/middleware/request"
	"carbonproof/pkg/requestcontext"
)

// RequireRole admits only requests whose authenticated role matches role.
// It must run after auth.RequireAuth. onFailure may be nil.
func RequireRole(role string, logger *slog.Logger, onFailure auth.FailureHook) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if auth.GetRole(ctx) != role {
				logger.WarnContext(ctx, "role mismatch",
					"actor_id", requestcontext.ActorID(ctx),
					"required_role", role,
					"request_id", request.GetRequestID(ctx),
				)
				if onFailure != nil {
					onFailure(ctx, "role mismatch")
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden","error_description":"` + role + ` role required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
