package middleware

import (
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"trackhub/internal/tracking/models"
	dErrors "trackhub/pkg/domain-errors"
	"trackhub/pkg/platform/httputil"
	"trackhub/pkg/requestcontext"
)

// Authenticator validates a bearer token and returns the principal behind it.
type Authenticator interface {
	Authenticate(token string) (models.Identity, error)
}

// BearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on websocket handshakes, so when allowQuery is set the
// access_token query parameter is accepted as a fallback.
func BearerToken(r *http.Request, allowQuery bool) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	if allowQuery {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// RequireAuth rejects requests without a valid bearer token and stores the
// identity in the context.
func RequireAuth(auth Authenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := BearerToken(r, false)
			if token == "" {
				logger.Warn("unauthorized access - missing token",
					zap.String("request_id", requestcontext.RequestID(ctx)),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}
			identity, err := auth.Authenticate(token)
			if err != nil {
				logger.Warn("unauthorized access - invalid token",
					zap.String("request_id", requestcontext.RequestID(ctx)),
					zap.Error(err),
				)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithIdentity(ctx, identity)))
		})
	}
}

// RequireRole allows only identities holding one of roles. It must run after
// RequireAuth.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := requestcontext.Identity(r.Context())
			if !ok {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !slices.Contains(roles, identity.Role) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "role "+string(identity.Role)+" may not call this endpoint"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
