package testutil

import (
	"net/http"
	"time"

	"trackhub/internal/tracking/models"
	"trackhub/pkg/requestcontext"
)

// WithIdentity adds an authenticated identity to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithIdentity(req *http.Request, identity models.Identity) *http.Request {
	return req.WithContext(requestcontext.WithIdentity(req.Context(), identity))
}

// WithRequestTime pins the request-scoped clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
