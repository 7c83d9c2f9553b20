package contract

import (
	"context"
	"net/http"
	"time"
)

// Timeout returns middleware that adds a timeout to the request context.
// The pipeline checks the context between stages, so a request that runs
// out of time is answered with 503 Service Unavailable.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
