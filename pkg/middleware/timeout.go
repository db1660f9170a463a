package middleware

import (
	"net/http"

	"github.com/kevin07696/harvest-settlement/pkg/resilience"
)

// Timeout bounds each request with the handler-level timeout unless the
// request context already carries a deadline.
func Timeout(config *resilience.TimeoutConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, hasDeadline := r.Context().Deadline(); hasDeadline {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := config.HandlerContext(r.Context())
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
