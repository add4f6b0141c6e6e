// Package requesttime gives every operation within a request the same "now",
// so audit events and responses agree on timestamps.
package requesttime

import (
	"net/http"
	"time"

	"qgate/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
