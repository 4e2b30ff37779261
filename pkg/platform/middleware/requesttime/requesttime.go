// Package requesttime captures a single timestamp at the start of each HTTP
// request so every operation within the request observes the same "now".
package requesttime

import (
	"net/http"
	"time"

	"idrelay/pkg/requestcontext"
)

// Middleware stores the current time in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
