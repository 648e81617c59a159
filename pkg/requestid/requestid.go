// Package requestid tags every request with a correlation id. The id is
// echoed on the response header and carried in the request context so
// error bodies and audit records can reference it.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the inbound and outbound correlation header.
const Header = "X-Request-ID"

type ctxKey struct{}

// Middleware reuses an inbound X-Request-ID or generates one, sets it on
// the response, and injects it into the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(Header, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// From returns the request id stored in ctx, or "" when none is set.
func From(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}
