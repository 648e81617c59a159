package httpenforcer

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/edgepolicy/pkg/requestid"
)

// NewRouter wraps e in a chi router so the adapter composes with the rest
// of a gateway's mux (health checks, management endpoints) while still
// catching every path for enforcement.
func NewRouter(e *Enforcer) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/*", e)
	return r
}
