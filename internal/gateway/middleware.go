package gateway

import (
	"context"
	"net/http"
	"runtime/debug"
	"slices"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

type contextKey int

const tenantKey contextKey = iota

// tenantFrom returns the request's resolved tenant. Handlers behind
// withAuth can rely on it being present.
func tenantFrom(ctx context.Context) *models.Tenant {
	tenant, _ := ctx.Value(tenantKey).(*models.Tenant)
	return tenant
}

// withAuth resolves the tenant from the Authorization header and stores it
// on the request context.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.auth.FindTenant(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey, tenant)))
	})
}

// withRecovery turns handler panics into 500 responses instead of dropped
// connections.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic",
					"path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				s.writeError(w, apierr.New(apierr.CodeInternalError, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withCORS answers preflight requests and reflects configured origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin) || slices.Contains(s.cfg.AllowedOrigins, "*")
}
