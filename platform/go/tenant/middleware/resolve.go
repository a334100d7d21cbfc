package middleware

import (
	"net/http"
	"strings"

	"github.com/brightdesk/campus-admin/platform/go/tenant"
)

// DefaultHeader names the header the upstream gateway uses to supply the
// resolved tenant.
const DefaultHeader = "X-Tenant-ID"

// Resolve attaches the tenant Space carried by the configured header to the
// request context. The value arrives pre-validated from the authentication
// layer; requests without one are rejected before any allocation can run,
// never defaulted to a shared counter.
func Resolve(header string) func(http.Handler) http.Handler {
	if strings.TrimSpace(header) == "" {
		header = DefaultHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(header))
			if tenantID == "" {
				http.Error(w, "tenant required", http.StatusBadRequest)
				return
			}

			ctx := tenant.WithSpace(r.Context(), tenant.Space{TenantID: tenantID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
