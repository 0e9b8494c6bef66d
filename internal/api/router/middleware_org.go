package router

import (
	"net/http"
	"strings"

	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
)

const tenantHeader = "X-Tenant-Id"

// requireTenantMatch rejects requests whose X-Tenant-Id header names a tenant
// other than the one in the token. The header is optional; the token decides.
func requireTenantMatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claimed := strings.TrimSpace(r.Header.Get(tenantHeader))
		if claimed == "" {
			next.ServeHTTP(w, r)
			return
		}
		tenantID, ok := tenancy.TenantIDFromContext(r.Context())
		if !ok || !strings.EqualFold(claimed, tenantID.String()) {
			http.Error(w, "tenant header does not match token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
