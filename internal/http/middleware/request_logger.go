package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// tenantCarrier lets TenantJWT, which runs deeper in the chain, report the
// tenant back to the request logger.
type tenantCarrier struct {
	tenantID uuid.UUID
}

const carrierKey contextKey = "tenantCarrier"

func recordTenant(ctx context.Context, tenantID uuid.UUID) {
	if c, ok := ctx.Value(carrierKey).(*tenantCarrier); ok {
		c.tenantID = tenantID
	}
}

// RequestLogger emits one structured line per HTTP request with its status
// and, once auth has run, the tenant.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			if reqID == "" {
				reqID = r.Header.Get("X-Request-ID")
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			carrier := &tenantCarrier{}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), carrierKey, carrier)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"request_id", reqID,
				"remote_ip", r.RemoteAddr,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if carrier.tenantID != uuid.Nil {
				args = append(args, "tenant_id", carrier.tenantID)
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request completed", args...)
				return
			}
			logger.Info("request completed", args...)
		})
	}
}
