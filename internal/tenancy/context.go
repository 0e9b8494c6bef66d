package tenancy

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type ctxKey string

const tenantKey ctxKey = "clinic.tenant_id"

// ErrNoTenant is returned when a request carries no resolvable tenant.
var ErrNoTenant = errors.New("tenancy: tenant not resolved")

// WithTenantID stores the tenant id in context. Only the HTTP edge uses this;
// services take the tenant id as an explicit argument.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	tenantID, ok := ctx.Value(tenantKey).(uuid.UUID)
	return tenantID, ok && tenantID != uuid.Nil
}

// ResolveTenantID returns the caller's tenant or ErrNoTenant.
func ResolveTenantID(ctx context.Context) (uuid.UUID, error) {
	tenantID, ok := TenantIDFromContext(ctx)
	if !ok {
		return uuid.Nil, ErrNoTenant
	}
	return tenantID, nil
}
