package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestWithTenantIDAndTenantIDFromContext(t *testing.T) {
	tenantID := uuid.New()
	ctx := WithTenantID(context.Background(), tenantID)

	got, ok := TenantIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected tenant id to be present")
	}
	if got != tenantID {
		t.Fatalf("expected %s, got %s", tenantID, got)
	}
}

func TestTenantIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected missing tenant id to return false")
	}

	ctx = context.WithValue(ctx, tenantKey, "not-a-uuid")
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected non-uuid tenant id to return false")
	}

	ctx = WithTenantID(context.Background(), uuid.Nil)
	if _, err := ResolveTenantID(ctx); !errors.Is(err, ErrNoTenant) {
		t.Fatalf("expected ErrNoTenant for nil uuid, got %v", err)
	}
}
