package tenancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

var tenantColumns = []string{
	"id", "name", "calendar_provider", "timezone", "global_calendar_id", "notification_email",
	"midday_break_enabled", "midday_break_start", "midday_break_end",
}

func strPtr(s string) *string { return &s }

func TestPostgresStoreGetAppliesDefaultBreak(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	mock.ExpectQuery(`SELECT id, name, calendar_provider`).
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows(tenantColumns).
			AddRow(tenantID, "Clinica Norte", "google", "America/Argentina/Buenos_Aires", strPtr("clinic@group.calendar.google.com"), nil, true, nil, nil))

	lunch := scheduling.Interval{Start: scheduling.At(13, 0), End: scheduling.At(14, 0)}
	store := NewPostgresStore(mock, &lunch)
	got, err := store.Get(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CalendarProvider != ProviderExternal {
		t.Fatalf("google should map to external, got %s", got.CalendarProvider)
	}
	if got.GlobalCalendarID != "clinic@group.calendar.google.com" {
		t.Fatalf("unexpected global calendar %q", got.GlobalCalendarID)
	}
	if got.MiddayBreak == nil || *got.MiddayBreak != lunch {
		t.Fatalf("expected default midday break, got %+v", got.MiddayBreak)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGetBreakDisabledOrOverridden(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	lunch := scheduling.Interval{Start: scheduling.At(13, 0), End: scheduling.At(14, 0)}
	store := NewPostgresStore(mock, &lunch)

	disabled := uuid.New()
	mock.ExpectQuery(`SELECT id, name, calendar_provider`).
		WithArgs(disabled).
		WillReturnRows(pgxmock.NewRows(tenantColumns).
			AddRow(disabled, "Sin Almuerzo", "local", "UTC", nil, nil, false, nil, nil))
	got, err := store.Get(context.Background(), disabled)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MiddayBreak != nil {
		t.Fatalf("expected no midday break, got %+v", got.MiddayBreak)
	}

	custom := uuid.New()
	mock.ExpectQuery(`SELECT id, name, calendar_provider`).
		WithArgs(custom).
		WillReturnRows(pgxmock.NewRows(tenantColumns).
			AddRow(custom, "Siesta", "local", "UTC", nil, strPtr("ops@clinic.test"), true, strPtr("12:30"), strPtr("14:30")))
	got, err = store.Get(context.Background(), custom)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.MiddayBreak == nil || got.MiddayBreak.Start != scheduling.At(12, 30) || got.MiddayBreak.End != scheduling.At(14, 30) {
		t.Fatalf("unexpected midday break %+v", got.MiddayBreak)
	}
	if got.NotificationEmail != "ops@clinic.test" {
		t.Fatalf("unexpected notification email %q", got.NotificationEmail)
	}
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	mock.ExpectQuery(`SELECT id, name, calendar_provider`).
		WithArgs(tenantID).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPostgresStore(mock, nil).Get(context.Background(), tenantID)
	var notFound *scheduling.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestPostgresStoreGetFillsDefaultTimezone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	mock.ExpectQuery(`SELECT id, name, calendar_provider`).
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows(tenantColumns).
			AddRow(tenantID, "Sin Zona", "local", "", nil, nil, false, nil, nil))

	got, err := NewPostgresStore(mock, nil).WithDefaultTimezone("America/Argentina/Buenos_Aires").Get(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Timezone != "America/Argentina/Buenos_Aires" {
		t.Fatalf("expected default timezone, got %q", got.Timezone)
	}
}

type fakeSource struct {
	tenant  *Tenant
	gets    int
	updated CalendarProvider
}

func (f *fakeSource) Get(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	f.gets++
	t := *f.tenant
	return &t, nil
}

func (f *fakeSource) UpdateCalendarProvider(ctx context.Context, tenantID uuid.UUID, provider CalendarProvider) error {
	f.updated = provider
	f.tenant.CalendarProvider = provider
	return nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestResolverCachesAndInvalidates(t *testing.T) {
	mr, client := newTestRedis(t)
	tenantID := uuid.New()
	source := &fakeSource{tenant: &Tenant{ID: tenantID, Name: "Clinica", CalendarProvider: ProviderLocal, Timezone: "UTC"}}
	resolver := NewResolver(source, client, time.Minute, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mode, err := resolver.CalendarProvider(ctx, tenantID)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if mode != ProviderLocal {
			t.Fatalf("expected local, got %s", mode)
		}
	}
	if source.gets != 1 {
		t.Fatalf("expected one source read, got %d", source.gets)
	}
	if ttl := mr.TTL(cacheKey(tenantID)); ttl != time.Minute {
		t.Fatalf("expected cache ttl of 1m, got %s", ttl)
	}

	if _, err := resolver.SetCalendarProvider(ctx, tenantID, "external"); err != nil {
		t.Fatalf("set provider: %v", err)
	}
	if mr.Exists(cacheKey(tenantID)) {
		t.Fatal("expected cache entry to be invalidated")
	}
	mode, err := resolver.CalendarProvider(ctx, tenantID)
	if err != nil {
		t.Fatalf("resolve after update: %v", err)
	}
	if mode != ProviderExternal {
		t.Fatalf("expected external after update, got %s", mode)
	}
}

func TestResolverRejectsUnknownProvider(t *testing.T) {
	source := &fakeSource{tenant: &Tenant{ID: uuid.New(), CalendarProvider: ProviderLocal}}
	resolver := NewResolver(source, nil, 0, logging.Discard())

	if _, err := resolver.SetCalendarProvider(context.Background(), source.tenant.ID, "outlook"); err == nil {
		t.Fatal("expected unknown provider to be rejected")
	}
	if source.updated != "" {
		t.Fatalf("source should not be updated, got %s", source.updated)
	}
}

func TestResolverSurvivesRedisOutage(t *testing.T) {
	mr, client := newTestRedis(t)
	tenantID := uuid.New()
	source := &fakeSource{tenant: &Tenant{ID: tenantID, CalendarProvider: ProviderExternal}}
	resolver := NewResolver(source, client, time.Minute, logging.Discard())
	mr.Close()

	mode, err := resolver.CalendarProvider(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("expected fallback to source, got %v", err)
	}
	if mode != ProviderExternal {
		t.Fatalf("expected external, got %s", mode)
	}
}

func TestTenantLocationFallback(t *testing.T) {
	if loc := (&Tenant{Timezone: "Mars/Olympus"}).Location(); loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", loc)
	}
	if (*Tenant)(nil).UsesExternalCalendar() {
		t.Fatal("nil tenant must not use external calendar")
	}
}
