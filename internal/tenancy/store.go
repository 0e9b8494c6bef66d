package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads and writes the tenants table.
type PostgresStore struct {
	db           DB
	defaultBreak *scheduling.Interval
	defaultZone  string
}

// NewPostgresStore creates a tenant store. defaultBreak applies to tenants that
// keep the midday break enabled without overriding its bounds.
func NewPostgresStore(db DB, defaultBreak *scheduling.Interval) *PostgresStore {
	if db == nil {
		panic("tenancy: db required")
	}
	return &PostgresStore{db: db, defaultBreak: defaultBreak}
}

// WithDefaultTimezone sets the zone used for tenants stored without one.
func (s *PostgresStore) WithDefaultTimezone(name string) *PostgresStore {
	s.defaultZone = name
	return s
}

const selectTenantSQL = `
	SELECT id, name, calendar_provider, timezone, global_calendar_id, notification_email,
	       midday_break_enabled, midday_break_start, midday_break_end
	FROM tenants
	WHERE id = $1`

// Get loads a tenant by id.
func (s *PostgresStore) Get(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	var (
		t            Tenant
		provider     string
		globalCal    *string
		notifyEmail  *string
		breakEnabled bool
		breakStart   *string
		breakEnd     *string
	)
	err := s.db.QueryRow(ctx, selectTenantSQL, tenantID).Scan(
		&t.ID, &t.Name, &provider, &t.Timezone, &globalCal, &notifyEmail,
		&breakEnabled, &breakStart, &breakEnd,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &scheduling.NotFoundError{Kind: "tenant", ID: tenantID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("tenancy: get tenant: %w", err)
	}
	if t.Timezone == "" {
		t.Timezone = s.defaultZone
	}
	if t.CalendarProvider, err = ParseCalendarProvider(provider); err != nil {
		return nil, err
	}
	if globalCal != nil {
		t.GlobalCalendarID = *globalCal
	}
	if notifyEmail != nil {
		t.NotificationEmail = *notifyEmail
	}
	if breakEnabled {
		t.MiddayBreak, err = s.middayBreak(breakStart, breakEnd)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (s *PostgresStore) middayBreak(start, end *string) (*scheduling.Interval, error) {
	if start == nil || end == nil {
		if s.defaultBreak == nil {
			return nil, nil
		}
		b := *s.defaultBreak
		return &b, nil
	}
	from, err := scheduling.ParseTimeOfDay(*start)
	if err != nil {
		return nil, fmt.Errorf("tenancy: midday break start: %w", err)
	}
	to, err := scheduling.ParseTimeOfDay(*end)
	if err != nil {
		return nil, fmt.Errorf("tenancy: midday break end: %w", err)
	}
	return &scheduling.Interval{Start: from, End: to}, nil
}

// UpdateCalendarProvider persists a new provider mode.
func (s *PostgresStore) UpdateCalendarProvider(ctx context.Context, tenantID uuid.UUID, provider CalendarProvider) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE tenants
		SET calendar_provider = $2, updated_at = now()
		WHERE id = $1`, tenantID, string(provider))
	if err != nil {
		return fmt.Errorf("tenancy: update calendar provider: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &scheduling.NotFoundError{Kind: "tenant", ID: tenantID.String()}
	}
	return nil
}
