package professionals

import (
	"context"
	"encoding/json"
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
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides tenant-scoped access to professionals.
type Repository struct {
	db DB
}

// NewRepository creates a repository.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("professionals: db required")
	}
	return &Repository{db: db}
}

const professionalColumns = `id, tenant_id, first_name, last_name, specialty, active, calendar_id, working_hours`

// ListActive returns active professionals in booking order (last name, first
// name, id). First-fit selection walks this order.
func (r *Repository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]Professional, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+professionalColumns+`
		FROM professionals
		WHERE tenant_id = $1 AND active = TRUE
		ORDER BY last_name, first_name, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("professionals: list active: %w", err)
	}
	defer rows.Close()
	return scanProfessionals(rows)
}

// List returns every professional including inactive ones.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]Professional, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+professionalColumns+`
		FROM professionals
		WHERE tenant_id = $1
		ORDER BY last_name, first_name, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("professionals: list: %w", err)
	}
	defer rows.Close()
	return scanProfessionals(rows)
}

// Get loads a professional in the tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (*Professional, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+professionalColumns+`
		FROM professionals
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	p, err := scanProfessional(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &scheduling.NotFoundError{Kind: "professional", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("professionals: get: %w", err)
	}
	return p, nil
}

// FindByName returns the active professionals whose name matches query.
func (r *Repository) FindByName(ctx context.Context, tenantID uuid.UUID, query string) ([]Professional, error) {
	active, err := r.ListActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var out []Professional
	for _, p := range active {
		if p.MatchesName(query) {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpdateWorkingHours validates and stores a new weekly policy.
func (r *Repository) UpdateWorkingHours(ctx context.Context, tenantID, id uuid.UUID, hours scheduling.WorkingHours) error {
	if err := hours.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(hours)
	if err != nil {
		return fmt.Errorf("professionals: marshal working hours: %w", err)
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE professionals
		SET working_hours = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, data)
	if err != nil {
		return fmt.Errorf("professionals: update working hours: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &scheduling.NotFoundError{Kind: "professional", ID: id.String()}
	}
	return nil
}

// SetActive toggles whether the professional is offered.
func (r *Repository) SetActive(ctx context.Context, tenantID, id uuid.UUID, active bool) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE professionals
		SET active = $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2`, tenantID, id, active)
	if err != nil {
		return fmt.Errorf("professionals: set active: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &scheduling.NotFoundError{Kind: "professional", ID: id.String()}
	}
	return nil
}

func scanProfessionals(rows pgx.Rows) ([]Professional, error) {
	var out []Professional
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, fmt.Errorf("professionals: scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProfessional(row pgx.Row) (*Professional, error) {
	var (
		p         Professional
		specialty *string
		calendar  *string
		hours     []byte
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.FirstName, &p.LastName, &specialty, &p.Active, &calendar, &hours); err != nil {
		return nil, err
	}
	if specialty != nil {
		p.Specialty = *specialty
	}
	if calendar != nil {
		p.CalendarID = *calendar
	}
	p.WorkingHours = scheduling.DefaultWorkingHours()
	if len(hours) > 0 && string(hours) != "null" {
		var wh scheduling.WorkingHours
		if err := json.Unmarshal(hours, &wh); err != nil {
			return nil, fmt.Errorf("decode working hours: %w", err)
		}
		p.WorkingHours = wh
	}
	return &p, nil
}
