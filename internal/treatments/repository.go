package treatments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads treatment types.
type Repository struct {
	db DB
}

// NewRepository creates a treatment repository.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("treatments: db required")
	}
	return &Repository{db: db}
}

const treatmentColumns = `id, tenant_id, code, name, default_duration_minutes, min_duration_minutes, max_duration_minutes, active, bookable`

// GetByCode returns an active, bookable treatment. Anything else is not found.
func (r *Repository) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*TreatmentType, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	t, err := scanTreatment(r.db.QueryRow(ctx, `
		SELECT `+treatmentColumns+`
		FROM treatment_types
		WHERE tenant_id = $1 AND code = $2 AND active = TRUE AND bookable = TRUE`, tenantID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &scheduling.NotFoundError{Kind: "treatment", ID: code}
	}
	if err != nil {
		return nil, fmt.Errorf("treatments: get by code: %w", err)
	}
	return t, nil
}

// List returns every treatment of the tenant ordered by name.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]TreatmentType, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+treatmentColumns+`
		FROM treatment_types
		WHERE tenant_id = $1
		ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("treatments: list: %w", err)
	}
	defer rows.Close()

	var out []TreatmentType
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, fmt.Errorf("treatments: scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTreatment(row pgx.Row) (*TreatmentType, error) {
	var t TreatmentType
	var defMins, minMins, maxMins int32
	if err := row.Scan(&t.ID, &t.TenantID, &t.Code, &t.Name, &defMins, &minMins, &maxMins, &t.Active, &t.Bookable); err != nil {
		return nil, err
	}
	t.DefaultDuration = time.Duration(defMins) * time.Minute
	t.MinDuration = time.Duration(minMins) * time.Minute
	t.MaxDuration = time.Duration(maxMins) * time.Minute
	return &t, nil
}
