package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Repository persists patients.
type Repository struct {
	db DB
}

// NewRepository creates a patient repository.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("patients: db required")
	}
	return &Repository{db: db}
}

const patientColumns = `id, tenant_id, phone, first_name, last_name, document_id, insurance, status, created_at`

// Get loads a patient in the tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &scheduling.NotFoundError{Kind: "patient", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("patients: get: %w", err)
	}
	return p, nil
}

// FindByPhone returns the tenant's patient with that phone, or nil when none exists.
func (r *Repository) FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE tenant_id = $1 AND phone = $2`, tenantID, phone))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patients: find by phone: %w", err)
	}
	return p, nil
}

// Create inserts a new patient.
func (r *Repository) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = StatusGuest
	}
	p.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO patients (id, tenant_id, phone, first_name, last_name, document_id, insurance, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.TenantID, p.Phone, p.FirstName, p.LastName, p.DocumentID, p.Insurance, string(p.Status), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("patients: create: %w", err)
	}
	return nil
}

// Complete stores the merged identity and promotes the patient to active.
func (r *Repository) Complete(ctx context.Context, p *Patient) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE patients
		SET first_name = $3, last_name = $4, document_id = $5, insurance = $6, status = 'active', updated_at = now()
		WHERE tenant_id = $1 AND id = $2`,
		p.TenantID, p.ID, p.FirstName, p.LastName, p.DocumentID, p.Insurance)
	if err != nil {
		return fmt.Errorf("patients: complete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &scheduling.NotFoundError{Kind: "patient", ID: p.ID.String()}
	}
	p.Status = StatusActive
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var status string
	if err := row.Scan(&p.ID, &p.TenantID, &p.Phone, &p.FirstName, &p.LastName, &p.DocumentID, &p.Insurance, &status, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}
