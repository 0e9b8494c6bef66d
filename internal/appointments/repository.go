package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
)

// exclusionViolation is the SQLSTATE raised by the no-overlap constraint.
const exclusionViolation = "23P01"

// DB abstracts the pgx pool for testing.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists appointments. Every write that changes what the
// external calendar should show appends its outbox events in the same
// transaction.
type Repository struct {
	db DB
}

// NewRepository creates a repository.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("appointments: db required")
	}
	return &Repository{db: db}
}

const appointmentColumns = `id, tenant_id, patient_id, professional_id, treatment_code, starts_at, ends_at,
	duration_minutes, status, source, urgency, notes, external_event_id, external_calendar_id,
	sync_status, created_at, updated_at`

// ListOccupying returns the non-cancelled appointments of the given
// professionals overlapping [from, to). exclude (may be uuid.Nil) is left out
// so a reschedule does not collide with itself.
func (r *Repository) ListOccupying(ctx context.Context, tenantID uuid.UUID, professionalIDs []uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND professional_id = ANY($2)
		  AND status <> 'cancelled'
		  AND starts_at < $4 AND ends_at > $3
		  AND id <> $5
		ORDER BY starts_at`, tenantID, professionalIDs, from, to, exclude)
	if err != nil {
		return nil, fmt.Errorf("appointments: list occupying: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// Get loads one appointment in the tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &scheduling.NotFoundError{Kind: "appointment", ID: id.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return appt, nil
}

// List returns appointments matching filter, ordered by start.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Appointment, error) {
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
		  AND ($2::timestamptz IS NULL OR ends_at > $2)
		  AND ($3::timestamptz IS NULL OR starts_at < $3)
		  AND ($4::uuid IS NULL OR professional_id = $4)
		  AND ($5::uuid IS NULL OR patient_id = $5)
		  AND (cardinality($6::text[]) = 0 OR status = ANY($6))
		ORDER BY starts_at
		LIMIT $7`, tenantID, from, to, filter.ProfessionalID, filter.PatientID, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// Insert writes a new appointment and its events. A concurrent booking that
// already holds the time surfaces as ErrOverlap.
func (r *Repository) Insert(ctx context.Context, appt *Appointment, evts ...events.CanonicalEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, patient_id, professional_id, treatment_code, starts_at, ends_at,
			duration_minutes, status, source, urgency, notes, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		appt.ID, appt.TenantID, appt.PatientID, appt.ProfessionalID, appt.TreatmentCode, appt.StartsAt, appt.EndsAt,
		appt.DurationMinutes, string(appt.Status), string(appt.Source), string(appt.Urgency), appt.Notes, string(appt.SyncStatus),
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return mapWriteError("insert", err)
	}
	if err := appendEvents(ctx, tx, appt.TenantID, appt.ID, evts); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit insert: %w", err)
	}
	return nil
}

// Move changes the time and professional of a scheduled or confirmed
// appointment and marks its mirror pending.
func (r *Repository) Move(ctx context.Context, tenantID, id, professionalID uuid.UUID, start, end time.Time, evts ...events.CanonicalEvent) (*Appointment, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin move: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET professional_id = $3, starts_at = $4, ends_at = $5, sync_status = 'pending', updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status IN ('scheduled', 'confirmed')
		RETURNING `+appointmentColumns, tenantID, id, professionalID, start, end)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStaleStatus
	}
	if err != nil {
		return nil, mapWriteError("move", err)
	}
	if err := appendEvents(ctx, tx, tenantID, id, evts); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit move: %w", err)
	}
	return appt, nil
}

// ApplyPatch applies patch if the row is still in expected status.
func (r *Repository) ApplyPatch(ctx context.Context, tenantID, id uuid.UUID, expected Status, patch Patch, evts ...events.CanonicalEvent) (*Appointment, error) {
	var status, urgency *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	if patch.Urgency != nil {
		u := string(*patch.Urgency)
		urgency = &u
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin patch: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = COALESCE($4, status),
		    notes = COALESCE($5, notes),
		    urgency = COALESCE($6, urgency),
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND status = $3
		RETURNING `+appointmentColumns, tenantID, id, string(expected), status, patch.Notes, urgency)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStaleStatus
	}
	if err != nil {
		return nil, mapWriteError("patch", err)
	}
	if err := appendEvents(ctx, tx, tenantID, id, evts); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit patch: %w", err)
	}
	return appt, nil
}

// Delete removes the row for good.
func (r *Repository) Delete(ctx context.Context, tenantID, id uuid.UUID, evts ...events.CanonicalEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM appointments WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("appointments: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &scheduling.NotFoundError{Kind: "appointment", ID: id.String()}
	}
	if err := appendEvents(ctx, tx, tenantID, id, evts); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit delete: %w", err)
	}
	return nil
}

// UpdateSync records the external mirror state. A missing row is not an
// error: the appointment may have been deleted meanwhile.
func (r *Repository) UpdateSync(ctx context.Context, tenantID, id uuid.UUID, state SyncState) error {
	_, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET sync_status = $3, external_event_id = $4, external_calendar_id = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, string(state.Status), state.EventID, state.CalendarID)
	if err != nil {
		return fmt.Errorf("appointments: update sync: %w", err)
	}
	return nil
}

// RecordMirror stores a freshly created mirror, but only while the row is
// still live at the slot the mirror was made for. It reports false when the
// appointment was cancelled, moved or deleted meanwhile; the caller then owns
// the orphaned external event.
func (r *Repository) RecordMirror(ctx context.Context, tenantID, id, professionalID uuid.UUID, startsAt time.Time, state SyncState) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET sync_status = $3, external_event_id = $4, external_calendar_id = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND status IN ('scheduled', 'confirmed')
		  AND professional_id = $6 AND starts_at = $7`,
		tenantID, id, string(state.Status), state.EventID, state.CalendarID, professionalID, startsAt)
	if err != nil {
		return false, fmt.Errorf("appointments: record mirror: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func appendEvents(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID, evts []events.CanonicalEvent) error {
	if _, err := events.Append(ctx, tx, tenantID, events.AppointmentAggregate(id), evts...); err != nil {
		return fmt.Errorf("appointments: %w", err)
	}
	return nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return ErrOverlap
	}
	return fmt.Errorf("appointments: %s: %w", op, err)
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, *appt)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                               Appointment
		status, source, urgency, synced string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.PatientID, &a.ProfessionalID, &a.TreatmentCode, &a.StartsAt, &a.EndsAt,
		&a.DurationMinutes, &status, &source, &urgency, &a.Notes, &a.ExternalEventID, &a.ExternalCalendarID,
		&synced, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.Source = Source(source)
	a.Urgency = treatments.Urgency(urgency)
	a.SyncStatus = SyncStatus(synced)
	return &a, nil
}
