// Package audit keeps an append-only trail of appointment and configuration changes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Action names an audited change.
type Action string

const (
	ActionAppointmentBooked        Action = "appointment.booked"
	ActionAppointmentCancelled     Action = "appointment.cancelled"
	ActionAppointmentRescheduled   Action = "appointment.rescheduled"
	ActionAppointmentStatusChanged Action = "appointment.status_changed"
	ActionAppointmentUpdated       Action = "appointment.updated"
	ActionAppointmentDeleted       Action = "appointment.deleted"
	ActionCalendarProviderChanged  Action = "tenant.calendar_provider_changed"
	ActionWorkingHoursUpdated      Action = "professional.working_hours_updated"
)

// Entry is one immutable audit record.
type Entry struct {
	ID            string          `json:"id"`
	TenantID      uuid.UUID       `json:"tenant_id"`
	Action        Action          `json:"action"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Details is the common shape stored in Entry.Details.
type Details struct {
	From             string     `json:"from,omitempty"`
	To               string     `json:"to,omitempty"`
	ProfessionalID   string     `json:"professional_id,omitempty"`
	StartsAt         *time.Time `json:"starts_at,omitempty"`
	PreviousStartsAt *time.Time `json:"previous_starts_at,omitempty"`
	Source           string     `json:"source,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

// Service writes and reads the audit trail.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	if db == nil {
		panic("audit: db required")
	}
	return &Service{db: db}
}

// Record stores an audit entry.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Details) == 0 {
		entry.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO appointment_audit (
			id, tenant_id, action, appointment_id, actor, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.Action,
		nullString(entry.AppointmentID),
		nullString(entry.Actor),
		[]byte(entry.Details),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", entry.Action, err)
	}
	return nil
}

// RecordChange is a shorthand for entries carrying Details.
func (s *Service) RecordChange(ctx context.Context, tenantID uuid.UUID, action Action, appointmentID, actor string, details Details) error {
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	return s.Record(ctx, Entry{
		TenantID:      tenantID,
		Action:        action,
		AppointmentID: appointmentID,
		Actor:         actor,
		Details:       data,
	})
}

// Filter narrows List. TenantID is required.
type Filter struct {
	TenantID      uuid.UUID
	Actions       []Action
	AppointmentID string
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// List returns the newest entries first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, tenant_id, action, appointment_id, actor, details, created_at
		FROM appointment_audit
		WHERE tenant_id = $1
	`
	args := []any{filter.TenantID}
	argIdx := 2

	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(actions))
		argIdx++
	}
	if filter.AppointmentID != "" {
		query += fmt.Sprintf(" AND appointment_id = $%d", argIdx)
		args = append(args, filter.AppointmentID)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	if !filter.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var apptID, actor sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Action, &apptID, &actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.AppointmentID = apptID.String
		e.Actor = actor.String
		e.Details = details
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
