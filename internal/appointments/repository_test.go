package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
)

var appointmentCols = []string{
	"id", "tenant_id", "patient_id", "professional_id", "treatment_code", "starts_at", "ends_at",
	"duration_minutes", "status", "source", "urgency", "notes", "external_event_id", "external_calendar_id",
	"sync_status", "created_at", "updated_at",
}

func appointmentRow(a Appointment) []any {
	return []any{
		a.ID, a.TenantID, a.PatientID, a.ProfessionalID, a.TreatmentCode, a.StartsAt, a.EndsAt,
		a.DurationMinutes, string(a.Status), string(a.Source), string(a.Urgency), a.Notes, a.ExternalEventID, a.ExternalCalendarID,
		string(a.SyncStatus), a.CreatedAt, a.UpdatedAt,
	}
}

func sampleAppointment() Appointment {
	start := time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)
	return Appointment{
		ID:              uuid.New(),
		TenantID:        uuid.New(),
		PatientID:       uuid.New(),
		ProfessionalID:  uuid.New(),
		TreatmentCode:   "checkup",
		StartsAt:        start,
		EndsAt:          start.Add(30 * time.Minute),
		DurationMinutes: 30,
		Status:          StatusScheduled,
		Source:          SourceAI,
		Urgency:         treatments.UrgencyNormal,
		SyncStatus:      SyncPending,
		CreatedAt:       start.Add(-time.Hour),
		UpdatedAt:       start.Add(-time.Hour),
	}
}

func TestInsertWritesRowAndOutbox(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	appt := sampleAppointment()
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(appt.ID, appt.TenantID, appt.PatientID, appt.ProfessionalID, "checkup", appt.StartsAt, appt.EndsAt,
			30, "scheduled", "ai", "normal", "", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), appt.TenantID, events.AppointmentAggregate(appt.ID), events.TypeAppointmentBooked, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	repo := NewRepository(mock)
	err = repo.Insert(context.Background(), &appt, events.AppointmentBookedV1{AppointmentID: appt.ID, TenantID: appt.TenantID})
	require.NoError(t, err)
	assert.Equal(t, created, appt.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMapsExclusionViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	appt := sampleAppointment()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO appointments").
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"})
	mock.ExpectRollback()

	err = NewRepository(mock).Insert(context.Background(), &appt)
	assert.ErrorIs(t, err, ErrOverlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID, id := uuid.New(), uuid.New()
	mock.ExpectQuery(`FROM appointments\s+WHERE tenant_id = \$1 AND id = \$2`).
		WithArgs(tenantID, id).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewRepository(mock).Get(context.Background(), tenantID, id)
	var nf *scheduling.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "appointment", nf.Kind)
}

func TestListOccupyingExcludesSelf(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	appt := sampleAppointment()
	from := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	exclude := uuid.New()

	mock.ExpectQuery(`status <> 'cancelled'`).
		WithArgs(appt.TenantID, []uuid.UUID{appt.ProfessionalID}, from, to, exclude).
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(appointmentRow(appt)...))

	got, err := NewRepository(mock).ListOccupying(context.Background(), appt.TenantID, []uuid.UUID{appt.ProfessionalID}, from, to, exclude)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, StatusScheduled, got[0].Status)
	assert.Equal(t, SourceAI, got[0].Source)
	assert.Equal(t, 30*time.Minute, got[0].Duration())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPatchStaleStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID, id := uuid.New(), uuid.New()
	status := StatusConfirmed
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE appointments\s+SET status = COALESCE\(\$4, status\)`).
		WithArgs(tenantID, id, "scheduled", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = NewRepository(mock).ApplyPatch(context.Background(), tenantID, id, StatusScheduled, Patch{Status: &status})
	assert.ErrorIs(t, err, ErrStaleStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPatchReturnsUpdatedRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	appt := sampleAppointment()
	appt.Status = StatusCancelled
	status := StatusCancelled

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE appointments`).
		WithArgs(appt.TenantID, appt.ID, "scheduled", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols).AddRow(appointmentRow(appt)...))
	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), appt.TenantID, events.AppointmentAggregate(appt.ID), events.TypeAppointmentCancelled, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	got, err := NewRepository(mock).ApplyPatch(context.Background(), appt.TenantID, appt.ID, StatusScheduled, Patch{Status: &status},
		events.AppointmentCancelledV1{AppointmentID: appt.ID, TenantID: appt.TenantID})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID, id := uuid.New(), uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM appointments").
		WithArgs(tenantID, id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err = NewRepository(mock).Delete(context.Background(), tenantID, id)
	var nf *scheduling.NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSync(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID, id := uuid.New(), uuid.New()
	mock.ExpectExec("UPDATE appointments").
		WithArgs(tenantID, id, "synced", "evt-1", "dr-ana").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = NewRepository(mock).UpdateSync(context.Background(), tenantID, id, SyncState{Status: SyncSynced, EventID: "evt-1", CalendarID: "dr-ana"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordMirrorOnlyForLiveSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID, id, proID := uuid.New(), uuid.New(), uuid.New()
	start := time.Date(2025, 6, 3, 14, 0, 0, 0, time.UTC)
	state := SyncState{Status: SyncSynced, EventID: "evt-1", CalendarID: "dr-ana"}
	repo := NewRepository(mock)

	mock.ExpectExec(`status IN \('scheduled', 'confirmed'\)`).
		WithArgs(tenantID, id, "synced", "evt-1", "dr-ana", proID, start).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := repo.RecordMirror(context.Background(), tenantID, id, proID, start, state)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE appointments").
		WithArgs(tenantID, id, "synced", "evt-1", "dr-ana", proID, start).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = repo.RecordMirror(context.Background(), tenantID, id, proID, start, state)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusMachine(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusNoShow, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusConfirmed, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if !StatusCompleted.Terminal() || StatusConfirmed.Terminal() {
		t.Error("terminal states wrong")
	}
	if StatusCancelled.Occupies() || !StatusNoShow.Occupies() {
		t.Error("occupancy wrong")
	}
}
