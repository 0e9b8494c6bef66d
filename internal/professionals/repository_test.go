package professionals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
)

var columns = []string{"id", "tenant_id", "first_name", "last_name", "specialty", "active", "calendar_id", "working_hours"}

func strPtr(s string) *string { return &s }

func TestListActiveDecodesWorkingHours(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	tenantID := uuid.New()
	ana, luis := uuid.New(), uuid.New()
	split := []byte(`{"monday":{"enabled":true,"slots":[{"start":"09:00","end":"13:00"},{"start":"15:00","end":"19:00"}]}}`)
	mock.ExpectQuery(`FROM professionals\s+WHERE tenant_id = \$1 AND active = TRUE`).
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow(ana, tenantID, "Ana", "Alvarez", strPtr("odontologia"), true, strPtr("ana@group.calendar.google.com"), split).
			AddRow(luis, tenantID, "Luis", "Benitez", nil, true, nil, nil))

	repo := NewRepository(mock)
	got, err := repo.ListActive(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 professionals, got %d", len(got))
	}
	monday := got[0].WorkingHours.ForDay(time.Monday)
	if monday.IsOpen(scheduling.At(14, 0)) || !monday.IsOpen(scheduling.At(15, 0)) {
		t.Fatalf("split shift not decoded: %+v", monday)
	}
	if got[0].CalendarID == "" || got[0].Specialty != "odontologia" {
		t.Fatalf("optional columns not decoded: %+v", got[0])
	}
	if !got[1].WorkingHours.ForDay(time.Tuesday).IsOpen(scheduling.At(9, 0)) {
		t.Fatal("missing working hours should fall back to the default policy")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateWorkingHoursValidatesFirst(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	hours := scheduling.DefaultWorkingHours()
	hours.Friday.Slots = append(hours.Friday.Slots, scheduling.Interval{Start: scheduling.At(17, 0), End: scheduling.At(20, 0)})

	err = NewRepository(mock).UpdateWorkingHours(context.Background(), uuid.New(), uuid.New(), hours)
	var policyErr *scheduling.PolicyError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected policy error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestUpdateWorkingHoursNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	tenantID, id := uuid.New(), uuid.New()
	mock.ExpectExec(`UPDATE professionals`).
		WithArgs(tenantID, id, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewRepository(mock).UpdateWorkingHours(context.Background(), tenantID, id, scheduling.DefaultWorkingHours())
	var notFound *scheduling.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMatchesName(t *testing.T) {
	p := Professional{FirstName: "María José", LastName: "Pereyra"}
	for _, q := range []string{"maría josé pereyra", "Dra. Pereyra", "pereyra", "  MARÍA   JOSÉ "} {
		if !p.MatchesName(q) {
			t.Fatalf("expected %q to match", q)
		}
	}
	if p.MatchesName("Gomez") || p.MatchesName("  ") {
		t.Fatal("unexpected match")
	}
}
