package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)

	now := time.Now().UTC()
	id := uuid.New()
	tenantID := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "tenant_id", "aggregate", "event_type", "payload", "attempts", "created_at"}).
		AddRow(id, tenantID, "appointment:1", TypeAppointmentBooked, []byte(`{"payload":{}}`), 2, now)
	mock.ExpectQuery("UPDATE outbox").WithArgs(int32(10), "60 seconds").WillReturnRows(rows)

	entries, err := store.Claim(context.Background(), 10)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].Attempts != 2 {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	retryAt := now.Add(time.Minute)
	mock.ExpectExec("SET attempts = attempts \\+ 1, last_error = \\$2, next_attempt_at = \\$3").
		WithArgs(id, "boom", retryAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkFailed(context.Background(), id, errors.New("boom"), retryAt); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	mock.ExpectExec("dead_at = now\\(\\)").
		WithArgs(id, "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkFailed(context.Background(), id, errors.New("boom"), time.Time{}); err != nil {
		t.Fatalf("mark dead: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type memorySource struct {
	entries   []OutboxEntry
	delivered []uuid.UUID
	failed    map[uuid.UUID]time.Time
}

func (m *memorySource) Claim(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	out := m.entries
	m.entries = nil
	return out, nil
}

func (m *memorySource) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	m.delivered = append(m.delivered, id)
	return true, nil
}

func (m *memorySource) MarkFailed(ctx context.Context, id uuid.UUID, cause error, retryAt time.Time) error {
	if m.failed == nil {
		m.failed = map[uuid.UUID]time.Time{}
	}
	m.failed[id] = retryAt
	return nil
}

func TestDelivererRetriesWithBackoff(t *testing.T) {
	ok := OutboxEntry{ID: uuid.New(), EventType: TypeAppointmentBooked}
	flaky := OutboxEntry{ID: uuid.New(), EventType: TypeAppointmentCancelled, Attempts: 2}
	exhausted := OutboxEntry{ID: uuid.New(), EventType: TypeAppointmentCancelled, Attempts: 4}
	source := &memorySource{entries: []OutboxEntry{ok, flaky, exhausted}}

	handler := HandlerFunc(func(ctx context.Context, entry OutboxEntry) error {
		if entry.EventType == TypeAppointmentCancelled {
			return errors.New("calendar unavailable")
		}
		return nil
	})

	fixed := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	d := NewDeliverer(source, handler, logging.Discard()).WithRetry(5, 10*time.Second)
	d.now = func() time.Time { return fixed }

	if got := d.Drain(context.Background()); got != 1 {
		t.Fatalf("expected 1 delivered, got %d", got)
	}
	if len(source.delivered) != 1 || source.delivered[0] != ok.ID {
		t.Fatalf("unexpected delivered %v", source.delivered)
	}
	if want := fixed.Add(40 * time.Second); !source.failed[flaky.ID].Equal(want) {
		t.Fatalf("third attempt should back off 40s, got %s", source.failed[flaky.ID])
	}
	if !source.failed[exhausted.ID].IsZero() {
		t.Fatalf("exhausted entry should be parked, got retry at %s", source.failed[exhausted.ID])
	}
}

func TestBackoffCapped(t *testing.T) {
	d := NewDeliverer(nil, nil, logging.Discard()).WithRetry(100, time.Minute)
	if got := d.backoff(1); got != time.Minute {
		t.Fatalf("first backoff should be base delay, got %s", got)
	}
	if got := d.backoff(30); got != time.Hour {
		t.Fatalf("backoff should cap at 1h, got %s", got)
	}
}

func TestMuxFanOut(t *testing.T) {
	mux := NewMux()
	var calls []string
	mux.Register(HandlerFunc(func(ctx context.Context, e OutboxEntry) error {
		calls = append(calls, "sync")
		return nil
	}), TypeAppointmentBooked, TypeAppointmentCancelled)
	mux.Register(HandlerFunc(func(ctx context.Context, e OutboxEntry) error {
		calls = append(calls, "notify")
		return errors.New("smtp down")
	}), TypeAppointmentBooked)

	err := mux.Handle(context.Background(), OutboxEntry{EventType: TypeAppointmentBooked})
	if err == nil {
		t.Fatal("expected joined handler error")
	}
	if len(calls) != 2 {
		t.Fatalf("expected both handlers to run, got %v", calls)
	}

	if err := mux.Handle(context.Background(), OutboxEntry{EventType: "unknown.v1"}); err != nil {
		t.Fatalf("unsubscribed types should be acknowledged, got %v", err)
	}
}
