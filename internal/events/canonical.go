package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// CanonicalEvent is a versioned domain event stored in the outbox.
type CanonicalEvent interface {
	EventType() string
}

// Envelope is the JSON document stored in outbox.payload.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// OccurredAt converts the stored microsecond timestamp.
func (e Envelope) OccurredAt() time.Time {
	return time.UnixMicro(e.TimestampMicros).UTC()
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errMissingTenant    = errors.New("events: tenant is required")
	errNilEvent         = errors.New("events: canonical event required")
	nowFunc             = time.Now
)

type correlationKey struct{}

// WithCorrelationID tags events appended under ctx. Without it the chi
// request id is used, so outbox rows can be traced back to the HTTP call.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id events appended under ctx will carry.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return middleware.GetReqID(ctx)
}

// Seal builds the envelope for evt.
func Seal(ctx context.Context, tenantID uuid.UUID, aggregate string, evt CanonicalEvent) (Envelope, error) {
	if tenantID == uuid.Nil {
		return Envelope{}, errMissingTenant
	}
	aggregate = strings.TrimSpace(aggregate)
	if aggregate == "" {
		return Envelope{}, errMissingAggregate
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	return Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		TenantID:        tenantID,
		Aggregate:       aggregate,
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		CorrelationID:   strings.TrimSpace(CorrelationID(ctx)),
		Payload:         payload,
	}, nil
}

// Execer is satisfied by pgx pools, connections and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const insertOutboxSQL = `
	INSERT INTO outbox (id, tenant_id, aggregate, event_type, payload)
	VALUES ($1, $2, $3, $4, $5)`

// Append writes evts to the outbox through exec, which should be the
// transaction that changed the aggregate. Events keep their order.
func Append(ctx context.Context, exec Execer, tenantID uuid.UUID, aggregate string, evts ...CanonicalEvent) ([]Envelope, error) {
	if exec == nil {
		return nil, fmt.Errorf("events: exec required")
	}
	out := make([]Envelope, 0, len(evts))
	for _, evt := range evts {
		env, err := Seal(ctx, tenantID, aggregate, evt)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("events: marshal envelope: %w", err)
		}
		if _, err := exec.Exec(ctx, insertOutboxSQL, env.EventID, env.TenantID, env.Aggregate, env.EventType, data); err != nil {
			return nil, fmt.Errorf("events: append %s: %w", env.EventType, err)
		}
		out = append(out, env)
	}
	return out, nil
}
