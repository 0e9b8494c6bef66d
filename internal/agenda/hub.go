// Package agenda pushes appointment changes to staff dashboards over websocket.
package agenda

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// EventType is the message kind the dashboard switches on.
type EventType string

const (
	EventNewAppointment       EventType = "NEW_APPOINTMENT"
	EventAppointmentUpdated   EventType = "APPOINTMENT_UPDATED"
	EventAppointmentCancelled EventType = "APPOINTMENT_CANCELLED"
	EventAppointmentDeleted   EventType = "APPOINTMENT_DELETED"
)

// Event is one agenda change.
type Event struct {
	Type           EventType  `json:"type"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	ProfessionalID uuid.UUID  `json:"professional_id,omitempty"`
	PatientID      uuid.UUID  `json:"patient_id,omitempty"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Status         string     `json:"status,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// controlMessage covers non-event frames (ready, pong).
type controlMessage struct {
	Type string `json:"type"`
}

const subscriberBuffer = 32

type subscriber struct {
	events chan Event
}

// Hub fans events out to the subscribers of each tenant.
type Hub struct {
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{logger: logger, subs: make(map[uuid.UUID]map[*subscriber]struct{})}
}

// Subscribe registers a listener for one tenant. The returned func
// unregisters it and closes the channel.
func (h *Hub) Subscribe(tenantID uuid.UUID) (<-chan Event, func()) {
	sub := &subscriber{events: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[tenantID] == nil {
		h.subs[tenantID] = make(map[*subscriber]struct{})
	}
	h.subs[tenantID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.events, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[tenantID], sub)
			if len(h.subs[tenantID]) == 0 {
				delete(h.subs, tenantID)
			}
			h.mu.Unlock()
			close(sub.events)
		})
	}
}

// Publish delivers evt to the tenant's subscribers. Slow subscribers lose
// events rather than stall the caller.
func (h *Hub) Publish(tenantID uuid.UUID, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[tenantID] {
		select {
		case sub.events <- evt:
		default:
			h.logger.Warn("agenda: subscriber buffer full, dropping event",
				"tenant_id", tenantID, "appointment_id", evt.AppointmentID, "type", evt.Type)
		}
	}
}

// Subscribers reports how many listeners a tenant has.
func (h *Hub) Subscribers(tenantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

// HandleWebSocket streams the caller tenant's agenda events. The tenant comes
// from the request context set by the auth middleware.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, tenantID)
	}).ServeHTTP(w, r)
}

func (h *Hub) serveWS(conn *websocket.Conn, tenantID uuid.UUID) {
	events, unsubscribe := h.Subscribe(tenantID)
	defer unsubscribe()

	var writeMu sync.Mutex
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return websocket.JSON.Send(conn, v)
	}

	if err := send(controlMessage{Type: "ready"}); err != nil {
		return
	}
	h.logger.Info("agenda: subscriber connected", "tenant_id", tenantID)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg controlMessage
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				h.logger.Debug("agenda: connection closed", "tenant_id", tenantID, "error", err)
				return
			}
			if msg.Type == "ping" {
				_ = send(controlMessage{Type: "pong"})
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := send(evt); err != nil {
				return
			}
		}
	}
}
