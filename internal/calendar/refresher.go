package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduling-platform/internal/professionals"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// BlockCache is the persistence the refresher writes through.
type BlockCache interface {
	ReplaceDay(ctx context.Context, tenantID uuid.UUID, professionalID *uuid.UUID, day time.Time, blocks []Block) error
	ListRange(ctx context.Context, tenantID uuid.UUID, professionalIDs []uuid.UUID, from, to time.Time) ([]Block, error)
}

// Refresher pulls external events just before availability is computed and
// falls back to the cached copy when the provider is unreachable.
type Refresher struct {
	client  Client
	cache   BlockCache
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

func NewRefresher(client Client, cache BlockCache, logger *logging.Logger, m *metrics.SchedulingMetrics) *Refresher {
	if client == nil {
		client = NoopClient{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Refresher{client: client, cache: cache, logger: logger, metrics: m}
}

type source struct {
	professionalID *uuid.UUID
	calendarID     string
}

// BlocksForDay returns the busy blocks for the tenant day. Tenants in local
// mode get none. Provider failures are logged as sync warnings and the last
// cached blocks for that source are used instead.
func (r *Refresher) BlocksForDay(ctx context.Context, tenant *tenancy.Tenant, pros []professionals.Professional, day time.Time) ([]Block, error) {
	if !tenant.UsesExternalCalendar() || r.cache == nil {
		return nil, nil
	}
	from := scheduling.StartOfDay(day.In(tenant.Location()))
	to := from.AddDate(0, 0, 1)

	var sources []source
	if tenant.GlobalCalendarID != "" {
		sources = append(sources, source{calendarID: tenant.GlobalCalendarID})
	}
	ids := make([]uuid.UUID, 0, len(pros))
	for _, p := range pros {
		ids = append(ids, p.ID)
		if p.CalendarID != "" {
			id := p.ID
			sources = append(sources, source{professionalID: &id, calendarID: p.CalendarID})
		}
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src source) {
			defer wg.Done()
			r.refresh(ctx, tenant.ID, src, from, to)
		}(src)
	}
	wg.Wait()

	return r.cache.ListRange(ctx, tenant.ID, ids, from, to)
}

func (r *Refresher) refresh(ctx context.Context, tenantID uuid.UUID, src source, from, to time.Time) {
	events, err := r.client.ListEvents(ctx, src.calendarID, from, to)
	r.metrics.ObserveCalendarSync("list_events", err == nil)
	if err != nil {
		r.logger.Warn("external calendar refresh failed, using cached blocks",
			"tenant_id", tenantID,
			"calendar_id", src.calendarID,
			"error", &scheduling.ExternalSyncWarning{Op: "list_events", Err: err},
		)
		return
	}
	blocks := make([]Block, 0, len(events))
	for _, evt := range events {
		if evt.IsMirror() {
			continue
		}
		blocks = append(blocks, Block{
			ProfessionalID:  src.professionalID,
			ExternalEventID: evt.ID,
			Title:           evt.Summary,
			Start:           evt.Start,
			End:             evt.End,
			AllDay:          evt.AllDay,
		})
	}
	if err := r.cache.ReplaceDay(ctx, tenantID, src.professionalID, from, blocks); err != nil {
		r.logger.Error("external calendar cache write failed", "tenant_id", tenantID, "calendar_id", src.calendarID, "error", err)
	}
}
