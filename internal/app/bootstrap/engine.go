package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-scheduling-platform/internal/agenda"
	"github.com/wolfman30/clinic-scheduling-platform/internal/appointments"
	"github.com/wolfman30/clinic-scheduling-platform/internal/audit"
	"github.com/wolfman30/clinic-scheduling-platform/internal/calendar"
	appconfig "github.com/wolfman30/clinic-scheduling-platform/internal/config"
	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/locking"
	"github.com/wolfman30/clinic-scheduling-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduling-platform/internal/patients"
	"github.com/wolfman30/clinic-scheduling-platform/internal/professionals"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/internal/tenancy"
	"github.com/wolfman30/clinic-scheduling-platform/internal/treatments"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// Database is the pgx surface shared by every repository. *pgxpool.Pool
// satisfies it.
type Database interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EngineDeps are the connections the engine is built on. Redis, Calendar and
// Registerer are optional.
type EngineDeps struct {
	DB         Database
	SQL        *sql.DB
	Redis      *redis.Client
	Calendar   calendar.Client
	Registerer prometheus.Registerer
	Logger     *logging.Logger
}

// Engine holds the wired scheduling components shared by the API and the
// outbox worker.
type Engine struct {
	Tenants       *tenancy.Resolver
	Appointments  *appointments.Repository
	Professionals *professionals.Repository
	Patients      *patients.Repository
	Treatments    *treatments.Repository
	Blocks        *calendar.BlockStore
	Calendar      calendar.Client
	Audit         *audit.Service
	Agenda        *agenda.Hub
	Metrics       *metrics.SchedulingMetrics
	Outbox        *events.OutboxStore
	Processed     *events.ProcessedStore
	Service       *appointments.Service
}

// BuildEngine wires repositories, caches and the appointment service from config.
func BuildEngine(cfg *appconfig.Config, deps EngineDeps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.DB == nil || deps.SQL == nil {
		return nil, fmt.Errorf("bootstrap: database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	client := deps.Calendar
	if client == nil {
		client = calendar.NoopClient{}
	}

	settings, err := SchedulingSettings(cfg)
	if err != nil {
		return nil, err
	}
	lunch, err := MiddayBreak(cfg)
	if err != nil {
		return nil, err
	}

	tenantStore := tenancy.NewPostgresStore(deps.DB, lunch).WithDefaultTimezone(cfg.DefaultTimezone)
	e := &Engine{
		Tenants:       tenancy.NewResolver(tenantStore, deps.Redis, cfg.TenantCacheTTL, logger),
		Appointments:  appointments.NewRepository(deps.DB),
		Professionals: professionals.NewRepository(deps.DB),
		Patients:      patients.NewRepository(deps.DB),
		Treatments:    treatments.NewRepository(deps.DB),
		Blocks:        calendar.NewBlockStore(deps.DB),
		Calendar:      client,
		Audit:         audit.NewService(deps.SQL),
		Agenda:        agenda.NewHub(logger),
		Metrics:       metrics.NewSchedulingMetrics(deps.Registerer),
		Outbox:        events.NewOutboxStore(deps.DB),
		Processed:     events.NewProcessedStore(deps.DB),
	}

	e.Service = appointments.NewService(appointments.Dependencies{
		Store:         e.Appointments,
		Tenants:       e.Tenants,
		Professionals: e.Professionals,
		Patients:      patients.NewService(e.Patients, logger),
		Treatments:    e.Treatments,
		Blocks:        calendar.NewRefresher(client, e.Blocks, logger, e.Metrics),
		Locker:        buildLocker(cfg, deps.Redis, logger),
		Audit:         e.Audit,
		Agenda:        e.Agenda,
		Metrics:       e.Metrics,
		Logger:        logger,
	}, settings)
	return e, nil
}

func buildLocker(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) locking.Locker {
	if !cfg.BookingLockEnabled {
		return locking.NoopLocker{}
	}
	if redisClient == nil {
		logger.Warn("booking lock enabled but redis unavailable; relying on database constraint")
		return locking.NoopLocker{}
	}
	return locking.NewRedisLocker(redisClient, cfg.BookingLockTTL).WithWait(cfg.BookingLockWait)
}

// SchedulingSettings reads the scan window, step and slot limit.
func SchedulingSettings(cfg *appconfig.Config) (appointments.Settings, error) {
	settings := appointments.DefaultSettings()
	if v := strings.TrimSpace(cfg.ScanWindowStart); v != "" {
		t, err := scheduling.ParseTimeOfDay(v)
		if err != nil {
			return settings, fmt.Errorf("bootstrap: SCAN_WINDOW_START: %w", err)
		}
		settings.WindowStart = t
	}
	if v := strings.TrimSpace(cfg.ScanWindowEnd); v != "" {
		t, err := scheduling.ParseTimeOfDay(v)
		if err != nil {
			return settings, fmt.Errorf("bootstrap: SCAN_WINDOW_END: %w", err)
		}
		settings.WindowEnd = t
	}
	if settings.WindowEnd <= settings.WindowStart {
		return settings, fmt.Errorf("bootstrap: scan window %s-%s is empty", settings.WindowStart, settings.WindowEnd)
	}
	if cfg.SlotStep > 0 {
		settings.Step = cfg.SlotStep
	}
	if cfg.DefaultSlotLimit > 0 {
		settings.SlotLimit = cfg.DefaultSlotLimit
	}
	return settings, nil
}

// MiddayBreak returns the default break, or nil when either bound is unset.
func MiddayBreak(cfg *appconfig.Config) (*scheduling.Interval, error) {
	start, end := strings.TrimSpace(cfg.MiddayBreakStart), strings.TrimSpace(cfg.MiddayBreakEnd)
	if start == "" || end == "" {
		return nil, nil
	}
	from, err := scheduling.ParseTimeOfDay(start)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: MIDDAY_BREAK_START: %w", err)
	}
	to, err := scheduling.ParseTimeOfDay(end)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: MIDDAY_BREAK_END: %w", err)
	}
	if to <= from {
		return nil, fmt.Errorf("bootstrap: midday break %s-%s is empty", start, end)
	}
	return &scheduling.Interval{Start: from, End: to}, nil
}
