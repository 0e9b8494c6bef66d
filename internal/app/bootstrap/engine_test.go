package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-scheduling-platform/internal/calendar"
	appconfig "github.com/wolfman30/clinic-scheduling-platform/internal/config"
	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/locking"
	"github.com/wolfman30/clinic-scheduling-platform/internal/notify"
	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		SlotStep:           15 * time.Minute,
		ScanWindowStart:    "09:00",
		ScanWindowEnd:      "18:00",
		MiddayBreakStart:   "13:00",
		MiddayBreakEnd:     "14:00",
		DefaultSlotLimit:   10,
		DefaultTimezone:    "America/Argentina/Buenos_Aires",
		BookingLockEnabled: true,
		BookingLockTTL:     5 * time.Second,
		BookingLockWait:    time.Second,
		TenantCacheTTL:     time.Minute,
		OutboxBatchSize:    10,
		OutboxPollInterval: time.Second,
		OutboxMaxAttempts:  3,
	}
}

func TestSchedulingSettingsFromConfig(t *testing.T) {
	settings, err := SchedulingSettings(testConfig())
	require.NoError(t, err)
	assert.Equal(t, scheduling.At(9, 0), settings.WindowStart)
	assert.Equal(t, scheduling.At(18, 0), settings.WindowEnd)
	assert.Equal(t, 15*time.Minute, settings.Step)
	assert.Equal(t, 10, settings.SlotLimit)

	cfg := testConfig()
	cfg.ScanWindowStart, cfg.ScanWindowEnd = "", ""
	cfg.SlotStep, cfg.DefaultSlotLimit = 0, 0
	settings, err = SchedulingSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, scheduling.At(8, 0), settings.WindowStart)
	assert.Equal(t, 30*time.Minute, settings.Step)

	cfg = testConfig()
	cfg.ScanWindowEnd = "07:00"
	_, err = SchedulingSettings(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.ScanWindowStart = "9am"
	_, err = SchedulingSettings(cfg)
	assert.Error(t, err)
}

func TestMiddayBreakFromConfig(t *testing.T) {
	lunch, err := MiddayBreak(testConfig())
	require.NoError(t, err)
	require.NotNil(t, lunch)
	assert.Equal(t, scheduling.Interval{Start: scheduling.At(13, 0), End: scheduling.At(14, 0)}, *lunch)

	cfg := testConfig()
	cfg.MiddayBreakEnd = ""
	lunch, err = MiddayBreak(cfg)
	require.NoError(t, err)
	assert.Nil(t, lunch)

	cfg = testConfig()
	cfg.MiddayBreakEnd = "12:00"
	_, err = MiddayBreak(cfg)
	assert.Error(t, err)
}

func TestBuildLockerPrefersRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testConfig()
	assert.IsType(t, &locking.RedisLocker{}, buildLocker(cfg, client, logging.Discard()))
	assert.IsType(t, locking.NoopLocker{}, buildLocker(cfg, nil, logging.Discard()))

	cfg.BookingLockEnabled = false
	assert.IsType(t, locking.NoopLocker{}, buildLocker(cfg, client, logging.Discard()))
}

func TestBuildEngineRequiresDatabase(t *testing.T) {
	_, err := BuildEngine(testConfig(), EngineDeps{})
	assert.Error(t, err)
	_, err = BuildEngine(nil, EngineDeps{})
	assert.Error(t, err)
}

func TestBuildEngineWiresComponents(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()
	sqlDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	engine, err := BuildEngine(testConfig(), EngineDeps{
		DB:         pool,
		SQL:        sqlDB,
		Registerer: prometheus.NewRegistry(),
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	assert.NotNil(t, engine.Service)
	assert.NotNil(t, engine.Tenants)
	assert.IsType(t, calendar.NoopClient{}, engine.Calendar)

	routes := BuildRouterConfig(testConfig(), engine, nil, nil, logging.Discard())
	assert.NotNil(t, routes.AdminAppointments)
	assert.NotNil(t, routes.AdminDirectory)
	assert.NotNil(t, routes.AdminTenant)
	assert.NotNil(t, routes.AgentTools)
	assert.NotNil(t, routes.AgendaLive)

	deliverer := BuildDeliverer(testConfig(), engine, notify.NewStubEmailSender(logging.Discard()), logging.Discard())
	assert.IsType(t, &events.Deliverer{}, deliverer)
}

func TestBuildEmailSender(t *testing.T) {
	assert.IsType(t, &notify.StubEmailSender{}, BuildEmailSender(&appconfig.Config{}, logging.Discard()))
	assert.IsType(t, &notify.StubEmailSender{}, BuildEmailSender(&appconfig.Config{SendGridAPIKey: "key"}, logging.Discard()))

	cfg := &appconfig.Config{SendGridAPIKey: "key", SendGridFromEmail: "turnos@clinic.test"}
	assert.IsType(t, &notify.SendGridSender{}, BuildEmailSender(cfg, logging.Discard()))
}

type pruneRecorder struct {
	calls chan time.Time
}

func (p pruneRecorder) Prune(_ context.Context, before time.Time) (int64, error) {
	select {
	case p.calls <- before:
	default:
	}
	return 1, nil
}

func TestRunProcessedJanitorPrunesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := pruneRecorder{calls: make(chan time.Time, 4)}
	done := make(chan struct{})
	go func() {
		RunProcessedJanitor(ctx, rec, time.Hour, 10*time.Millisecond, logging.Discard())
		close(done)
	}()

	select {
	case before := <-rec.calls:
		assert.WithinDuration(t, time.Now().Add(-time.Hour), before, time.Minute)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor never pruned")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
