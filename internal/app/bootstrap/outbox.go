package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/clinic-scheduling-platform/internal/calendarsync"
	appconfig "github.com/wolfman30/clinic-scheduling-platform/internal/config"
	"github.com/wolfman30/clinic-scheduling-platform/internal/events"
	"github.com/wolfman30/clinic-scheduling-platform/internal/notify"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// BuildEmailSender returns SendGrid when an API key is set and the logging
// stub otherwise.
func BuildEmailSender(cfg *appconfig.Config, logger *logging.Logger) notify.EmailSender {
	if cfg == nil || strings.TrimSpace(cfg.SendGridAPIKey) == "" || strings.TrimSpace(cfg.SendGridFromEmail) == "" {
		if logger != nil {
			logger.Warn("sendgrid not configured; appointment emails are logged only")
		}
		return notify.NewStubEmailSender(logger)
	}
	return notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
}

// BuildOutboxMux routes outbox events to the calendar reconciler and the
// front-desk notifier.
func BuildOutboxMux(e *Engine, email notify.EmailSender, logger *logging.Logger) *events.Mux {
	reconciler := calendarsync.NewReconciler(e.Appointments, e.Tenants, e.Professionals, e.Calendar, logger, e.Metrics)
	notifier := notify.NewAppointmentNotifier(email, e.Tenants, e.Patients, e.Professionals, e.Processed, logger)

	mux := events.NewMux()
	mux.Register(reconciler, reconciler.EventTypes()...)
	mux.Register(notifier, notifier.EventTypes()...)
	return mux
}

// BuildDeliverer wires the outbox poller with the configured cadence and retry budget.
func BuildDeliverer(cfg *appconfig.Config, e *Engine, email notify.EmailSender, logger *logging.Logger) *events.Deliverer {
	return events.NewDeliverer(e.Outbox, BuildOutboxMux(e, email, logger), logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval).
		WithRetry(cfg.OutboxMaxAttempts, cfg.OutboxRetryBaseDelay)
}

// ProcessedPruner is the part of the processed-event store the janitor needs.
type ProcessedPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RunProcessedJanitor drops dedup markers older than retention every interval
// until ctx ends.
func RunProcessedJanitor(ctx context.Context, store ProcessedPruner, retention, interval time.Duration, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.Prune(ctx, now.Add(-retention))
			if err != nil {
				logger.Warn("processed events prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("pruned processed events", "count", n)
			}
		}
	}
}
