package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/wolfman30/clinic-scheduling-platform/internal/calendar"
	appconfig "github.com/wolfman30/clinic-scheduling-platform/internal/config"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// BuildCalendarClient wires the optional Google Calendar client. Without
// credentials every tenant behaves as local and the noop client is returned.
// GOOGLE_CREDENTIALS holds either the service-account JSON or a path to it.
func BuildCalendarClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (calendar.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	raw := strings.TrimSpace(cfg.GoogleCredentialsJSON)
	if raw == "" {
		logger.Warn("no google credentials configured; external calendars disabled")
		return calendar.NoopClient{}, nil
	}
	creds := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		data, err := os.ReadFile(raw)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: read google credentials: %w", err)
		}
		creds = data
	}

	client, err := calendar.NewGoogleClient(ctx, creds, cfg.ExternalCalendarTimeout)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: google calendar: %w", err)
	}
	logger.Info("google calendar enabled", "timeout", cfg.ExternalCalendarTimeout)
	return client, nil
}
