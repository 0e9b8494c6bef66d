package bootstrap

import (
	"context"
	"net/http"

	"github.com/wolfman30/clinic-scheduling-platform/internal/api/router"
	appconfig "github.com/wolfman30/clinic-scheduling-platform/internal/config"
	"github.com/wolfman30/clinic-scheduling-platform/internal/http/handlers"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// BuildRouterConfig wires the admin and agent handlers onto the engine.
func BuildRouterConfig(cfg *appconfig.Config, e *Engine, metricsHandler http.Handler, ready func(ctx context.Context) error, logger *logging.Logger) *router.Config {
	return &router.Config{
		Logger:             logger,
		AdminAppointments:  handlers.NewAdminAppointmentsHandler(e.Service, e.Tenants, logger),
		AdminDirectory:     handlers.NewAdminDirectoryHandler(e.Professionals, e.Treatments, e.Audit, logger),
		AdminTenant:        handlers.NewAdminTenantHandler(e.Tenants, e.Audit, e.Audit, logger),
		AgentTools:         handlers.NewAgentToolsHandler(e.Service, e.Tenants, e.Patients, e.Professionals, logger),
		AgendaLive:         e.Agenda.HandleWebSocket,
		AdminJWTSecret:     cfg.AdminJWTSecret,
		AgentJWTSecret:     cfg.AgentJWTSecret,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Ready:              ready,
	}
}
