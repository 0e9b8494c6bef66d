package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-scheduling-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-scheduling-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger            *logging.Logger
	AdminAppointments *handlers.AdminAppointmentsHandler
	AdminDirectory    *handlers.AdminDirectoryHandler
	AdminTenant       *handlers.AdminTenantHandler
	AgentTools        *handlers.AgentToolsHandler
	// AgendaLive upgrades to the per-tenant agenda websocket.
	AgendaLive http.HandlerFunc

	AdminJWTSecret     string
	AgentJWTSecret     string
	RateLimitRPS       float64
	RateLimitBurst     int
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Ready reports dependency health for /health. Nil means always ready.
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", health(cfg.Ready))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Admin routes. TenantJWT answers 401 on its own when the secret is unset.
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.TenantJWT(cfg.AdminJWTSecret))
		admin.Use(requireTenantMatch)
		if cfg.AgendaLive != nil {
			// Long-lived connection; kept outside the rate limiter.
			admin.Get("/agenda/live", cfg.AgendaLive)
		}
		admin.Group(func(api chi.Router) {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
			if cfg.AdminAppointments != nil {
				cfg.AdminAppointments.Register(api)
			}
			if cfg.AdminDirectory != nil {
				cfg.AdminDirectory.Register(api)
			}
			if cfg.AdminTenant != nil {
				cfg.AdminTenant.Register(api)
			}
		})
	})

	// Conversational agent tools, authenticated with their own secret.
	if cfg.AgentTools != nil {
		r.Route("/agent/tools", func(agent chi.Router) {
			agent.Use(httpmiddleware.TenantJWT(cfg.AgentJWTSecret))
			agent.Use(requireTenantMatch)
			agent.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
			cfg.AgentTools.Register(agent)
		})
	}

	return r
}

func health(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
