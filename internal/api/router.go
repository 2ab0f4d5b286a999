package api

import (
	"context"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/triboar/guild-sync/internal/api/docs"
	"github.com/triboar/guild-sync/internal/api/handler"
	"github.com/triboar/guild-sync/internal/api/middleware"
	"github.com/triboar/guild-sync/internal/core/ports"
)

// Dependencies are the collaborators the HTTP surface needs.
type Dependencies struct {
	Log            zerolog.Logger
	WebhookSecret  string
	AdminJWTSecret string

	Queue      handler.EventQueue
	Sync       handler.FullSyncTrigger
	Reconciler ports.Reconciler
	Runs       ports.RunRepository // optional
	Checks     map[string]handler.PingFunc

	// Background carries manual syncs past their request. The caller cancels
	// and drains it on shutdown; nil means an uncancellable one.
	Background *handler.Background

	// Registry defaults to the global Prometheus registry.
	Registry *prometheus.Registry
}

//go:generate swag init --generalInfo router.go --dir ./,./handler --output ./docs --outputTypes go

// NewRouter builds and returns the Echo instance with all routes registered.
//
// @title                       guild-sync API
// @version                     1.0
// @description                 Billing webhook ingress and operator endpoints for the Discord subscriber role sync.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(deps.Log))
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if deps.Registry != nil {
		reg, gatherer = deps.Registry, deps.Registry
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "guildsync",
		Registerer: reg,
	}))

	// --- Health probes, metrics and API docs (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(deps.Checks)

	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", healthDepsHandler.Readiness)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Billing webhooks ---
	webhookHandler := handler.NewWebhookHandler(deps.Queue, deps.Log)
	webhooks := e.Group("/webhooks",
		middleware.Auth(deps.WebhookSecret),
		middleware.RBAC(middleware.RoleBilling),
	)
	webhooks.POST("/billing", webhookHandler.Receive)

	// --- Operator API ---
	background := deps.Background
	if background == nil {
		background = handler.NewBackground(context.Background())
	}
	adminHandler := handler.NewAdminHandler(deps.Sync, deps.Runs, deps.Reconciler, background, deps.Log)
	admin := e.Group("/admin",
		middleware.Auth(deps.AdminJWTSecret),
		middleware.RBAC(middleware.RoleAdmin),
	)
	admin.POST("/sync", adminHandler.TriggerSync)
	admin.GET("/runs", adminHandler.ListRuns)
	admin.PUT("/users/:discordId/reminders", adminHandler.SetReminders)

	return e
}

// requestLogger logs one line per request through zerolog.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	log = log.With().Str("component", "http").Logger()
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			evt := log.Info()
			if v.Status >= 500 {
				evt = log.Error().Err(v.Error)
			}
			evt.
				Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
