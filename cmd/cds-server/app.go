package main

import (
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/catalog"
	"github.com/ehr/cdsengine/internal/config"
	"github.com/ehr/cdsengine/internal/domain/cds"
	"github.com/ehr/cdsengine/internal/domain/lab"
	"github.com/ehr/cdsengine/internal/domain/orderset"
	"github.com/ehr/cdsengine/internal/domain/patient"
	"github.com/ehr/cdsengine/internal/domain/safety"
	"github.com/ehr/cdsengine/internal/platform/auth"
	"github.com/ehr/cdsengine/internal/platform/cdshooks"
	"github.com/ehr/cdsengine/internal/platform/db"
	"github.com/ehr/cdsengine/internal/platform/metrics"
	"github.com/ehr/cdsengine/internal/platform/middleware"
	"github.com/ehr/cdsengine/internal/platform/notification"
)

const version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(cfg.Level()).With().Timestamp().Logger()
}

// app holds the services shared by the HTTP server and the CLI commands.
type app struct {
	patients   *patient.Service
	cds        *cds.Service
	lab        *lab.Service
	safety     *safety.Service
	orderSets  *orderset.Service
	catalog    *catalog.Service
	dispatcher *notification.Dispatcher
}

func newApp(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger, rec *metrics.Recorder) *app {
	patients := patient.NewService(patient.NewDemographicsRepoPG(pool), patient.NewSafetyProfileRepoPG(pool))

	cdsSvc := cds.NewService(cds.NewDrugInteractionRepoPG(pool), cds.NewAllergyRepoPG(pool), logger)
	cdsSvc.SetLimits(cfg.PortConcurrency, cfg.PortTimeout)
	cdsSvc.SetMetrics(rec)

	dispatcher := notification.NewDispatcher(notification.LogSenders(logger), notification.NewTemplateEngine())

	labSvc := lab.NewService(lab.NewReferenceRangeRepoPG(pool), lab.NewResultRepoPG(pool), patients, logger)
	labSvc.SetPortTimeout(cfg.PortTimeout)
	labSvc.SetMetrics(rec)
	labSvc.SetNotifier(dispatcher)

	safetySvc := safety.NewService(patients, logger)
	safetySvc.SetPortTimeout(cfg.PortTimeout)
	safetySvc.SetMetrics(rec)

	orderSets := orderset.NewService(orderset.NewRepoPG(pool), logger)

	return &app{
		patients:   patients,
		cds:        cdsSvc,
		lab:        labSvc,
		safety:     safetySvc,
		orderSets:  orderSets,
		catalog:    catalog.NewService(cdsSvc, labSvc, orderSets, logger),
		dispatcher: dispatcher,
	}
}

// newServer builds the echo instance with global middleware, public
// infrastructure endpoints, the REST API and the CDS Hooks surface.
func newServer(a *app, pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger, rec *metrics.Recorder) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	// Handlers run on the timeout goroutine, so recovery must sit inside it.
	e.Use(middleware.Recovery(logger))
	if cfg.MetricsEnabled {
		e.Use(middleware.Metrics(rec))
		e.GET("/metrics", echo.WrapHandler(rec.Handler()))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	if cfg.IsDev() && cfg.AuthIssuer == "" && cfg.AuthSigningKey == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))

	tenant := db.TenantMiddleware(pool, cfg.DefaultTenant)
	rateLimit := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})

	api := e.Group("/api/v1", tenant, rateLimit)
	patient.NewHandler(a.patients).RegisterRoutes(api)
	cds.NewHandler(a.cds).RegisterRoutes(api)
	lab.NewHandler(a.lab).RegisterRoutes(api)
	safety.NewHandler(a.safety).RegisterRoutes(api)
	orderset.NewHandler(a.orderSets).RegisterRoutes(api)
	notification.NewHandler(a.dispatcher).RegisterRoutes(api)

	hooks := cdshooks.NewHandler(logger)
	a.cds.RegisterHooks(hooks)
	a.safety.RegisterHooks(hooks)
	hooks.RegisterFeedbackHandler(cds.MedicationReviewService, cdshooks.LogFeedback(logger))
	hooks.RegisterFeedbackHandler(safety.InvestigationSafetyHook, cdshooks.LogFeedback(logger))
	hooks.RegisterRoutes(e, tenant, rateLimit)

	return e
}
