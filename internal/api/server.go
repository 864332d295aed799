// Package api exposes the admin HTTP interface for monitoring configuration.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"QDIIRadar/internal/config"
	"QDIIRadar/internal/metrics"
	"QDIIRadar/internal/model"
)

// Store is the persistence surface the admin API manages.
type Store interface {
	Ping(ctx context.Context) error

	Settings(ctx context.Context) (config.Settings, error)
	SetSetting(ctx context.Context, key, value string) error
	SetSettings(ctx context.Context, values map[string]string) error
	ToggleMonitoring(ctx context.Context) (bool, error)

	Recipients(ctx context.Context) ([]model.EmailRecipient, error)
	ActiveRecipients(ctx context.Context) ([]string, error)
	AddRecipient(ctx context.Context, email string) error
	RemoveRecipient(ctx context.Context, email string) error

	History(ctx context.Context, limit, offset int) ([]model.NotificationHistory, error)
	Stats(ctx context.Context, now time.Time) (model.NotificationStats, error)

	MonitoredFunds(ctx context.Context, enabledOnly bool) ([]model.MonitoredFund, error)
	MonitoredFund(ctx context.Context, code string) (*model.MonitoredFund, error)
	AddMonitoredFund(ctx context.Context, code string) (*model.MonitoredFund, error)
	SetMonitoredFundEnabled(ctx context.Context, code string, enabled bool) error
	RemoveMonitoredFund(ctx context.Context, code string) error

	TriggersForFund(ctx context.Context, code string) ([]model.FundTrigger, error)
	AllTriggers(ctx context.Context) ([]model.FundTrigger, error)
	UpsertTrigger(ctx context.Context, code string, t model.AlertType, threshold *float64, enabled bool) (*model.FundTrigger, bool, error)
	UpdateTrigger(ctx context.Context, code string, id int64, threshold *float64, enabled bool) (*model.FundTrigger, error)
	DeleteTrigger(ctx context.Context, code string, id int64) error
}

// Monitor controls the polling loop.
type Monitor interface {
	Start(ctx context.Context) error
	Stop()
	Status(ctx context.Context) model.MonitorStatus
	TestTriggers(ctx context.Context, send bool) (*model.TriggerTestReport, error)
}

// Mailer sends the SMTP connectivity check.
type Mailer interface {
	SendTest(ctx context.Context, to []string) error
}

// Calendar answers trading-day lookups.
type Calendar interface {
	Check(ctx context.Context, date string) (bool, error)
}

// Deps groups the router dependencies.
type Deps struct {
	Store       Store
	Monitor     Monitor
	Mailer      Mailer
	Calendar    Calendar
	CORSOrigins []string
}

// NewRouter builds the chi router with middleware and all routes.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := corslib.New(corslib.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	})
	r.Use(c.Handler)

	h := &handler{store: d.Store, monitor: d.Monitor, mailer: d.Mailer, calendar: d.Calendar}

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/config", h.getConfig)
		r.Post("/config", h.setConfig)
		r.Post("/config/{key}", h.setConfigKey)
		r.Post("/test-email", h.testEmail)

		r.Get("/recipients", h.listRecipients)
		r.Post("/recipients", h.addRecipient)
		r.Delete("/recipients/{email}", h.removeRecipient)

		r.Route("/monitoring", func(r chi.Router) {
			r.Post("/start", h.startMonitoring)
			r.Post("/stop", h.stopMonitoring)
			r.Get("/status", h.monitoringStatus)
			r.Post("/toggle", h.toggleMonitoring)
		})

		r.Get("/history", h.history)
		r.Get("/history/stats", h.historyStats)

		r.Get("/monitored-funds", h.listFunds)
		r.Post("/monitored-funds", h.addFund)
		r.Get("/monitored-funds/{code}", h.getFund)
		r.Put("/monitored-funds/{code}", h.updateFund)
		r.Delete("/monitored-funds/{code}", h.removeFund)

		r.Get("/funds/{code}/triggers", h.listFundTriggers)
		r.Post("/funds/{code}/triggers", h.upsertTrigger)
		r.Put("/funds/{code}/triggers/{id}", h.updateTrigger)
		r.Delete("/funds/{code}/triggers/{id}", h.deleteTrigger)

		r.Get("/triggers", h.listTriggers)
		r.Post("/test-triggers", h.testTriggers)
	})

	r.Get("/api/trading-dates/check/{date}", h.checkTradingDate)

	return r
}

// NewServer wraps the router in an http.Server with conservative timeouts.
func NewServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
}
