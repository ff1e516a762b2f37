// Package server assembles the chi router over the API handlers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"invoice-ingest/internal/backup"
	"invoice-ingest/internal/database"
	"invoice-ingest/internal/email"
	"invoice-ingest/internal/handlers"
	"invoice-ingest/internal/trace"
	"invoice-ingest/internal/workers"
)

// Dependencies carries everything the router wires together.
type Dependencies struct {
	DB         *database.DB
	Engine     *workers.CheckEngine
	Uploads    *workers.UploadWorker
	Supervisor *backup.Supervisor
	Tracer     *trace.Collector
	Cipher     *email.Cipher
}

// NewRouter builds the HTTP API.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	health := handlers.NewHealthHandler(deps.DB)
	monitors := handlers.NewMonitorHandler(deps.DB, deps.Engine, deps.Cipher)
	ingest := handlers.NewIngestHandler(deps.DB, deps.Uploads, deps.Tracer)
	backups := handlers.NewBackupHandler(deps.Supervisor)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.HealthCheck)

		r.Route("/monitors", func(r chi.Router) {
			r.Get("/", monitors.ListMonitors)
			r.Post("/", monitors.CreateMonitor)
			r.Get("/{id}", monitors.GetMonitor)
			r.Delete("/{id}", monitors.DeleteMonitor)
			r.Post("/{id}/check", monitors.CheckMonitor)
			r.Get("/{id}/diagnose", monitors.DiagnoseMonitor)
			r.Get("/{id}/runs", monitors.ListCheckRuns)
			r.Get("/{id}/logs", monitors.ListProcessingLogs)
		})
		r.Get("/runs/{uuid}/logs", monitors.ListProcessingLogs)

		r.Route("/ingest", func(r chi.Router) {
			r.Post("/upload", ingest.Upload)
			r.Get("/runs/{id}", ingest.GetRun)
			r.Get("/runs/{id}/trace", ingest.GetTrace)
		})

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", backups.ListSnapshots)
			r.Post("/", backups.CreateSnapshot)
			r.Get("/stats", backups.Stats)
			r.Post("/restore", backups.Restore)
			r.Post("/cleanup", backups.Cleanup)
		})
	})

	return r
}
