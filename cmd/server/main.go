package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"invoice-ingest/internal/backup"
	"invoice-ingest/internal/config"
	"invoice-ingest/internal/database"
	"invoice-ingest/internal/email"
	"invoice-ingest/internal/extraction"
	"invoice-ingest/internal/server"
	"invoice-ingest/internal/trace"
	"invoice-ingest/internal/workers"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Database initialized", "path", cfg.DBPath)

	var cipher *email.Cipher
	if cfg.EmailEncryptionKey != "" {
		cipher, err = email.NewCipher(cfg.EmailEncryptionKey)
		if err != nil {
			logger.Error("Failed to initialize email cipher", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("EMAIL_ENCRYPTION_KEY not set, password-auth monitors will fail")
	}

	var tracer *trace.Collector
	if cfg.ParseTracing {
		tracer = trace.NewCollector(0, 0, cfg.ParseTraceVerbose, database.NewTraceStore(db.DB), logger)
	}

	pipeline := extraction.NewPipeline(logger)
	engine := workers.NewCheckEngine(db, pipeline, cipher, tracer, nil, logger)
	uploads := workers.NewUploadWorker(db, pipeline, tracer, workers.UploadOptions{
		Enabled:   cfg.EnableMobilePhotoUpload,
		MaxSizeMB: cfg.MobilePhotoMaxSizeMB,
	}, logger)

	scheduler := workers.NewScheduler(engine, db, time.Duration(cfg.CheckIntervalMins)*time.Minute, workers.CheckOptions{
		SinceDays: cfg.CheckSinceDays,
		Limit:     cfg.CheckLimit,
	}, logger)
	scheduler.Start()

	supervisor := backup.New(backup.Options{
		DBPath:              cfg.DBPath,
		BackupPath:          cfg.BackupPath,
		IntervalHours:       cfg.BackupIntervalHours,
		RetentionDays:       cfg.BackupRetentionDays,
		CompressThresholdMB: cfg.BackupCompressThresholdMB,
	}, logger)
	if cfg.BackupEnabled {
		if err := supervisor.Start(); err != nil {
			logger.Error("Failed to start backup supervisor", "error", err)
			os.Exit(1)
		}
	}

	router := server.NewRouter(server.Dependencies{
		DB:         db,
		Engine:     engine,
		Uploads:    uploads,
		Supervisor: supervisor,
		Tracer:     tracer,
		Cipher:     cipher,
	})

	srv := &http.Server{
		Addr:    cfg.Address(),
		Handler: router,

		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // checks and uploads can be slow
		IdleTimeout:  60 * time.Second,
	}

	if err := server.HandleSignals(srv, 30*time.Second, logger, scheduler.Stop, supervisor.Stop); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}
