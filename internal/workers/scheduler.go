package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"invoice-ingest/internal/database"
)

// Scheduler runs periodic checks across all active monitors.
type Scheduler struct {
	engine   *CheckEngine
	monitors *database.MonitorStore
	interval time.Duration
	opts     CheckOptions
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler over the check engine.
func NewScheduler(engine *CheckEngine, db *database.DB, interval time.Duration, opts CheckOptions, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   engine,
		monitors: database.NewMonitorStore(db.DB),
		interval: interval,
		opts:     opts,
		logger:   logger,
	}
}

// Start launches the ticker loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Check scheduler started", "interval", s.interval.String())
}

// Stop cancels the loop and waits for in-flight checks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Check scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkAll()
		}
	}
}

// checkAll fans one check out per active monitor. The per-monitor lock
// makes overlap with manual checks harmless.
func (s *Scheduler) checkAll() {
	monitors, err := s.monitors.ListActive()
	if err != nil {
		s.logger.Error("Failed to list active monitors", "error", err)
		return
	}
	if len(monitors) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, monitor := range monitors {
		wg.Add(1)
		go func(monitorID int64) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			result, err := s.engine.Check(ctx, monitorID, "scheduled", s.opts)
			if err != nil {
				var ce *CheckError
				if errors.As(err, &ce) && (ce.Code == CodeLocked || ce.Code == CodeInactive) {
					s.logger.Debug("Scheduled check skipped", "monitor_id", monitorID, "code", ce.Code)
					return
				}
				s.logger.Error("Scheduled check failed", "monitor_id", monitorID, "error", err)
				return
			}
			if result.InvoicesCreated > 0 {
				s.logger.Info("Scheduled check created invoices",
					"monitor_id", monitorID,
					"run_uuid", result.RunUUID,
					"invoices_created", result.InvoicesCreated,
				)
			}
		}(monitor.ID)
	}
	wg.Wait()
}
