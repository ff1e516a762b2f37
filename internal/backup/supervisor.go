// Package backup snapshots the live database on a schedule, enforces
// retention, and restores named snapshots.
package backup

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultPrefix          = "invoice-ingest"
	retentionSweepInterval = 24 * time.Hour
)

// Options configures the supervisor.
type Options struct {
	DBPath              string
	BackupPath          string
	Prefix              string
	IntervalHours       int
	RetentionDays       int
	CompressThresholdMB int
	// UploadHook, when set, receives every snapshot path after creation.
	// Failures are logged, never fatal.
	UploadHook func(path string) error
}

// Snapshot describes one backup file.
type Snapshot struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// RestoreResult reports a completed restore.
type RestoreResult struct {
	RestoredFrom           string `json:"restored_from"`
	PreRestoreSnapshotName string `json:"pre_restore_snapshot_name"`
}

// Stats summarizes the backup directory.
type Stats struct {
	Count          int        `json:"count"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	Oldest         *time.Time `json:"oldest,omitempty"`
	Newest         *time.Time `json:"newest,omitempty"`
}

// Supervisor runs scheduled snapshots and retention sweeps.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a supervisor. Defaults: prefix "invoice-ingest", 5 MB
// compression threshold.
func New(opts Options, logger *slog.Logger) *Supervisor {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}
	if opts.CompressThresholdMB <= 0 {
		opts.CompressThresholdMB = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{opts: opts, logger: logger}
}

// Start takes an immediate snapshot, then runs the snapshot interval and a
// daily retention sweep until Stop.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("backup supervisor already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := os.MkdirAll(s.opts.BackupPath, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	if _, err := s.CreateSnapshot(); err != nil {
		s.logger.Error("Initial backup failed", "error", err)
	}

	s.wg.Add(1)
	go s.run()
	s.logger.Info("Backup supervisor started",
		"interval_hours", s.opts.IntervalHours,
		"retention_days", s.opts.RetentionDays,
		"path", s.opts.BackupPath,
	)
	return nil
}

// Stop cancels the timers and waits for in-flight work.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Backup supervisor stopped")
}

func (s *Supervisor) run() {
	defer s.wg.Done()

	interval := time.Duration(s.opts.IntervalHours) * time.Hour
	snapshotTicker := time.NewTicker(interval)
	defer snapshotTicker.Stop()
	sweepTicker := time.NewTicker(retentionSweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-snapshotTicker.C:
			if _, err := s.CreateSnapshot(); err != nil {
				s.logger.Error("Scheduled backup failed", "error", err)
			}
		case <-sweepTicker.C:
			if removed, err := s.Cleanup(); err != nil {
				s.logger.Error("Retention sweep failed", "error", err)
			} else if removed > 0 {
				s.logger.Info("Retention sweep removed old backups", "removed", removed)
			}
		}
	}
}

// CreateSnapshot copies the live database into the backup directory,
// compressing when it exceeds the threshold. Compression failure keeps the
// uncompressed copy.
func (s *Supervisor) CreateSnapshot() (*Snapshot, error) {
	if err := os.MkdirAll(s.opts.BackupPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	info, err := os.Stat(s.opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("database file not accessible: %w", err)
	}

	name := s.snapshotName(time.Now().UTC())
	dest := filepath.Join(s.opts.BackupPath, name)
	if err := copyFile(s.opts.DBPath, dest); err != nil {
		return nil, fmt.Errorf("failed to copy database: %w", err)
	}

	compressed := false
	threshold := int64(s.opts.CompressThresholdMB) * 1024 * 1024
	if info.Size() > threshold {
		if err := gzipFile(dest); err != nil {
			s.logger.Warn("Backup compression failed, keeping uncompressed copy", "name", name, "error", err)
		} else {
			os.Remove(dest)
			name += ".gz"
			dest += ".gz"
			compressed = true
		}
	}

	final, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("snapshot vanished after creation: %w", err)
	}

	snapshot := &Snapshot{
		Name:       name,
		SizeBytes:  final.Size(),
		Compressed: compressed,
		CreatedAt:  final.ModTime(),
	}
	s.logger.Info("Backup created", "name", name, "size_bytes", final.Size(), "compressed", compressed)

	if s.opts.UploadHook != nil {
		if err := s.opts.UploadHook(dest); err != nil {
			s.logger.Warn("Backup upload hook failed", "name", name, "error", err)
		}
	}
	return snapshot, nil
}

// List returns known snapshots, newest first.
func (s *Supervisor) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.opts.BackupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if !s.ownsFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Name:       entry.Name(),
			SizeBytes:  info.Size(),
			Compressed: strings.HasSuffix(entry.Name(), ".gz"),
			CreatedAt:  info.ModTime(),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// Restore replaces the live database with the named snapshot, creating a
// pre-restore snapshot first.
func (s *Supervisor) Restore(name string) (*RestoreResult, error) {
	if !s.ownsFile(name) {
		return nil, fmt.Errorf("unknown backup %q", name)
	}
	source := filepath.Join(s.opts.BackupPath, name)
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("backup %q not found: %w", name, err)
	}

	result := &RestoreResult{RestoredFrom: name}

	if _, err := os.Stat(s.opts.DBPath); err == nil {
		preName := fmt.Sprintf("%s-pre-restore-%s.db", s.opts.Prefix, timestampToken(time.Now().UTC()))
		prePath := filepath.Join(s.opts.BackupPath, preName)
		if err := copyFile(s.opts.DBPath, prePath); err != nil {
			return nil, fmt.Errorf("failed to create pre-restore snapshot: %w", err)
		}
		result.PreRestoreSnapshotName = preName
	}

	if strings.HasSuffix(name, ".gz") {
		tempPath := source + ".restoring"
		if err := gunzipFile(source, tempPath); err != nil {
			return nil, fmt.Errorf("failed to decompress backup: %w", err)
		}
		defer os.Remove(tempPath)
		source = tempPath
	}

	if err := copyFile(source, s.opts.DBPath); err != nil {
		return nil, fmt.Errorf("failed to restore database: %w", err)
	}
	s.logger.Info("Database restored", "from", name, "pre_restore", result.PreRestoreSnapshotName)
	return result, nil
}

// Stats summarizes the snapshot directory.
func (s *Supervisor) Stats() (*Stats, error) {
	snapshots, err := s.List()
	if err != nil {
		return nil, err
	}
	stats := &Stats{Count: len(snapshots)}
	for _, snap := range snapshots {
		stats.TotalSizeBytes += snap.SizeBytes
		created := snap.CreatedAt
		if stats.Oldest == nil || created.Before(*stats.Oldest) {
			t := created
			stats.Oldest = &t
		}
		if stats.Newest == nil || created.After(*stats.Newest) {
			t := created
			stats.Newest = &t
		}
	}
	return stats, nil
}

// Cleanup removes snapshots older than the retention window and returns
// how many were removed.
func (s *Supervisor) Cleanup() (int, error) {
	entries, err := os.ReadDir(s.opts.BackupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := time.Now().Add(-time.Duration(s.opts.RetentionDays) * 24 * time.Hour)
	removed := 0
	for _, entry := range entries {
		if !s.ownsFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.opts.BackupPath, entry.Name())); err != nil {
			s.logger.Warn("Failed to remove expired backup", "name", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// snapshotName renders `<prefix>-<UTC ISO timestamp>.db` with colons and
// dots replaced so the name is filesystem-safe everywhere.
func (s *Supervisor) snapshotName(now time.Time) string {
	return fmt.Sprintf("%s-%s.db", s.opts.Prefix, timestampToken(now))
}

func timestampToken(now time.Time) string {
	iso := now.Format("2006-01-02T15:04:05.000Z")
	iso = strings.ReplaceAll(iso, ":", "-")
	iso = strings.ReplaceAll(iso, ".", "-")
	return iso
}

func (s *Supervisor) ownsFile(name string) bool {
	if !strings.HasPrefix(name, s.opts.Prefix+"-") {
		return false
	}
	return strings.HasSuffix(name, ".db") || strings.HasSuffix(name, ".db.gz")
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}

func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(path + ".gz")
		return err
	}
	return out.Close()
}

func gunzipFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
