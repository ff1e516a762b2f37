package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLockHeld is returned when another run holds the monitor lock.
var ErrLockHeld = errors.New("monitor lock already held")

// DefaultLockTTL bounds the worst-case stuck run; a later acquisition
// attempt reclaims an expired slot.
const DefaultLockTTL = 5 * time.Minute

// LockStore handles advisory monitor locks
type LockStore struct {
	db *sql.DB
}

// NewLockStore creates a new lock store
func NewLockStore(db *sql.DB) *LockStore {
	return &LockStore{db: db}
}

// Acquire takes the advisory lock for a monitor. Expired locks are garbage
// collected first; a primary-key conflict on the insert means another
// holder is active and ErrLockHeld is returned.
func (s *LockStore) Acquire(monitorID int64, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	now := time.Now().UTC()

	if _, err := s.db.Exec("DELETE FROM email_monitor_locks WHERE lock_expires_at < ?", now); err != nil {
		return fmt.Errorf("failed to sweep expired locks: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT INTO email_monitor_locks (monitor_id, locked_by, locked_at, lock_expires_at) VALUES (?, ?, ?, ?)",
		monitorID, owner, now, now.Add(ttl),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to acquire monitor lock: %w", err)
	}
	return nil
}

// Release drops the lock if this owner still holds it.
func (s *LockStore) Release(monitorID int64, owner string) error {
	_, err := s.db.Exec(
		"DELETE FROM email_monitor_locks WHERE monitor_id = ? AND locked_by = ?",
		monitorID, owner,
	)
	if err != nil {
		return fmt.Errorf("failed to release monitor lock: %w", err)
	}
	return nil
}

// Get returns the current lock row for a monitor, or nil.
func (s *LockStore) Get(monitorID int64) (*MonitorLock, error) {
	var l MonitorLock
	err := s.db.QueryRow(
		"SELECT monitor_id, locked_by, locked_at, lock_expires_at FROM email_monitor_locks WHERE monitor_id = ?",
		monitorID,
	).Scan(&l.MonitorID, &l.LockedBy, &l.LockedAt, &l.LockExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor lock: %w", err)
	}
	return &l, nil
}

// isUniqueViolation detects a SQLite primary key / unique conflict without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
