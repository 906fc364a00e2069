package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crypto-sentinel/internal/listing"
)

// syncStaleAfter bounds how long a persisted in-progress flag is trusted. A process
// that died mid-sync never clears it.
const syncStaleAfter = 30 * time.Minute

// StatusTracker owns the process-wide sync status. When a path is set every state
// change is persisted so separate CLI invocations can report it.
type StatusTracker struct {
	mu        sync.RWMutex
	stats     listing.SyncStats
	startedAt *time.Time
	path      string
}

type savedStatus struct {
	listing.SyncStats
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// NewStatusTracker seeds the tracker with the current record count and, when path
// is non-empty, the last persisted state. An in-progress flag is kept only while
// its run started less than syncStaleAfter ago. An unreadable snapshot is ignored.
func NewStatusTracker(totalRecords int, path string) *StatusTracker {
	return newStatusTracker(totalRecords, path, time.Now())
}

func newStatusTracker(totalRecords int, path string, now time.Time) *StatusTracker {
	t := &StatusTracker{path: path}
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			var saved savedStatus
			if json.Unmarshal(data, &saved) == nil {
				t.stats = saved.SyncStats
				t.startedAt = saved.StartedAt
			}
		}
	}
	t.stats.TotalRecords = totalRecords
	if t.stats.IsSyncing && (t.startedAt == nil || now.Sub(*t.startedAt) > syncStaleAfter) {
		t.stats.IsSyncing = false
		t.startedAt = nil
	}
	return t
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() listing.SyncStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyStats(t.stats)
}

// begin marks a run in progress and persists the flag for other processes.
func (t *StatusTracker) begin(at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := at.UTC()
	t.stats.IsSyncing = true
	t.startedAt = &ts
	return t.save()
}

// finish records the outcome of a run. lastSync is only advanced when at least
// one source delivered.
func (t *StatusTracker) finish(at time.Time, total, added int, failed []listing.Source, anySucceeded bool) (listing.SyncStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.IsSyncing = false
	t.startedAt = nil
	t.stats.TotalRecords = total
	t.stats.Added = added
	t.stats.Degraded = len(failed) > 0
	t.stats.FailedSources = append([]listing.Source(nil), failed...)
	if anySucceeded {
		ts := at.UTC()
		t.stats.LastSync = &ts
	}
	return copyStats(t.stats), t.save()
}

// abort clears the syncing flag without touching the recorded outcome.
func (t *StatusTracker) abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.IsSyncing = false
	t.startedAt = nil
	return t.save()
}

func (t *StatusTracker) save() error {
	if t.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(savedStatus{SyncStats: t.stats, StartedAt: t.startedAt}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sync status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write sync status: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return errors.Join(fmt.Errorf("replace sync status: %w", err), os.Remove(tmp))
	}
	return nil
}

func copyStats(s listing.SyncStats) listing.SyncStats {
	out := s
	if s.LastSync != nil {
		ts := *s.LastSync
		out.LastSync = &ts
	}
	out.FailedSources = append([]listing.Source(nil), s.FailedSources...)
	return out
}
