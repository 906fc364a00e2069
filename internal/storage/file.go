package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/listing"
)

const (
	fileFormatVersion = 1
	defaultFileName   = "entries.json"

	lockRetryInterval = 25 * time.Millisecond
	lockWaitTimeout   = 10 * time.Second
	staleLockAge      = 2 * time.Minute
)

// ErrStoreBusy is returned when another process holds the entry store lock for too long.
var ErrStoreBusy = errors.New("storage: entry store locked by another process")

type fileDocument struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Entries []listing.Entry `json:"entries"`
}

// fileStamp identifies the on-disk document version a process last observed.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func (s fileStamp) same(other fileStamp) bool {
	return s.size == other.size && s.modTime.Equal(other.modTime)
}

// FileStore persists entries as a single JSON document under a data directory.
// Writes go to a temp file that is renamed over the document, so a reader never
// sees a partially written batch. Several processes may share the document: writers
// serialise on a lock file next to it and merge onto the latest persisted state,
// and readers reload whenever the document changed on disk.
type FileStore struct {
	path   string
	logger zerolog.Logger

	mu       sync.Mutex
	entries  []listing.Entry
	index    map[string]int
	stamp    fileStamp
	revision uint64
}

// NewFileStore opens (or creates) the store in dir. A corrupt document is moved aside
// and the store starts empty.
func NewFileStore(dir, name string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage.data_dir is required: %w", ErrNotConfigured)
	}
	if name == "" {
		name = defaultFileName
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	fs := &FileStore{
		path:   filepath.Join(dir, name),
		logger: logger.With().Str("component", "file_store").Logger(),
		index:  make(map[string]int),
	}
	fs.adopt(fs.readDocument())
	fs.revision = 1
	fs.logger.Debug().Int("entries", len(fs.entries)).Str("path", fs.path).Msg("entry store loaded")
	return fs, nil
}

// Path returns the backing document location.
func (f *FileStore) Path() string {
	return f.path
}

// readDocument returns the persisted entries. A missing document reads as empty and a
// corrupt one is moved aside.
func (f *FileStore) readDocument() []listing.Entry {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn().Err(err).Str("path", f.path).Msg("entry store unreadable; starting empty")
		}
		return nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		f.quarantine(err)
		return nil
	}

	valid := make([]listing.Entry, 0, len(doc.Entries))
	dropped := 0
	for _, e := range doc.Entries {
		if e.Validate() != nil {
			dropped++
			continue
		}
		valid = append(valid, e)
	}
	if dropped > 0 {
		f.logger.Warn().Int("dropped", dropped).Msg("skipped malformed entries while loading")
	}
	return valid
}

// adopt replaces the in-memory state with entries read from disk. The revision moves
// only when the content differs.
func (f *FileStore) adopt(entries []listing.Entry) {
	merged, index, _ := merge(nil, map[string]int{}, entries)
	if !slices.Equal(merged, f.entries) {
		f.revision++
	}
	f.entries, f.index = merged, index
	f.stamp = statStamp(f.path)
}

// refresh reloads the document when another process rewrote it.
func (f *FileStore) refresh() {
	if statStamp(f.path).same(f.stamp) {
		return
	}
	f.logger.Debug().Str("path", f.path).Msg("entry store changed on disk; reloading")
	f.adopt(f.readDocument())
}

func statStamp(path string) fileStamp {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}
}

func (f *FileStore) quarantine(cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().UTC().Unix())
	if err := os.Rename(f.path, aside); err != nil {
		f.logger.Warn().Err(err).Msg("failed to move corrupt entry store aside")
	}
	f.logger.Warn().Err(cause).Str("moved_to", aside).Msg("entry store corrupt; starting empty")
}

// lock takes the cross-process write lock. A lock file older than staleLockAge is
// assumed to belong to a crashed process and is removed.
func (f *FileStore) lock(ctx context.Context) (func(), error) {
	lockPath := f.path + ".lock"
	deadline := time.Now().Add(lockWaitTimeout)
	for {
		fh, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(fh, "%d\n", os.Getpid())
			fh.Close()
			return func() {
				if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
					f.logger.Warn().Err(err).Str("lock", lockPath).Msg("failed to release entry store lock")
				}
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			f.logger.Warn().Str("lock", lockPath).Time("locked_at", info.ModTime()).Msg("removing stale entry store lock")
			os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrStoreBusy, lockPath)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (f *FileStore) GetAll(ctx context.Context) []listing.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh()
	out := make([]listing.Entry, len(f.entries))
	copy(out, f.entries)
	return out
}

// Upsert merges the batch onto the latest persisted document while holding the lock file.
func (f *FileStore) Upsert(ctx context.Context, entries []listing.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validateBatch(entries); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	f.adopt(f.readDocument())
	merged, index, changed := merge(f.entries, f.index, entries)
	if !changed {
		return nil
	}
	if err := f.persist(merged); err != nil {
		return err
	}
	f.entries, f.index = merged, index
	f.stamp = statStamp(f.path)
	f.revision++
	return nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := f.persist([]listing.Entry{}); err != nil {
		return err
	}
	f.entries = nil
	f.index = make(map[string]int)
	f.stamp = statStamp(f.path)
	f.revision++
	return nil
}

func (f *FileStore) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh()
	return len(f.entries), nil
}

func (f *FileStore) Revision(ctx context.Context) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh()
	return f.revision
}

func (f *FileStore) Close() {}

func (f *FileStore) persist(entries []listing.Entry) error {
	doc := fileDocument{
		Version: fileFormatVersion,
		SavedAt: time.Now().UTC(),
		Entries: entries,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write entries: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync entries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace entry store: %w", err)
	}
	return nil
}

var _ EntryStore = (*FileStore)(nil)
