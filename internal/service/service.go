package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-sentinel/internal/alerting"
	"crypto-sentinel/internal/fetcher"
	"crypto-sentinel/internal/listing"
	"crypto-sentinel/internal/scheduler"
	"crypto-sentinel/internal/storage"
)

// ErrSyncInProgress is returned when another sync run holds the store.
var ErrSyncInProgress = errors.New("sync already in progress")

// Options carry the service knobs that do not come from collaborators.
type Options struct {
	AlertsEnabled   bool
	Channels        []string
	MaxAlertsPerRun int
	AdvisoryLockKey int64
}

// Service pulls entries from every upstream source into the entry store.
type Service struct {
	scheduler *scheduler.Scheduler
	fetchers  []fetcher.SourceFetcher
	store     storage.EntryStore
	notifier  alerting.Notifier
	status    *StatusTracker
	logger    zerolog.Logger

	opts    Options
	locker  storage.AdvisoryLocker
	running atomic.Bool
	now     func() time.Time
}

// New constructs the sync service.
func New(opts Options, sched *scheduler.Scheduler, fetchers []fetcher.SourceFetcher, store storage.EntryStore, status *StatusTracker, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if status == nil {
		total, _ := store.Count(context.Background())
		status = NewStatusTracker(total, "")
	}

	return &Service{
		scheduler: sched,
		fetchers:  fetchers,
		store:     store,
		notifier:  notifier,
		status:    status,
		logger:    logger.With().Str("component", "service").Logger(),
		opts:      opts,
		locker:    locker,
		now:       time.Now,
	}
}

// Status returns the current sync status.
func (s *Service) Status() listing.SyncStats {
	return s.status.Snapshot()
}

// Run begins the scheduled sync loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, _ time.Time) error {
		_, err := s.Sync(ctx)
		if errors.Is(err, ErrSyncInProgress) {
			s.logger.Debug().Msg("skip tick because a sync is already running")
			return nil
		}
		return err
	})
}

type sourceResult struct {
	source  listing.Source
	entries []listing.Entry
	err     error
}

// Sync fetches every source and upserts whatever succeeded as a single batch.
// Failing sources degrade the returned stats; only store failures and
// cancellation are returned as errors.
func (s *Service) Sync(ctx context.Context) (listing.SyncStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return s.status.Snapshot(), ErrSyncInProgress
	}
	defer s.running.Store(false)

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return s.status.Snapshot(), err
	}
	if !proceed {
		s.logger.Debug().Msg("skip sync because advisory lock held elsewhere")
		return s.status.Snapshot(), ErrSyncInProgress
	}
	if unlock != nil {
		defer unlock()
	}

	runID := uuid.NewString()
	logger := s.logger.With().Str("run_id", runID).Logger()
	started := s.now()
	if err := s.status.begin(started); err != nil {
		logger.Warn().Err(err).Msg("failed to persist sync status")
	}

	results := s.fetchAll(ctx)
	if ctx.Err() != nil {
		s.abort(logger)
		return s.status.Snapshot(), ctx.Err()
	}

	var (
		batch     []listing.Entry
		failed    []listing.Source
		succeeded int
	)
	for _, res := range results {
		if res.err != nil {
			failed = append(failed, res.source)
			logger.Warn().Err(res.err).Str("source", string(res.source)).Msg("source fetch failed")
			continue
		}
		succeeded++
		batch = append(batch, s.acceptable(res, logger)...)
	}

	existing := s.store.GetAll(ctx)
	known := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		known[e.ID] = struct{}{}
	}
	// GetAll degrades to an empty set on read failures; an id set that disagrees with
	// Count cannot tell new entries from stored ones.
	stored, countErr := s.store.Count(ctx)
	knownReliable := countErr == nil && stored == len(known)
	if !knownReliable {
		logger.Warn().Err(countErr).Int("stored", stored).Int("read", len(known)).
			Msg("stored entries unreadable; new-entry alerts suppressed for this run")
	}
	fresh := make([]listing.Entry, 0)
	seen := make(map[string]struct{}, len(batch))
	for _, e := range batch {
		if _, ok := known[e.ID]; ok {
			continue
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}

	if err := s.store.Upsert(ctx, batch); err != nil {
		s.abort(logger)
		logger.Error().Err(err).Int("batch", len(batch)).Msg("failed to upsert entries")
		return s.status.Snapshot(), fmt.Errorf("upsert entries: %w", err)
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("count entries failed")
		total = s.status.Snapshot().TotalRecords + len(fresh)
	}

	added := len(fresh)
	if !knownReliable {
		fresh = nil
		added = 0
		if countErr == nil && err == nil && total > stored {
			added = total - stored
		}
	}

	stats, saveErr := s.status.finish(s.now(), total, added, failed, succeeded > 0)
	if saveErr != nil {
		logger.Warn().Err(saveErr).Msg("failed to persist sync status")
	}

	logger.Info().
		Int("fetched", len(batch)).
		Int("added", added).
		Int("total", total).
		Bool("degraded", stats.Degraded).
		Dur("elapsed", s.now().Sub(started)).
		Msg("sync finished")

	s.announce(ctx, runID, stats, fresh)
	return stats, nil
}

func (s *Service) abort(logger zerolog.Logger) {
	if err := s.status.abort(); err != nil {
		logger.Warn().Err(err).Msg("failed to persist sync status")
	}
}

func (s *Service) fetchAll(ctx context.Context) []sourceResult {
	results := make([]sourceResult, len(s.fetchers))
	var g errgroup.Group
	for i, f := range s.fetchers {
		i, f := i, f
		g.Go(func() error {
			entries, err := f.Fetch(ctx)
			results[i] = sourceResult{source: f.Source(), entries: entries, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// acceptable drops malformed entries and entries tagged with another source.
func (s *Service) acceptable(res sourceResult, logger zerolog.Logger) []listing.Entry {
	out := make([]listing.Entry, 0, len(res.entries))
	for _, e := range res.entries {
		if e.Source != res.source {
			logger.Warn().Str("id", e.ID).Str("source", string(res.source)).Msg("drop entry tagged with foreign source")
			continue
		}
		if err := e.Validate(); err != nil {
			logger.Warn().Err(err).Str("source", string(res.source)).Msg("drop malformed entry")
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *Service) announce(ctx context.Context, runID string, stats listing.SyncStats, fresh []listing.Entry) {
	if !s.opts.AlertsEnabled || s.notifier == nil || len(fresh) == 0 {
		return
	}

	shown := fresh
	omitted := 0
	if s.opts.MaxAlertsPerRun > 0 && len(shown) > s.opts.MaxAlertsPerRun {
		omitted = len(shown) - s.opts.MaxAlertsPerRun
		shown = shown[:s.opts.MaxAlertsPerRun]
	}

	note := alerting.Notification{
		RunID:     runID,
		SyncedAt:  s.now(),
		Entries:   shown,
		Omitted:   omitted,
		Channels:  s.opts.Channels,
		Degraded:  stats.Degraded,
		FailedSrc: stats.FailedSources,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
