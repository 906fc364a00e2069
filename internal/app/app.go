package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crypto-sentinel/internal/alerting"
	"crypto-sentinel/internal/config"
	"crypto-sentinel/internal/fetcher"
	"crypto-sentinel/internal/listing"
	"crypto-sentinel/internal/scheduler"
	"crypto-sentinel/internal/service"
	"crypto-sentinel/internal/storage"
)

const statusFileName = "sync_status.json"

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFetchers() []fetcher.SourceFetcher {
	src := a.Config.Sources
	fetchers := make([]fetcher.SourceFetcher, 0, 3)
	if src.CMC.Enabled {
		fetchers = append(fetchers, fetcher.NewCMC(fetcherOptions(src.CMC), a.Logger))
	}
	if src.Ourbit.Enabled {
		fetchers = append(fetchers, fetcher.NewOurbit(fetcherOptions(src.Ourbit), a.Logger))
	}
	if src.MEXC.Enabled {
		fetchers = append(fetchers, fetcher.NewMEXC(fetcherOptions(src.MEXC), a.Logger))
	}
	return fetchers
}

func fetcherOptions(cfg config.SourceConfig) fetcher.Options {
	return fetcher.Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		UserAgent:         cfg.UserAgent,
		Limit:             cfg.Limit,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.EntryStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Storage, a.Config.Database, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) statusPath() string {
	if a.Config.Storage.DataDir == "" || a.Config.Storage.Driver == config.DriverMemory {
		return ""
	}
	return filepath.Join(a.Config.Storage.DataDir, statusFileName)
}

func (a *App) newStatusTracker(ctx context.Context, store storage.EntryStore) *service.StatusTracker {
	total, err := store.Count(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("count entries failed")
	}
	return service.NewStatusTracker(total, a.statusPath())
}

func (a *App) newService(ctx context.Context, store storage.EntryStore, sched *scheduler.Scheduler) *service.Service {
	opts := service.Options{
		AlertsEnabled:   a.Config.Alerting.Enabled,
		Channels:        a.Config.Alerting.Channels,
		MaxAlertsPerRun: a.Config.Alerting.MaxPerRun,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}
	return service.New(opts, sched, a.newFetchers(), store, a.newStatusTracker(ctx, store), a.newNotifier(), a.Logger)
}

func (a *App) newView() (*listing.View, error) {
	return listing.NewView(a.Config.Storage.ViewCacheItems)
}

// Run executes the long-running sync service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.SyncOnStart,
	}, a.Logger)

	svc := a.newService(ctx, store, sched)

	a.Logger.Info().Str("driver", a.Config.Storage.Driver).Dur("interval", a.Config.Scheduler.Interval).Msg("starting sync service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("sync service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Filter string
	Source listing.Source
	Limit  int
}

// ExportOptions hold parameters for exporting entries and charts.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
	Filter  string
}
