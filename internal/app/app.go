// Package app builds the dependency graph shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"mangashelf/internal/cache"
	"mangashelf/internal/download"
	"mangashelf/internal/events"
	"mangashelf/internal/grpcserver"
	"mangashelf/internal/library"
	"mangashelf/internal/librarysync"
	"mangashelf/internal/manga"
	"mangashelf/internal/progress"
	"mangashelf/internal/source"
	"mangashelf/internal/transport"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/database"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/utils"
)

type App struct {
	Config utils.AppConfig
	Log    *zap.Logger
	Clock  clock.Clock
	DB     *sql.DB

	Transport *transport.Client
	Cache     cache.Cache
	Registry  *source.Registry

	Manga      *manga.Repo
	Categories *library.Repo
	Progress   *progress.Repo

	Hub    *events.Hub
	NATS   *events.NATSPublisher
	Events events.Publisher

	Library   *library.Service
	Tracker   *progress.Tracker
	Engine    *librarysync.Engine
	Scheduler *librarysync.Scheduler
	Downloads *download.Manager

	closers []func()
}

// New opens the database, applies the schema and wires every component.
// The caller owns the returned App and must Close it.
func New(cfg utils.AppConfig, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: logging.OrNop(log), Clock: clock.Real()}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config

	db, err := database.OpenMigrated(database.Config{Path: cfg.DBPath})
	if err != nil {
		return err
	}
	a.DB = db
	a.onClose(func() { _ = db.Close() })

	a.Transport = transport.New(transport.Config{
		UserAgent:          cfg.Transport.UserAgent,
		Timeout:            cfg.Transport.Timeout,
		RPS:                cfg.Transport.RPS,
		Burst:              cfg.Transport.Burst,
		MaxRetries:         cfg.Transport.MaxRetries,
		RetryBaseDelay:     cfg.Transport.RetryBaseDelay,
		CBFailureThreshold: cfg.Transport.CBFailureThreshold,
		CBTimeout:          cfg.Transport.CBTimeout,
	}, transport.WithLogger(a.Log.Named("transport")), transport.WithClock(a.Clock))

	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL, "mangashelf:")
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		a.Cache = rc
		a.onClose(func() { _ = rc.Client.Close() })
	} else {
		a.Cache = cache.NewMemoryCache(a.Clock)
	}

	reg, err := source.BuildRegistry(cfg.Sources, a.Transport, a.Cache, cfg.CacheTTL, a.Clock, a.Log.Named("source"))
	if err != nil {
		return err
	}
	a.Registry = reg

	a.Manga = manga.NewRepo(db, a.Clock)
	a.Categories = library.NewRepo(db)
	a.Progress = progress.NewRepo(db)

	a.Hub = events.NewHub(a.Log.Named("events"))
	nc, err := events.NewNATSPublisher(cfg.NATSURL, a.Log.Named("nats"))
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	a.NATS = nc
	a.onClose(nc.Close)
	a.Events = events.Multi{a.Hub, nc}

	a.Library = library.NewService(a.Manga, reg, a.Events, a.Clock, a.Log.Named("library"))
	a.Tracker = progress.NewTracker(a.Manga, a.Progress,
		progress.NewHistoryPolicy(cfg.HistoryInterval, a.Clock), a.Clock, a.Log.Named("progress"))

	a.Downloads = download.NewManager(a.Manga, reg, a.Transport, a.Events, a.Clock, a.Log.Named("download"), download.Config{
		Dir:          cfg.Download.Dir,
		Workers:      cfg.Download.Workers,
		PollInterval: cfg.Download.PollInterval,
	})
	a.Engine = librarysync.NewEngine(a.Manga, reg, a.Events, a.Clock, a.Log.Named("sync"), librarysync.Config{
		BatchSize:  cfg.Sync.BatchSize,
		BatchDelay: cfg.Sync.BatchDelay,
		Workers:    cfg.Sync.Workers,
	})
	a.Scheduler = librarysync.NewScheduler(a.Engine, cfg.Sync.Interval, cfg.Sync.AutoDownload, a.Downloads, a.Clock, a.Log.Named("scheduler"))
	return nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// HealthChecks feeds the gRPC health service.
func (a *App) HealthChecks() map[string]grpcserver.Check {
	return map[string]grpcserver.Check{
		grpcserver.ServiceStore: func(ctx context.Context) bool {
			return a.DB.PingContext(ctx) == nil
		},
		grpcserver.ServiceDownloads: func(context.Context) bool {
			return a.Downloads.Running()
		},
		// a pass in which every title failed usually means no network
		grpcserver.ServiceSync: func(context.Context) bool {
			last := a.Engine.Last()
			return last == nil || last.Total == 0 || len(last.Failures) < last.Total
		},
	}
}
