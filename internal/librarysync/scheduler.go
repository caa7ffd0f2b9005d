package librarysync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/models"
)

// Enqueuer is the slice of the download manager auto-download needs.
type Enqueuer interface {
	Queue(ctx context.Context, chapter models.Chapter, mangaID, sourceID string) (*models.DownloadTask, error)
}

// Scheduler runs periodic passes and optionally queues every chapter a
// pass discovers.
type Scheduler struct {
	Engine       *Engine
	Interval     time.Duration
	AutoDownload bool
	Downloads    Enqueuer
	Clock        clock.Clock
	Log          *zap.Logger
}

func NewScheduler(engine *Engine, interval time.Duration, autoDownload bool, downloads Enqueuer, clk clock.Clock, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Engine:       engine,
		Interval:     interval,
		AutoDownload: autoDownload,
		Downloads:    downloads,
		Clock:        clock.OrReal(clk),
		Log:          logging.OrNop(log),
	}
}

// Run blocks until ctx is done. A non-positive Interval disables
// periodic passes.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		s.Log.Info("periodic sync disabled")
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Clock.After(s.Interval):
		}
		if _, err := s.RunOnce(ctx, nil, nil); err != nil && !errors.Is(err, context.Canceled) {
			s.Log.Warn("periodic sync", zap.Error(err))
		}
	}
}

// RunOnce runs one pass and queues its new chapters when AutoDownload is
// on. A pass already in flight yields ErrSyncInProgress.
func (s *Scheduler) RunOnce(ctx context.Context, ids []string, onProgress func(Progress)) (Result, error) {
	res, err := s.Engine.Run(ctx, ids, onProgress)
	if errors.Is(err, apperr.ErrSyncInProgress) {
		return res, err
	}
	if s.AutoDownload && s.Downloads != nil {
		for _, a := range res.Added {
			if _, qerr := s.Downloads.Queue(ctx, a.Chapter, a.MangaID, a.SourceID); qerr != nil {
				s.Log.Warn("auto download",
					zap.String("chapter_id", a.Chapter.ID),
					zap.Error(qerr),
				)
			}
		}
	}
	return res, err
}
