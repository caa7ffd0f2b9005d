// Package librarysync reconciles the library against its sources.
package librarysync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mangashelf/internal/apperr"
	"mangashelf/internal/events"
	"mangashelf/internal/manga"
	"mangashelf/internal/source"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/models"
)

type Config struct {
	BatchSize  int
	BatchDelay time.Duration
	Workers    int
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	return c
}

type Progress struct {
	Current  int    `json:"current"`
	Total    int    `json:"total"`
	MangaID  string `json:"manga_id"`
	Title    string `json:"title,omitempty"`
	SourceID string `json:"source_id"`
}

type Failure struct {
	MangaID  string      `json:"manga_id"`
	Title    string      `json:"title,omitempty"`
	SourceID string      `json:"source_id,omitempty"`
	Kind     apperr.Kind `json:"kind"`
	Message  string      `json:"message"`
}

type NewChapter struct {
	MangaID  string         `json:"manga_id"`
	SourceID string         `json:"source_id"`
	Chapter  models.Chapter `json:"chapter"`
}

type Result struct {
	Total       int          `json:"total"`
	Updated     int          `json:"updated"`
	Unchanged   int          `json:"unchanged"`
	NewChapters int          `json:"new_chapters"`
	Added       []NewChapter `json:"added,omitempty"`
	Failures    []Failure    `json:"failures"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Engine runs sync passes. Only one pass runs at a time; within a pass
// different manga are fetched in parallel, so each chapter row still
// has a single writer.
type Engine struct {
	Store    manga.Store
	Registry *source.Registry
	Events   events.Publisher
	Clock    clock.Clock
	Log      *zap.Logger
	Config   Config

	running atomic.Bool

	mu   sync.Mutex
	last *Result
}

func NewEngine(store manga.Store, reg *source.Registry, pub events.Publisher, clk clock.Clock, log *zap.Logger, cfg Config) *Engine {
	return &Engine{
		Store:    store,
		Registry: reg,
		Events:   events.OrNop(pub),
		Clock:    clock.OrReal(clk),
		Log:      logging.OrNop(log),
		Config:   cfg.normalized(),
	}
}

func (e *Engine) Running() bool { return e.running.Load() }

// Last returns the result of the most recent finished pass.
func (e *Engine) Last() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}

// pass is the shared state of one Run.
type pass struct {
	total      int
	onProgress func(Progress)

	mu      sync.Mutex
	current int
	blocked map[string]error
	res     *Result
}

func (p *pass) blockedBy(sourceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked[sourceID]
}

func (p *pass) block(sourceID string, err error) {
	p.mu.Lock()
	if _, ok := p.blocked[sourceID]; !ok {
		p.blocked[sourceID] = err
	}
	p.mu.Unlock()
}

func (p *pass) fail(f Failure) {
	p.mu.Lock()
	p.res.Failures = append(p.res.Failures, f)
	p.mu.Unlock()
}

// Run syncs ids, or every in-library manga when ids is empty. Per-manga
// failures land in Result.Failures; the returned error is reserved for
// a concurrent pass, a failing library lookup or ctx cancellation, in
// which case the partial result is returned with it.
func (e *Engine) Run(ctx context.Context, ids []string, onProgress func(Progress)) (Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, apperr.ErrSyncInProgress
	}
	defer e.running.Store(false)

	if len(ids) == 0 {
		var err error
		if ids, err = e.Store.LibraryIDs(ctx); err != nil {
			return Result{}, err
		}
	}

	res := Result{Total: len(ids), Failures: []Failure{}, StartedAt: e.Clock.Now().UTC()}
	p := &pass{total: len(ids), onProgress: onProgress, blocked: map[string]error{}, res: &res}
	e.Log.Info("sync started", zap.Int("total", len(ids)), zap.Int("batch_size", e.Config.BatchSize))

	var runErr error
	for start := 0; start < len(ids); start += e.Config.BatchSize {
		if start > 0 && e.Config.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-e.Clock.After(e.Config.BatchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		end := min(start+e.Config.BatchSize, len(ids))
		var g errgroup.Group
		g.SetLimit(e.Config.Workers)
		for _, id := range ids[start:end] {
			g.Go(func() error {
				e.syncOne(ctx, id, p)
				return nil
			})
		}
		_ = g.Wait()
	}

	res.FinishedAt = e.Clock.Now().UTC()
	if runErr == nil {
		runErr = ctx.Err()
	}

	e.mu.Lock()
	last := res
	e.last = &last
	e.mu.Unlock()

	e.Log.Info("sync finished",
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("new_chapters", res.NewChapters),
		zap.Int("failed", len(res.Failures)),
	)
	e.Events.Publish(events.New(events.TypeSyncFinished, res.FinishedAt, res))
	return res, runErr
}

func (e *Engine) report(p *pass, m *models.MangaRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	pr := Progress{Current: p.current, Total: p.total, MangaID: m.ID, Title: m.Title, SourceID: m.SourceID}
	if p.onProgress != nil {
		p.onProgress(pr)
	}
	e.Events.Publish(events.New(events.TypeSyncProgress, e.Clock.Now(), pr))
}

func (e *Engine) syncOne(ctx context.Context, id string, p *pass) {
	if ctx.Err() != nil {
		return
	}
	log := e.Log.With(zap.String("manga_id", id))

	m, err := e.Store.GetManga(ctx, id)
	if err == nil && m == nil {
		err = fmt.Errorf("manga %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		log.Warn("sync lookup", zap.Error(err))
		p.fail(Failure{MangaID: id, Kind: apperr.KindOf(err), Message: err.Error()})
		return
	}
	e.report(p, m)

	failed := func(err error) {
		log.Warn("sync manga", zap.String("source_id", m.SourceID), zap.Error(err))
		p.fail(Failure{
			MangaID:  m.ID,
			Title:    m.Title,
			SourceID: m.SourceID,
			Kind:     apperr.KindOf(err),
			Message:  err.Error(),
		})
	}

	src, err := e.Registry.Lookup(m.SourceID)
	if err != nil {
		failed(err)
		return
	}
	if cause := p.blockedBy(m.SourceID); cause != nil {
		failed(fmt.Errorf("source %s blocked for this pass: %w", m.SourceID, cause))
		return
	}

	fetched, err := src.ChapterList(ctx, m.URL)
	if err != nil {
		if apperr.IsChallenge(err) {
			p.block(m.SourceID, err)
		}
		failed(err)
		return
	}

	merged := Merge(m.Chapters, fetched)
	if Unchanged(m.Chapters, merged) {
		p.mu.Lock()
		p.res.Unchanged++
		p.mu.Unlock()
		log.Debug("sync unchanged")
		return
	}

	if _, err := e.Store.SyncChapters(ctx, m.ID, merged); err != nil {
		failed(err)
		return
	}

	added := Added(m.Chapters, merged)
	p.mu.Lock()
	p.res.Updated++
	p.res.NewChapters += len(added)
	for _, c := range added {
		p.res.Added = append(p.res.Added, NewChapter{MangaID: m.ID, SourceID: m.SourceID, Chapter: c})
	}
	p.mu.Unlock()
	log.Debug("sync updated", zap.Int("new_chapters", len(added)))
}
