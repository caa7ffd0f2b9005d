// Package download runs the persisted chapter download queue.
package download

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mangashelf/internal/apperr"
	"mangashelf/internal/events"
	"mangashelf/internal/manga"
	"mangashelf/internal/source"
	"mangashelf/internal/transport"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/models"
)

// Transferer copies one remote asset to a local path.
type Transferer interface {
	Download(ctx context.Context, url, dest string, headers map[string]string) (int, error)
}

type Config struct {
	Dir          string
	Workers      int
	PollInterval time.Duration
}

func (c Config) normalized() Config {
	if c.Dir == "" {
		c.Dir = "downloads"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Update is the payload of download.update events.
type Update struct {
	ChapterID  string                `json:"chapter_id"`
	MangaID    string                `json:"manga_id"`
	Status     models.DownloadStatus `json:"status"`
	Downloaded int                   `json:"downloaded"`
	Total      int                   `json:"total"`
	Error      string                `json:"error,omitempty"`
}

// Manager owns the download queue. The queue itself lives in the
// chapters' persisted download state; the manager only keeps the set of
// chapters its workers are transferring right now.
type Manager struct {
	Store    manga.Store
	Registry *source.Registry
	Transfer Transferer
	Events   events.Publisher
	Clock    clock.Clock
	Log      *zap.Logger
	Config   Config

	running atomic.Bool
	wake    chan struct{}

	// claimMu serializes every status transition made outside a worker's
	// own task, so FIFO claims and user actions never interleave.
	claimMu sync.Mutex

	mu       sync.Mutex
	active   map[string]bool
	canceled map[string]bool
}

func NewManager(store manga.Store, reg *source.Registry, tr Transferer, pub events.Publisher, clk clock.Clock, log *zap.Logger, cfg Config) *Manager {
	return &Manager{
		Store:    store,
		Registry: reg,
		Transfer: tr,
		Events:   events.OrNop(pub),
		Clock:    clock.OrReal(clk),
		Log:      logging.OrNop(log),
		Config:   cfg.normalized(),
		wake:     make(chan struct{}, 1),
		active:   map[string]bool{},
		canceled: map[string]bool{},
	}
}

// Wake nudges an idle worker to look for queued work.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) Running() bool { return m.running.Load() }

// Queue puts chapter on the queue. A chapter that is already queued,
// downloading or downloaded is left alone and its current task returned.
func (m *Manager) Queue(ctx context.Context, chapter models.Chapter, mangaID, sourceID string) (*models.DownloadTask, error) {
	src, _, ok := models.SplitCompoundID(mangaID)
	if !ok || (sourceID != "" && sourceID != src) {
		return nil, fmt.Errorf("manga %q of source %q: %w", mangaID, sourceID, apperr.ErrInvalidInput)
	}
	if _, err := m.Store.EnsureChapter(ctx, mangaID, chapter); err != nil {
		return nil, err
	}
	return m.enqueue(ctx, chapter.ID, false)
}

// QueueByID queues a chapter that is already stored.
func (m *Manager) QueueByID(ctx context.Context, chapterID string) (*models.DownloadTask, error) {
	return m.enqueue(ctx, chapterID, false)
}

// Retry re-queues an ERROR or PAUSED chapter. Pages already on disk are
// kept and the transfer resumes after them.
func (m *Manager) Retry(ctx context.Context, chapterID string) (*models.DownloadTask, error) {
	return m.enqueue(ctx, chapterID, true)
}

func (m *Manager) enqueue(ctx context.Context, chapterID string, retry bool) (*models.DownloadTask, error) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	c, err := m.chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	from := c.Download.Status
	if from == "" {
		from = models.DownloadNone
	}
	// queueing again withdraws a cancel the worker has not acted on yet
	if from == models.DownloadDownloading && m.withdrawCancel(chapterID) {
		t := models.TaskOf(*c)
		return &t, nil
	}
	if retry && from != models.DownloadError && from != models.DownloadPaused {
		return nil, fmt.Errorf("retry chapter %s from %s: %w", chapterID, from, apperr.ErrInvalidTransition)
	}
	if from.Enqueued() {
		t := models.TaskOf(*c)
		return &t, nil
	}
	if !models.CanTransitionDownload(from, models.DownloadQueued) {
		return nil, fmt.Errorf("queue chapter %s from %s: %w", chapterID, from, apperr.ErrInvalidTransition)
	}

	seq, err := m.Store.NextQueueSeq(ctx)
	if err != nil {
		return nil, err
	}
	queued := models.DownloadQueued
	if err := m.Store.PatchDownload(ctx, chapterID, models.DownloadPatch{
		Status:   &queued,
		QueueSeq: &seq,
		Error:    models.Ptr(""),
		IfStatus: []models.DownloadStatus{from},
	}); err != nil {
		return nil, err
	}

	c, err = m.chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	m.publish(c)
	m.Wake()
	t := models.TaskOf(*c)
	return &t, nil
}

// Cancel pauses a queued or downloading chapter. A chapter mid-transfer
// stops after its current page; pages already written are kept.
func (m *Manager) Cancel(ctx context.Context, chapterID string) (*models.DownloadTask, error) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	c, err := m.chapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}

	switch c.Download.Status {
	case models.DownloadQueued:
	case models.DownloadDownloading:
		m.mu.Lock()
		inFlight := m.active[chapterID]
		if inFlight {
			m.canceled[chapterID] = true
		}
		m.mu.Unlock()
		if inFlight {
			t := models.TaskOf(*c)
			return &t, nil
		}
	default:
		return nil, fmt.Errorf("cancel chapter %s from %s: %w", chapterID, c.Download.Status, apperr.ErrInvalidTransition)
	}

	paused := models.DownloadPaused
	if err := m.Store.PatchDownload(ctx, chapterID, models.DownloadPatch{
		Status:   &paused,
		IfStatus: []models.DownloadStatus{c.Download.Status},
	}); err != nil {
		return nil, err
	}
	if c, err = m.chapter(ctx, chapterID); err != nil {
		return nil, err
	}
	m.publish(c)
	t := models.TaskOf(*c)
	return &t, nil
}

// List returns tasks in queue order; with no statuses every chapter that
// was ever queued.
func (m *Manager) List(ctx context.Context, statuses ...models.DownloadStatus) ([]models.DownloadTask, error) {
	recs, err := m.Store.ListDownloads(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	out := make([]models.DownloadTask, 0, len(recs))
	for _, c := range recs {
		out = append(out, models.TaskOf(c))
	}
	return out, nil
}

func (m *Manager) chapter(ctx context.Context, chapterID string) (*models.ChapterRecord, error) {
	c, err := m.Store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("chapter %s: %w", chapterID, apperr.ErrNotFound)
	}
	return c, nil
}

func (m *Manager) publish(c *models.ChapterRecord) {
	m.Events.Publish(events.New(events.TypeDownloadUpdate, m.Clock.Now(), Update{
		ChapterID:  c.ID,
		MangaID:    c.MangaID,
		Status:     c.Download.Status,
		Downloaded: c.Download.Downloaded,
		Total:      c.Download.Total,
		Error:      c.Download.Error,
	}))
}

// Run processes the queue until ctx is done. Chapters a previous run
// left DOWNLOADING are queued again first. Only one Run may be active.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return apperr.ErrQueueRunning
	}
	defer m.running.Store(false)

	n, err := m.Store.RequeueInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		m.Log.Info("requeued interrupted downloads", zap.Int("count", n))
	}
	m.Log.Info("download workers started", zap.Int("workers", m.Config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < m.Config.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			m.work(ctx, worker)
		}(i)
	}
	wg.Wait()
	m.Log.Info("download workers stopped")
	return nil
}

func (m *Manager) work(ctx context.Context, worker int) {
	log := m.Log.With(zap.Int("worker", worker))
	for ctx.Err() == nil {
		c, err := m.claim(ctx)
		if err != nil {
			log.Warn("claim download", zap.Error(err))
		}
		if c == nil {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
			case <-m.Clock.After(m.Config.PollInterval):
			}
			continue
		}
		// let another idle worker look for more
		m.Wake()
		m.process(ctx, c, log)
	}
}

// claim moves the oldest QUEUED chapter to DOWNLOADING.
func (m *Manager) claim(ctx context.Context) (*models.ChapterRecord, error) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()

	c, err := m.Store.NextQueued(ctx)
	if err != nil || c == nil {
		return nil, err
	}
	downloading := models.DownloadDownloading
	if err := m.Store.PatchDownload(ctx, c.ID, models.DownloadPatch{
		Status:   &downloading,
		Error:    models.Ptr(""),
		IfStatus: []models.DownloadStatus{models.DownloadQueued},
	}); err != nil {
		return nil, err
	}
	c.Download.Status = downloading
	c.Download.Error = ""

	m.mu.Lock()
	m.active[c.ID] = true
	m.mu.Unlock()

	m.publish(c)
	return c, nil
}

func (m *Manager) cancelRequested(chapterID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canceled[chapterID]
}

func (m *Manager) withdrawCancel(chapterID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canceled[chapterID] {
		return false
	}
	delete(m.canceled, chapterID)
	return true
}

func (m *Manager) release(chapterID string) {
	m.mu.Lock()
	delete(m.active, chapterID)
	delete(m.canceled, chapterID)
	m.mu.Unlock()
}

// finish moves c out of DOWNLOADING. It runs under claimMu so a Cancel
// never sees the chapter half released.
func (m *Manager) finish(ctx context.Context, c *models.ChapterRecord, status models.DownloadStatus, msg string) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()
	m.finishLocked(ctx, c, status, msg)
}

// pause stops c with PAUSED if a cancel is still pending. The check and
// the write share claimMu with enqueue, which may withdraw the cancel.
func (m *Manager) pause(ctx context.Context, c *models.ChapterRecord) bool {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()
	if !m.cancelRequested(c.ID) {
		return false
	}
	m.finishLocked(ctx, c, models.DownloadPaused, "")
	return true
}

func (m *Manager) finishLocked(ctx context.Context, c *models.ChapterRecord, status models.DownloadStatus, msg string) {
	defer m.release(c.ID)

	p := models.DownloadPatch{
		Status:   &status,
		IfStatus: []models.DownloadStatus{models.DownloadDownloading},
	}
	if status == models.DownloadError {
		p.Error = &msg
	}
	if err := m.Store.PatchDownload(ctx, c.ID, p); err != nil {
		m.Log.Warn("finish download", zap.String("chapter_id", c.ID), zap.Error(err))
		return
	}
	c.Download.Status = status
	c.Download.Error = msg
	m.publish(c)
}

func (m *Manager) process(ctx context.Context, c *models.ChapterRecord, log *zap.Logger) {
	log = log.With(zap.String("chapter_id", c.ID))

	fail := func(err error) {
		log.Warn("download failed", zap.String("kind", string(apperr.KindOf(err))), zap.Error(err))
		m.finish(ctx, c, models.DownloadError, err.Error())
	}
	// shutdown leaves the chapter DOWNLOADING for the next Run to requeue
	stopped := func() bool {
		if ctx.Err() == nil {
			return false
		}
		m.release(c.ID)
		return true
	}

	sourceID, _, _ := models.SplitCompoundID(c.MangaID)
	src, err := m.Registry.Lookup(sourceID)
	if err != nil {
		fail(err)
		return
	}

	pages, err := src.PageList(ctx, c.URL)
	if err != nil {
		if stopped() {
			return
		}
		fail(err)
		return
	}

	total := c.Download.Total
	switch {
	case len(pages) == 0:
		fail(fmt.Errorf("chapter %s has no pages", c.ID))
		return
	case total == 0:
		total = len(pages)
		if err := m.Store.PatchDownload(ctx, c.ID, models.DownloadPatch{Total: &total}); err != nil {
			fail(err)
			return
		}
		c.Download.Total = total
		m.publish(c)
	case total != len(pages):
		fail(fmt.Errorf("page list changed: had %d pages, now %d", total, len(pages)))
		return
	}

	dir := filepath.Join(m.Config.Dir, safeName(sourceID), safeName(c.MangaID), safeName(c.ID))
	imageHeaders := src.ImageHeaders()

	for i := c.Download.Downloaded; i < total; i++ {
		if m.cancelRequested(c.ID) && m.pause(ctx, c) {
			log.Info("download paused", zap.Int("downloaded", i))
			return
		}
		if stopped() {
			return
		}

		page := pages[i]
		dest := filepath.Join(dir, fmt.Sprintf("%03d%s", i, imageExt(page.ImageURL)))
		headers := transport.MergeHeaders(imageHeaders, page.Headers)
		if _, err := m.Transfer.Download(ctx, page.ImageURL, dest, headers); err != nil {
			if stopped() {
				return
			}
			fail(fmt.Errorf("page %d: %w", i, err))
			return
		}

		done := i + 1
		if err := m.Store.PatchDownload(ctx, c.ID, models.DownloadPatch{Downloaded: &done}); err != nil {
			fail(err)
			return
		}
		c.Download.Downloaded = done
		m.publish(c)
	}

	log.Info("download finished", zap.Int("pages", total))
	m.finish(ctx, c, models.DownloadDownloaded, "")
}

// imageExt keeps the extension of the image URL path, defaulting to .jpg.
func imageExt(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".avif", ".bmp":
		return ext
	}
	return ".jpg"
}

var unsafeChars = strings.NewReplacer("/", "-", "\\", "-", ":", "-", "\x00", "")

func safeName(s string) string {
	s = unsafeChars.Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
