package manga

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/models"
)

// MemoryRepo is an in-process Store. It keeps the same field-scoped
// write rules as Repo but holds no progress or categories.
type MemoryRepo struct {
	Clock clock.Clock

	mu       sync.Mutex
	manga    map[string]*models.MangaRecord
	chapters map[string]*memChapter
	syncs    int
}

type memChapter struct {
	rec      models.ChapterRecord
	position int
}

func NewMemoryRepo(clk clock.Clock) *MemoryRepo {
	return &MemoryRepo{
		Clock:    clock.OrReal(clk),
		manga:    map[string]*models.MangaRecord{},
		chapters: map[string]*memChapter{},
	}
}

var _ Store = (*MemoryRepo)(nil)

// SyncCalls reports how many SyncChapters writes were made.
func (r *MemoryRepo) SyncCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncs
}

func (r *MemoryRepo) UpsertManga(ctx context.Context, p models.MangaPatch) (*models.MangaRecord, error) {
	rec, ok := newMangaRecord(p.ID)
	if !ok {
		return nil, fmt.Errorf("upsert manga %q: %w", p.ID, apperr.ErrInvalidInput)
	}
	now := r.Clock.Now().UTC()

	r.mu.Lock()
	if m, ok := r.manga[p.ID]; ok {
		applyMangaPatch(m, p)
		m.UpdatedAt = now
	} else {
		applyMangaPatch(&rec, p)
		rec.CreatedAt, rec.UpdatedAt = now, now
		r.manga[p.ID] = &rec
	}
	r.mu.Unlock()

	return r.GetManga(ctx, p.ID)
}

func (r *MemoryRepo) GetManga(_ context.Context, id string) (*models.MangaRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.manga[id]
	if !ok {
		return nil, nil
	}
	out := copyManga(*m)
	out.Chapters = r.chaptersLocked(id)
	return &out, nil
}

func copyManga(m models.MangaRecord) models.MangaRecord {
	m.Genres = append([]string{}, m.Genres...)
	m.Chapters = nil
	return m
}

func (r *MemoryRepo) ListManga(_ context.Context, q ListQuery) ([]models.MangaRecord, error) {
	q = q.normalized()
	kw := strings.ToLower(strings.TrimSpace(q.Q))

	r.mu.Lock()
	var all []models.MangaRecord
	for _, m := range r.manga {
		if q.InLibrary != nil && m.InLibrary != *q.InLibrary {
			continue
		}
		if kw != "" && !strings.Contains(strings.ToLower(m.Title), kw) && !strings.Contains(strings.ToLower(m.Author), kw) {
			continue
		}
		all = append(all, copyManga(*m))
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Title != all[j].Title {
			return all[i].Title < all[j].Title
		}
		return all[i].ID < all[j].ID
	})
	if q.Offset >= len(all) {
		return []models.MangaRecord{}, nil
	}
	all = all[q.Offset:]
	if len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, nil
}

func (r *MemoryRepo) LibraryIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	var lib []*models.MangaRecord
	for _, m := range r.manga {
		if m.InLibrary {
			lib = append(lib, m)
		}
	}
	sort.Slice(lib, func(i, j int) bool {
		if lib[i].Title != lib[j].Title {
			return lib[i].Title < lib[j].Title
		}
		return lib[i].ID < lib[j].ID
	})
	ids := make([]string, 0, len(lib))
	for _, m := range lib {
		ids = append(ids, m.ID)
	}
	r.mu.Unlock()
	return ids, nil
}

func (r *MemoryRepo) SetInLibrary(_ context.Context, id string, in bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.manga[id]
	if !ok {
		return fmt.Errorf("manga %s: %w", id, apperr.ErrNotFound)
	}
	m.InLibrary = in
	m.UpdatedAt = r.Clock.Now().UTC()
	return nil
}

func (r *MemoryRepo) chaptersLocked(mangaID string) []models.ChapterRecord {
	var list []*memChapter
	for _, c := range r.chapters {
		if c.rec.MangaID == mangaID {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].position != list[j].position {
			return list[i].position < list[j].position
		}
		return list[i].rec.ID < list[j].rec.ID
	})
	out := make([]models.ChapterRecord, 0, len(list))
	for _, c := range list {
		out = append(out, c.rec)
	}
	return out
}

func (r *MemoryRepo) Chapters(_ context.Context, mangaID string) ([]models.ChapterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chaptersLocked(mangaID), nil
}

func (r *MemoryRepo) SyncChapters(_ context.Context, mangaID string, chapters []models.Chapter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.manga[mangaID]
	if !ok {
		return 0, fmt.Errorf("manga %s: %w", mangaID, apperr.ErrNotFound)
	}
	for _, c := range chapters {
		if cur, ok := r.chapters[c.ID]; ok && cur.rec.MangaID != mangaID {
			return 0, apperr.Repo("insert chapter "+c.ID, fmt.Errorf("id owned by %s", cur.rec.MangaID))
		}
	}

	inserted := 0
	for i, c := range chapters {
		cur, ok := r.chapters[c.ID]
		if !ok {
			cur = &memChapter{rec: models.ChapterRecord{
				ID:       c.ID,
				MangaID:  mangaID,
				Download: models.DownloadState{Status: models.DownloadNone},
			}}
			r.chapters[c.ID] = cur
			inserted++
		}
		cur.position = i
		cur.rec.Number = c.Number
		cur.rec.Title = c.Title
		cur.rec.URL = c.URL
		cur.rec.PublishedAt = c.PublishedAt
	}
	m.UpdatedAt = r.Clock.Now().UTC()
	r.syncs++
	return inserted, nil
}

func (r *MemoryRepo) GetChapter(_ context.Context, chapterID string) (*models.ChapterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[chapterID]
	if !ok {
		return nil, nil
	}
	rec := c.rec
	return &rec, nil
}

func (r *MemoryRepo) EnsureChapter(ctx context.Context, mangaID string, c models.Chapter) (*models.ChapterRecord, error) {
	r.mu.Lock()
	if _, ok := r.manga[mangaID]; !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("manga %s: %w", mangaID, apperr.ErrNotFound)
	}
	if cur, ok := r.chapters[c.ID]; ok {
		r.mu.Unlock()
		if cur.rec.MangaID != mangaID {
			return nil, fmt.Errorf("chapter %s belongs to %s: %w", c.ID, cur.rec.MangaID, apperr.ErrInvalidInput)
		}
		return r.GetChapter(ctx, c.ID)
	}
	pos := -1
	for _, cur := range r.chapters {
		if cur.rec.MangaID == mangaID && cur.position > pos {
			pos = cur.position
		}
	}
	r.chapters[c.ID] = &memChapter{
		position: pos + 1,
		rec: models.ChapterRecord{
			ID:          c.ID,
			MangaID:     mangaID,
			Number:      c.Number,
			Title:       c.Title,
			URL:         c.URL,
			PublishedAt: c.PublishedAt,
			Download:    models.DownloadState{Status: models.DownloadNone},
		},
	}
	r.mu.Unlock()
	return r.GetChapter(ctx, c.ID)
}

func (r *MemoryRepo) PatchChapter(_ context.Context, chapterID string, p models.ChapterPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[chapterID]
	if !ok {
		return fmt.Errorf("chapter %s: %w", chapterID, apperr.ErrNotFound)
	}
	if p.Read != nil {
		c.rec.Read = *p.Read
	}
	if p.LastPageRead != nil {
		c.rec.LastPageRead = *p.LastPageRead
	}
	if p.TotalPages != nil {
		c.rec.TotalPages = *p.TotalPages
	}
	return nil
}

func (r *MemoryRepo) PatchDownload(_ context.Context, chapterID string, p models.DownloadPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chapters[chapterID]
	if !ok {
		return fmt.Errorf("chapter %s: %w", chapterID, apperr.ErrNotFound)
	}
	if len(p.IfStatus) > 0 && !statusIn(c.rec.Download.Status, p.IfStatus) {
		return fmt.Errorf("chapter %s is %s: %w", chapterID, c.rec.Download.Status, apperr.ErrInvalidTransition)
	}

	d := c.rec.Download
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Total != nil {
		d.Total = *p.Total
	}
	if p.Downloaded != nil {
		d.Downloaded = *p.Downloaded
	}
	if p.Error != nil {
		d.Error = *p.Error
	}
	if p.QueueSeq != nil {
		d.QueueSeq = *p.QueueSeq
	}
	if d.Total > 0 && d.Downloaded > d.Total {
		return apperr.Repo("patch download", fmt.Errorf("downloaded %d exceeds total %d", d.Downloaded, d.Total))
	}
	now := r.Clock.Now().UTC()
	d.UpdatedAt = &now
	c.rec.Download = d
	return nil
}

func (r *MemoryRepo) downloadsLocked(match func(models.DownloadStatus) bool) []models.ChapterRecord {
	var out []models.ChapterRecord
	for _, c := range r.chapters {
		if match(c.rec.Download.Status) {
			out = append(out, c.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Download.QueueSeq != out[j].Download.QueueSeq {
			return out[i].Download.QueueSeq < out[j].Download.QueueSeq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepo) NextQueued(_ context.Context) (*models.ChapterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.downloadsLocked(func(s models.DownloadStatus) bool { return s == models.DownloadQueued })
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (r *MemoryRepo) ListDownloads(_ context.Context, statuses ...models.DownloadStatus) ([]models.ChapterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.downloadsLocked(func(s models.DownloadStatus) bool {
		if len(statuses) == 0 {
			return s != models.DownloadNone && s != ""
		}
		return statusIn(s, statuses)
	})
	if out == nil {
		out = []models.ChapterRecord{}
	}
	return out, nil
}

func (r *MemoryRepo) RequeueInterrupted(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.Clock.Now().UTC()
	n := 0
	for _, c := range r.chapters {
		if c.rec.Download.Status == models.DownloadDownloading {
			c.rec.Download.Status = models.DownloadQueued
			c.rec.Download.UpdatedAt = &now
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) NextQueueSeq(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max int64
	for _, c := range r.chapters {
		if c.rec.Download.QueueSeq > max {
			max = c.rec.Download.QueueSeq
		}
	}
	return max + 1, nil
}
