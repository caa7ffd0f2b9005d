package manga

import (
	"context"

	"mangashelf/pkg/models"
)

// Store is the persistence boundary for manga and their embedded
// chapters. Every write is field-scoped: sync refreshes chapter metadata,
// the reader flips read state and the download queue moves download
// state, and none of them may clobber the others.
//
// Lookups of missing records return nil, nil.
type Store interface {
	UpsertManga(ctx context.Context, p models.MangaPatch) (*models.MangaRecord, error)
	GetManga(ctx context.Context, id string) (*models.MangaRecord, error)
	ListManga(ctx context.Context, q ListQuery) ([]models.MangaRecord, error)
	LibraryIDs(ctx context.Context) ([]string, error)
	SetInLibrary(ctx context.Context, id string, in bool) error

	Chapters(ctx context.Context, mangaID string) ([]models.ChapterRecord, error)
	// SyncChapters stores chapters in the given order in one atomic
	// step: unseen ids are inserted with default reader and download
	// state, known ids get their metadata and position refreshed.
	// Nothing is deleted. It returns the number of inserted chapters.
	SyncChapters(ctx context.Context, mangaID string, chapters []models.Chapter) (int, error)
	GetChapter(ctx context.Context, chapterID string) (*models.ChapterRecord, error)
	EnsureChapter(ctx context.Context, mangaID string, c models.Chapter) (*models.ChapterRecord, error)
	PatchChapter(ctx context.Context, chapterID string, p models.ChapterPatch) error

	PatchDownload(ctx context.Context, chapterID string, p models.DownloadPatch) error
	// NextQueued returns the QUEUED chapter with the lowest queue_seq.
	NextQueued(ctx context.Context) (*models.ChapterRecord, error)
	ListDownloads(ctx context.Context, statuses ...models.DownloadStatus) ([]models.ChapterRecord, error)
	RequeueInterrupted(ctx context.Context) (int, error)
	NextQueueSeq(ctx context.Context) (int64, error)
}

type ListQuery struct {
	Q         string // keyword search in title/author
	InLibrary *bool
	Limit     int
	Offset    int
}

func (q ListQuery) normalized() ListQuery {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// applyMangaPatch copies the non-nil fields of p onto m.
func applyMangaPatch(m *models.MangaRecord, p models.MangaPatch) {
	if p.URL != nil {
		m.URL = *p.URL
	}
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.CoverURL != nil {
		m.CoverURL = *p.CoverURL
	}
	if p.Author != nil {
		m.Author = *p.Author
	}
	if p.Artist != nil {
		m.Artist = *p.Artist
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Genres != nil {
		m.Genres = append([]string{}, p.Genres...)
	}
	if p.InLibrary != nil {
		m.InLibrary = *p.InLibrary
	}
	if p.ReadingStatus != nil {
		m.ReadingStatus = *p.ReadingStatus
	}
}

func newMangaRecord(id string) (models.MangaRecord, bool) {
	src, raw, ok := models.SplitCompoundID(id)
	if !ok {
		return models.MangaRecord{}, false
	}
	return models.MangaRecord{
		ID:            id,
		SourceID:      src,
		RawID:         raw,
		Status:        models.StatusUnknown,
		Genres:        []string{},
		ReadingStatus: models.ReadingStatusPlanToRead,
	}, true
}

func statusIn(s models.DownloadStatus, set []models.DownloadStatus) bool {
	if s == "" {
		s = models.DownloadNone
	}
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
