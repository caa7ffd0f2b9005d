package progress

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mangashelf/internal/apperr"
	"mangashelf/internal/manga"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/models"
)

// Tracker records reader position. It writes only the reader fields of a
// chapter so download and sync writers are never clobbered.
type Tracker struct {
	Store  manga.Store
	Repo   *Repo
	Policy *HistoryPolicy
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewTracker(store manga.Store, repo *Repo, policy *HistoryPolicy, clk clock.Clock, log *zap.Logger) *Tracker {
	clk = clock.OrReal(clk)
	if policy == nil {
		policy = NewHistoryPolicy(0, clk)
	}
	return &Tracker{Store: store, Repo: repo, Policy: policy, Clock: clk, Log: logging.OrNop(log)}
}

// RecordRead stores that page (0-based) of chapterID was reached. With
// totalPages known, reaching the last page marks the chapter read.
func (t *Tracker) RecordRead(ctx context.Context, mangaID, chapterID string, page, totalPages int) (*models.ReadingProgress, error) {
	if page < 0 || totalPages < 0 {
		return nil, fmt.Errorf("page %d of %d: %w", page, totalPages, apperr.ErrInvalidInput)
	}
	ch, err := t.Store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if ch == nil || ch.MangaID != mangaID {
		return nil, fmt.Errorf("chapter %s of %s: %w", chapterID, mangaID, apperr.ErrNotFound)
	}

	if totalPages == 0 {
		totalPages = ch.TotalPages
	}
	if totalPages > 0 && page >= totalPages {
		page = totalPages - 1
	}

	patch := models.ChapterPatch{LastPageRead: &page}
	if totalPages > 0 {
		patch.TotalPages = &totalPages
		if page == totalPages-1 {
			patch.Read = models.Ptr(true)
		}
	}
	if err := t.Store.PatchChapter(ctx, chapterID, patch); err != nil {
		return nil, err
	}

	now := t.Clock.Now().UTC()
	p := models.ReadingProgress{
		MangaID:       mangaID,
		ChapterID:     chapterID,
		ChapterNumber: ch.Number,
		Page:          page,
		UpdatedAt:     now,
	}
	if err := t.Repo.UpsertProgress(ctx, p); err != nil {
		return nil, err
	}

	if t.Policy.Allow(mangaID, chapterID) {
		if _, err := t.Repo.AppendHistory(ctx, models.HistoryEntry{
			MangaID:       mangaID,
			ChapterID:     chapterID,
			ChapterNumber: ch.Number,
			Page:          page,
			At:            now,
		}); err != nil {
			t.Log.Warn("append history", zap.String("manga_id", mangaID), zap.Error(err))
		}
	}
	return &p, nil
}
