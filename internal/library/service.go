package library

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mangashelf/internal/apperr"
	"mangashelf/internal/events"
	"mangashelf/internal/manga"
	"mangashelf/internal/source"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/logging"
	"mangashelf/pkg/models"
)

// Service manages library membership. Removal is soft: the record, its
// chapters, progress and history stay so a later re-add restores them.
type Service struct {
	Store    manga.Store
	Registry *source.Registry
	Events   events.Publisher
	Clock    clock.Clock
	Log      *zap.Logger
}

func NewService(store manga.Store, reg *source.Registry, pub events.Publisher, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		Store:    store,
		Registry: reg,
		Events:   events.OrNop(pub),
		Clock:    clock.OrReal(clk),
		Log:      logging.OrNop(log),
	}
}

type libraryEvent struct {
	MangaID       string               `json:"manga_id"`
	Title         string               `json:"title,omitempty"`
	InLibrary     bool                 `json:"in_library"`
	ReadingStatus models.ReadingStatus `json:"reading_status,omitempty"`
}

// AddManga fetches the manga behind url from sourceID and stores it in
// the library together with its current chapter list. A failing chapter
// fetch does not fail the add; the next sync pass fills the list in.
func (s *Service) AddManga(ctx context.Context, sourceID, url string) (*models.MangaRecord, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("url required: %w", apperr.ErrInvalidInput)
	}
	src, err := s.Registry.Lookup(sourceID)
	if err != nil {
		return nil, err
	}

	details, err := src.MangaDetails(ctx, url)
	if err != nil {
		return nil, err
	}
	if details.URL == "" {
		details.URL = url
	}

	patch := models.PatchFromDetails(details)
	patch.InLibrary = models.Ptr(true)
	m, err := s.Store.UpsertManga(ctx, patch)
	if err != nil {
		return nil, err
	}

	chapters, err := src.ChapterList(ctx, details.URL)
	if err != nil {
		s.Log.Warn("chapter list on add",
			zap.String("manga_id", m.ID),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
	} else if len(m.Chapters) == 0 {
		if _, err := s.Store.SyncChapters(ctx, m.ID, manga.CanonicalOrder(chapters)); err != nil {
			return nil, err
		}
	}

	m, err = s.Store.GetManga(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	s.publish(events.TypeLibraryUpdate, m)
	return m, nil
}

func (s *Service) RemoveFromLibrary(ctx context.Context, id string) error {
	if err := s.Store.SetInLibrary(ctx, id, false); err != nil {
		return err
	}
	s.Events.Publish(events.New(events.TypeLibraryRemove, s.Clock.Now(), libraryEvent{MangaID: id}))
	return nil
}

func (s *Service) SetReadingStatus(ctx context.Context, id, status string) (*models.MangaRecord, error) {
	rs, ok := models.ParseReadingStatus(status)
	if !ok {
		return nil, fmt.Errorf("reading status %q: %w", status, apperr.ErrInvalidInput)
	}
	cur, err := s.Store.GetManga(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("manga %s: %w", id, apperr.ErrNotFound)
	}

	m, err := s.Store.UpsertManga(ctx, models.MangaPatch{ID: id, ReadingStatus: &rs})
	if err != nil {
		return nil, err
	}
	s.publish(events.TypeLibraryUpdate, m)
	return m, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.MangaRecord, error) {
	in := true
	return s.Store.ListManga(ctx, manga.ListQuery{InLibrary: &in, Limit: limit, Offset: offset})
}

func (s *Service) publish(typ string, m *models.MangaRecord) {
	s.Events.Publish(events.New(typ, s.Clock.Now(), libraryEvent{
		MangaID:       m.ID,
		Title:         m.Title,
		InLibrary:     m.InLibrary,
		ReadingStatus: m.ReadingStatus,
	}))
}
