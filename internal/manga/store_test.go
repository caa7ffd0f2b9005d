package manga

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/database"
	"mangashelf/pkg/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// eachStore runs fn against the SQLite and in-memory stores.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) {
		db, err := database.OpenMigrated(database.Config{Path: ":memory:"})
		if err != nil {
			t.Fatalf("OpenMigrated: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		fn(t, NewRepo(db, clock.Fake(testNow)))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryRepo(clock.Fake(testNow)))
	})
}

func seedManga(t *testing.T, s Store, id string) {
	t.Helper()
	_, err := s.UpsertManga(context.Background(), models.MangaPatch{
		ID:        id,
		Title:     models.Ptr("Title " + id),
		URL:       models.Ptr("https://example.test/" + id),
		InLibrary: models.Ptr(true),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func chapter(id string, n float64) models.Chapter {
	return models.Chapter{ID: id, Number: n, Title: "Chapter", URL: "https://example.test/" + id}
}

func TestUpsertMangaDefaultsAndPartialUpdate(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m, err := s.UpsertManga(ctx, models.MangaPatch{ID: "nato_abc", Title: models.Ptr("Abc")})
		if err != nil {
			t.Fatalf("UpsertManga: %v", err)
		}
		if m.SourceID != "nato" || m.RawID != "abc" {
			t.Fatalf("ids = %q %q", m.SourceID, m.RawID)
		}
		if m.Status != models.StatusUnknown || m.ReadingStatus != models.ReadingStatusPlanToRead || m.InLibrary {
			t.Fatalf("defaults = %+v", m)
		}

		m, err = s.UpsertManga(ctx, models.MangaPatch{ID: "nato_abc", Author: models.Ptr("Someone"), Genres: []string{"Action"}})
		if err != nil {
			t.Fatalf("UpsertManga update: %v", err)
		}
		if m.Title != "Abc" || m.Author != "Someone" || len(m.Genres) != 1 {
			t.Fatalf("partial update = %+v", m)
		}
	})
}

func TestUpsertMangaRejectsBadID(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.UpsertManga(context.Background(), models.MangaPatch{ID: "noseparator"})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("err = %v, want ErrInvalidInput", err)
		}
	})
}

func TestGetMangaMissing(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		m, err := s.GetManga(context.Background(), "nato_missing")
		if err != nil || m != nil {
			t.Fatalf("GetManga = %v, %v", m, err)
		}
	})
}

func TestSyncChaptersKeepsReaderAndDownloadState(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedManga(t, s, "nato_m")

		n, err := s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_c2", 2), chapter("nato_c1", 1)})
		if err != nil || n != 2 {
			t.Fatalf("SyncChapters = %d, %v", n, err)
		}

		if err := s.PatchChapter(ctx, "nato_c1", models.ChapterPatch{Read: models.Ptr(true), LastPageRead: models.Ptr(7)}); err != nil {
			t.Fatalf("PatchChapter: %v", err)
		}
		queued := models.DownloadQueued
		if err := s.PatchDownload(ctx, "nato_c1", models.DownloadPatch{Status: &queued, QueueSeq: models.Ptr(int64(1))}); err != nil {
			t.Fatalf("PatchDownload: %v", err)
		}

		renamed := chapter("nato_c1", 1)
		renamed.Title = "Renamed"
		n, err = s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_c3", 3), chapter("nato_c2", 2), renamed})
		if err != nil || n != 1 {
			t.Fatalf("second SyncChapters = %d, %v", n, err)
		}

		got, err := s.Chapters(ctx, "nato_m")
		if err != nil {
			t.Fatalf("Chapters: %v", err)
		}
		if len(got) != 3 || got[0].ID != "nato_c3" || got[2].ID != "nato_c1" {
			t.Fatalf("order = %+v", got)
		}
		c1 := got[2]
		if c1.Title != "Renamed" || !c1.Read || c1.LastPageRead != 7 || c1.Download.Status != models.DownloadQueued {
			t.Fatalf("c1 = %+v", c1)
		}
		if got[0].Download.Status != models.DownloadNone {
			t.Fatalf("new chapter status = %q", got[0].Download.Status)
		}
	})
}

func TestSyncChaptersNeverDeletes(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedManga(t, s, "nato_m")
		if _, err := s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_a", 1), chapter("nato_b", 2)}); err != nil {
			t.Fatalf("SyncChapters: %v", err)
		}
		if _, err := s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_b", 2)}); err != nil {
			t.Fatalf("SyncChapters: %v", err)
		}
		got, _ := s.Chapters(ctx, "nato_m")
		if len(got) != 2 {
			t.Fatalf("chapters = %d, want 2", len(got))
		}
	})
}

func TestSyncChaptersUnknownManga(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.SyncChapters(context.Background(), "nato_none", []models.Chapter{chapter("nato_x", 1)})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestEnsureChapterAppends(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedManga(t, s, "nato_m")
		if _, err := s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_a", 1)}); err != nil {
			t.Fatalf("SyncChapters: %v", err)
		}
		c, err := s.EnsureChapter(ctx, "nato_m", chapter("nato_z", 9))
		if err != nil || c == nil || c.ID != "nato_z" {
			t.Fatalf("EnsureChapter = %+v, %v", c, err)
		}
		if _, err := s.EnsureChapter(ctx, "nato_m", chapter("nato_z", 9)); err != nil {
			t.Fatalf("EnsureChapter again: %v", err)
		}
		got, _ := s.Chapters(ctx, "nato_m")
		if len(got) != 2 || got[1].ID != "nato_z" {
			t.Fatalf("chapters = %+v", got)
		}
	})
}

func TestPatchDownloadIfStatus(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedManga(t, s, "nato_m")
		if _, err := s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_a", 1)}); err != nil {
			t.Fatalf("SyncChapters: %v", err)
		}

		paused := models.DownloadPaused
		err := s.PatchDownload(ctx, "nato_a", models.DownloadPatch{
			Status:   &paused,
			IfStatus: []models.DownloadStatus{models.DownloadQueued, models.DownloadDownloading},
		})
		if !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Fatalf("err = %v, want ErrInvalidTransition", err)
		}
		c, _ := s.GetChapter(ctx, "nato_a")
		if c.Download.Status != models.DownloadNone {
			t.Fatalf("status = %q, want unchanged", c.Download.Status)
		}

		err = s.PatchDownload(ctx, "nato_missing", models.DownloadPatch{Status: &paused})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestQueueOrderingAndRecovery(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedManga(t, s, "nato_m")
		if _, err := s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_a", 1), chapter("nato_b", 2), chapter("nato_c", 3)}); err != nil {
			t.Fatalf("SyncChapters: %v", err)
		}

		queued := models.DownloadQueued
		for _, id := range []string{"nato_c", "nato_a"} {
			seq, err := s.NextQueueSeq(ctx)
			if err != nil {
				t.Fatalf("NextQueueSeq: %v", err)
			}
			if err := s.PatchDownload(ctx, id, models.DownloadPatch{Status: &queued, QueueSeq: &seq}); err != nil {
				t.Fatalf("PatchDownload: %v", err)
			}
		}

		next, err := s.NextQueued(ctx)
		if err != nil || next == nil || next.ID != "nato_c" {
			t.Fatalf("NextQueued = %+v, %v", next, err)
		}

		downloading := models.DownloadDownloading
		if err := s.PatchDownload(ctx, "nato_c", models.DownloadPatch{Status: &downloading, Total: models.Ptr(5), Downloaded: models.Ptr(2)}); err != nil {
			t.Fatalf("PatchDownload: %v", err)
		}
		list, _ := s.ListDownloads(ctx)
		if len(list) != 2 || list[0].ID != "nato_c" || list[1].ID != "nato_a" {
			t.Fatalf("ListDownloads = %+v", list)
		}

		n, err := s.RequeueInterrupted(ctx)
		if err != nil || n != 1 {
			t.Fatalf("RequeueInterrupted = %d, %v", n, err)
		}
		c, _ := s.GetChapter(ctx, "nato_c")
		if c.Download.Status != models.DownloadQueued || c.Download.Downloaded != 2 || c.Download.Total != 5 {
			t.Fatalf("requeued = %+v", c.Download)
		}
		only, _ := s.ListDownloads(ctx, models.DownloadDownloading)
		if len(only) != 0 {
			t.Fatalf("downloading = %d, want 0", len(only))
		}
	})
}

func TestDownloadedNeverExceedsTotal(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedManga(t, s, "nato_m")
		if _, err := s.SyncChapters(ctx, "nato_m", []models.Chapter{chapter("nato_a", 1)}); err != nil {
			t.Fatalf("SyncChapters: %v", err)
		}
		err := s.PatchDownload(ctx, "nato_a", models.DownloadPatch{Total: models.Ptr(2), Downloaded: models.Ptr(3)})
		if err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestListMangaAndLibrary(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedManga(t, s, "nato_b")
		seedManga(t, s, "nato_a")
		if _, err := s.UpsertManga(ctx, models.MangaPatch{ID: "nato_c", Title: models.Ptr("Other")}); err != nil {
			t.Fatalf("UpsertManga: %v", err)
		}

		ids, err := s.LibraryIDs(ctx)
		if err != nil || len(ids) != 2 || ids[0] != "nato_a" {
			t.Fatalf("LibraryIDs = %v, %v", ids, err)
		}

		if err := s.SetInLibrary(ctx, "nato_a", false); err != nil {
			t.Fatalf("SetInLibrary: %v", err)
		}
		in := true
		items, _ := s.ListManga(ctx, ListQuery{InLibrary: &in})
		if len(items) != 1 || items[0].ID != "nato_b" {
			t.Fatalf("ListManga = %+v", items)
		}

		items, _ = s.ListManga(ctx, ListQuery{Q: "other"})
		if len(items) != 1 || items[0].ID != "nato_c" {
			t.Fatalf("keyword ListManga = %+v", items)
		}

		if err := s.SetInLibrary(ctx, "nato_zzz", true); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestCanonicalOrder(t *testing.T) {
	in := []models.Chapter{
		{ID: "s_x", Number: -1},
		{ID: "s_a", Number: 1},
		{ID: "s_c", Number: 12.5},
		{ID: "s_b1", Number: 2},
		{ID: "s_b2", Number: 2},
	}
	got := CanonicalOrder(in)
	want := []string{"s_c", "s_b1", "s_b2", "s_a", "s_x"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s (%+v)", i, got[i].ID, id, got)
		}
	}
	if in[0].ID != "s_x" {
		t.Fatalf("input mutated")
	}
}

func TestLibraryIDsHasNoCap(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const n = 620
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("nato_%04d", i)
			if _, err := s.UpsertManga(ctx, models.MangaPatch{
				ID:        id,
				Title:     models.Ptr(fmt.Sprintf("Title %04d", n-i)),
				InLibrary: models.Ptr(true),
			}); err != nil {
				t.Fatalf("UpsertManga: %v", err)
			}
		}
		ids, err := s.LibraryIDs(ctx)
		if err != nil || len(ids) != n {
			t.Fatalf("LibraryIDs = %d ids, %v", len(ids), err)
		}
		if ids[0] != fmt.Sprintf("nato_%04d", n-1) || ids[n-1] != "nato_0000" {
			t.Fatalf("order = %s ... %s", ids[0], ids[n-1])
		}
	})
}
