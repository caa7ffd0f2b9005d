package backup

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"mangashelf/internal/library"
	"mangashelf/internal/manga"
	"mangashelf/internal/progress"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/database"
	"mangashelf/pkg/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stores struct {
	manga    *manga.Repo
	cats     *library.Repo
	progress *progress.Repo
}

func newStores(t *testing.T) stores {
	t.Helper()
	db, err := database.OpenMigrated(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("OpenMigrated: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return stores{
		manga:    manga.NewRepo(db, clock.Fake(testNow)),
		cats:     library.NewRepo(db),
		progress: progress.NewRepo(db),
	}
}

func seed(t *testing.T, s stores) {
	t.Helper()
	ctx := context.Background()
	reading := models.ReadingStatusReading
	for _, p := range []models.MangaPatch{
		{ID: "src_one", Title: models.Ptr("One"), Author: models.Ptr("A, B"), URL: models.Ptr("https://src.test/one"), InLibrary: models.Ptr(true), ReadingStatus: &reading},
		{ID: "src_two", Title: models.Ptr("Two"), InLibrary: models.Ptr(true)},
		{ID: "src_browse", Title: models.Ptr("Browsed"), InLibrary: models.Ptr(false)},
	} {
		if _, err := s.manga.UpsertManga(ctx, p); err != nil {
			t.Fatalf("UpsertManga %s: %v", p.ID, err)
		}
	}
	if _, err := s.manga.SyncChapters(ctx, "src_one", []models.Chapter{
		{ID: "src_c2", RawID: "c2", Number: 2, URL: "https://src.test/c2"},
		{ID: "src_c1", RawID: "c1", Number: 1, URL: "https://src.test/c1"},
	}); err != nil {
		t.Fatalf("SyncChapters: %v", err)
	}
	if err := s.manga.PatchChapter(ctx, "src_c1", models.ChapterPatch{Read: models.Ptr(true)}); err != nil {
		t.Fatalf("PatchChapter: %v", err)
	}
	cat, err := s.cats.CreateCategory(ctx, "Weekly")
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if err := s.cats.AddToCategory(ctx, cat.ID, "src_one"); err != nil {
		t.Fatalf("AddToCategory: %v", err)
	}
	for i, ch := range []string{"src_c1", "src_c2"} {
		if _, err := s.progress.AppendHistory(ctx, models.HistoryEntry{
			MangaID: "src_one", ChapterID: ch, ChapterNumber: float64(i + 1), Page: 3, At: testNow.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
}

func readAll(t *testing.T, b *bytes.Buffer) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(b.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestWriteLibrary(t *testing.T) {
	s := newStores(t)
	seed(t, s)

	var buf bytes.Buffer
	n, err := WriteLibrary(context.Background(), &buf, s.manga, s.cats)
	if err != nil {
		t.Fatalf("WriteLibrary: %v", err)
	}
	rows := readAll(t, &buf)
	if n != 2 || len(rows) != 3 {
		t.Fatalf("rows = %d (%v)", n, rows)
	}
	if strings.Join(rows[0], ",") != strings.Join(LibraryHeader, ",") {
		t.Fatalf("header = %v", rows[0])
	}
	one := rows[1]
	if one[0] != "src_one" || one[2] != "A, B" || one[4] != "reading" || one[6] != "2" || one[7] != "1" || one[8] != "Weekly" {
		t.Fatalf("row = %v", one)
	}
}

func TestWriteHistory(t *testing.T) {
	s := newStores(t)
	seed(t, s)

	var buf bytes.Buffer
	n, err := WriteHistory(context.Background(), &buf, s.progress)
	if err != nil {
		t.Fatalf("WriteHistory: %v", err)
	}
	rows := readAll(t, &buf)
	if n != 2 || len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[1][2] != "src_c2" || rows[1][3] != "2" || rows[1][4] != "3" {
		t.Fatalf("newest row = %v", rows[1])
	}
}

func TestReadLibraryRestoresExport(t *testing.T) {
	src := newStores(t)
	seed(t, src)
	var buf bytes.Buffer
	if _, err := WriteLibrary(context.Background(), &buf, src.manga, src.cats); err != nil {
		t.Fatalf("WriteLibrary: %v", err)
	}

	dst := newStores(t)
	ctx := context.Background()
	n, err := ReadLibrary(ctx, &buf, dst.manga, dst.cats)
	if err != nil {
		t.Fatalf("ReadLibrary: %v", err)
	}
	if n != 2 {
		t.Fatalf("imported = %d", n)
	}

	m, err := dst.manga.GetManga(ctx, "src_one")
	if err != nil || m == nil {
		t.Fatalf("GetManga = %v, %v", m, err)
	}
	if !m.InLibrary || m.ReadingStatus != models.ReadingStatusReading || m.URL != "https://src.test/one" {
		t.Fatalf("restored = %+v", m)
	}
	cats, err := dst.cats.CategoriesOf(ctx, "src_one")
	if err != nil || len(cats) != 1 || cats[0].Name != "Weekly" {
		t.Fatalf("categories = %+v, %v", cats, err)
	}
}

func TestReadLibrarySkipsIncompleteRows(t *testing.T) {
	s := newStores(t)
	in := "id,title,reading_status\n,No id,\nsrc_x,,\nsrc_y,Y,on hold\n"
	n, err := ReadLibrary(context.Background(), strings.NewReader(in), s.manga, nil)
	if err != nil {
		t.Fatalf("ReadLibrary: %v", err)
	}
	if n != 1 {
		t.Fatalf("imported = %d, want 1", n)
	}

	bad := "id,title,reading_status\nsrc_z,Z,someday\n"
	if _, err := ReadLibrary(context.Background(), strings.NewReader(bad), s.manga, nil); err == nil {
		t.Fatalf("expected error for unknown reading status")
	}
}
