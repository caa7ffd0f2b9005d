// Package backup moves the library and reading history in and out of CSV.
package backup

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mangashelf/internal/manga"
	"mangashelf/pkg/models"
)

var (
	LibraryHeader = []string{"id", "title", "author", "status", "reading_status", "url", "chapters", "read_chapters", "categories", "updated_at"}
	HistoryHeader = []string{"id", "manga_id", "chapter_id", "chapter_number", "page", "at"}
)

type CategoryStore interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	CategoriesOf(ctx context.Context, mangaID string) ([]models.Category, error)
	CreateCategory(ctx context.Context, name string) (*models.Category, error)
	AddToCategory(ctx context.Context, categoryID, mangaID string) error
}

type HistoryStore interface {
	ListHistory(ctx context.Context, mangaID string, limit, offset int) ([]models.HistoryEntry, int, error)
}

const pageSize = 500

// WriteLibrary writes every in-library title, one row each. Category
// names are joined with ';'.
func WriteLibrary(ctx context.Context, out io.Writer, store manga.Store, cats CategoryStore) (int, error) {
	w := csv.NewWriter(out)
	if err := w.Write(LibraryHeader); err != nil {
		return 0, err
	}

	inLibrary := true
	n := 0
	for offset := 0; ; offset += pageSize {
		page, err := store.ListManga(ctx, manga.ListQuery{InLibrary: &inLibrary, Limit: pageSize, Offset: offset})
		if err != nil {
			return n, err
		}
		for _, item := range page {
			m, err := store.GetManga(ctx, item.ID)
			if err != nil {
				return n, err
			}
			if m == nil {
				continue
			}
			names, err := categoryNames(ctx, cats, m.ID)
			if err != nil {
				return n, err
			}
			read := 0
			for _, c := range m.Chapters {
				if c.Read {
					read++
				}
			}
			if err := w.Write([]string{
				m.ID,
				m.Title,
				m.Author,
				string(m.Status),
				string(m.ReadingStatus),
				m.URL,
				strconv.Itoa(len(m.Chapters)),
				strconv.Itoa(read),
				strings.Join(names, ";"),
				m.UpdatedAt.UTC().Format(time.RFC3339),
			}); err != nil {
				return n, err
			}
			n++
		}
		if len(page) < pageSize {
			break
		}
	}

	w.Flush()
	return n, w.Error()
}

func categoryNames(ctx context.Context, cats CategoryStore, mangaID string) ([]string, error) {
	if cats == nil {
		return nil, nil
	}
	list, err := cats.CategoriesOf(ctx, mangaID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		names = append(names, c.Name)
	}
	return names, nil
}

// WriteHistory writes the whole reading history, newest first.
func WriteHistory(ctx context.Context, out io.Writer, hist HistoryStore) (int, error) {
	w := csv.NewWriter(out)
	if err := w.Write(HistoryHeader); err != nil {
		return 0, err
	}

	n := 0
	for offset := 0; ; offset += pageSize {
		page, total, err := hist.ListHistory(ctx, "", pageSize, offset)
		if err != nil {
			return n, err
		}
		for _, e := range page {
			if err := w.Write([]string{
				e.ID,
				e.MangaID,
				e.ChapterID,
				strconv.FormatFloat(e.ChapterNumber, 'f', -1, 64),
				strconv.Itoa(e.Page),
				e.At.UTC().Format(time.RFC3339),
			}); err != nil {
				return n, err
			}
			n++
		}
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	w.Flush()
	return n, w.Error()
}

// ReadLibrary restores library rows written by WriteLibrary. Titles are
// upserted into the library with their reading status; chapters are left
// for the next sync to fill in. Rows without an id or title are skipped.
func ReadLibrary(ctx context.Context, in io.Reader, store manga.Store, cats CategoryStore) (int, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	header, err := readHeader(r)
	if err != nil {
		return 0, err
	}

	byName := map[string]string{}
	if cats != nil {
		list, err := cats.ListCategories(ctx)
		if err != nil {
			return 0, err
		}
		for _, c := range list {
			byName[strings.ToLower(c.Name)] = c.ID
		}
	}

	n := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		if len(row) == 0 {
			continue
		}

		id := valueAt(header, row, "id")
		title := valueAt(header, row, "title")
		if id == "" || title == "" {
			continue
		}

		p := models.MangaPatch{ID: id, Title: &title, InLibrary: models.Ptr(true)}
		if v := valueAt(header, row, "author"); v != "" {
			p.Author = &v
		}
		if v := valueAt(header, row, "url"); v != "" {
			p.URL = &v
		}
		if v := valueAt(header, row, "status"); v != "" {
			st := models.ParseMangaStatus(v)
			p.Status = &st
		}
		if v := valueAt(header, row, "reading_status"); v != "" {
			rs, ok := models.ParseReadingStatus(v)
			if !ok {
				return n, fmt.Errorf("parse reading_status for %s: %q", id, v)
			}
			p.ReadingStatus = &rs
		}

		if _, err := store.UpsertManga(ctx, p); err != nil {
			return n, fmt.Errorf("import %s: %w", id, err)
		}

		if cats != nil {
			for _, name := range strings.Split(valueAt(header, row, "categories"), ";") {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				catID, ok := byName[strings.ToLower(name)]
				if !ok {
					c, err := cats.CreateCategory(ctx, name)
					if err != nil {
						return n, err
					}
					catID = c.ID
					byName[strings.ToLower(name)] = catID
				}
				if err := cats.AddToCategory(ctx, catID, id); err != nil {
					return n, err
				}
			}
		}
		n++
	}
	return n, nil
}

func readHeader(r *csv.Reader) (map[string]int, error) {
	row, err := r.Read()
	if err != nil {
		return nil, err
	}
	header := make(map[string]int, len(row))
	for idx, name := range row {
		header[strings.TrimSpace(strings.ToLower(name))] = idx
	}
	return header, nil
}

func valueAt(header map[string]int, row []string, key string) string {
	idx, ok := header[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
