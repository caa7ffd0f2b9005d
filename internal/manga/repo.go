package manga

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/models"
)

// Repo is the SQLite Store.
type Repo struct {
	DB    *sql.DB
	Clock clock.Clock
}

func NewRepo(db *sql.DB, clk clock.Clock) *Repo {
	return &Repo{DB: db, Clock: clock.OrReal(clk)}
}

var _ Store = (*Repo)(nil)

const mangaColumns = `id, source_id, raw_id, url, title, cover_url, author, artist, status,
	description, genres, in_library, reading_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanManga(s rowScanner) (models.MangaRecord, error) {
	var (
		m          models.MangaRecord
		status     string
		reading    string
		genresJSON string
	)
	if err := s.Scan(
		&m.ID, &m.SourceID, &m.RawID, &m.URL, &m.Title, &m.CoverURL, &m.Author, &m.Artist, &status,
		&m.Description, &genresJSON, &m.InLibrary, &reading, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return m, err
	}
	m.Status = models.MangaStatus(status)
	m.ReadingStatus = models.ReadingStatus(reading)
	m.Genres = []string{}
	_ = json.Unmarshal([]byte(genresJSON), &m.Genres)
	return m, nil
}

func (r *Repo) UpsertManga(ctx context.Context, p models.MangaPatch) (*models.MangaRecord, error) {
	rec, ok := newMangaRecord(p.ID)
	if !ok {
		return nil, fmt.Errorf("upsert manga %q: %w", p.ID, apperr.ErrInvalidInput)
	}
	now := r.Clock.Now().UTC()

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Repo("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM manga WHERE id = ?`, p.ID).Scan(&exists); err != nil {
		return nil, apperr.Repo("check manga", err)
	}

	if exists == 0 {
		applyMangaPatch(&rec, p)
		genresJSON, err := json.Marshal(rec.Genres)
		if err != nil {
			return nil, fmt.Errorf("marshal genres for %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO manga (`+mangaColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID, rec.SourceID, rec.RawID, rec.URL, rec.Title, rec.CoverURL, rec.Author, rec.Artist, string(rec.Status),
			rec.Description, string(genresJSON), rec.InLibrary, string(rec.ReadingStatus), now, now,
		); err != nil {
			return nil, apperr.Repo("insert manga", err)
		}
	} else {
		sets, args, err := mangaPatchSets(p)
		if err != nil {
			return nil, err
		}
		sets = append(sets, "updated_at = ?")
		args = append(args, now, p.ID)
		if _, err := tx.ExecContext(ctx, `UPDATE manga SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
			return nil, apperr.Repo("update manga", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Repo("commit tx", err)
	}
	return r.GetManga(ctx, p.ID)
}

func mangaPatchSets(p models.MangaPatch) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.URL != nil {
		add("url", *p.URL)
	}
	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.CoverURL != nil {
		add("cover_url", *p.CoverURL)
	}
	if p.Author != nil {
		add("author", *p.Author)
	}
	if p.Artist != nil {
		add("artist", *p.Artist)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Genres != nil {
		b, err := json.Marshal(p.Genres)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal genres for %s: %w", p.ID, err)
		}
		add("genres", string(b))
	}
	if p.InLibrary != nil {
		add("in_library", *p.InLibrary)
	}
	if p.ReadingStatus != nil {
		add("reading_status", string(*p.ReadingStatus))
	}
	return sets, args, nil
}

// GetManga returns the record with its chapters in stored order, its
// reading progress and its category ids.
func (r *Repo) GetManga(ctx context.Context, id string) (*models.MangaRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+mangaColumns+` FROM manga WHERE id = ?`, id)
	m, err := scanManga(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Repo("get manga", err)
	}

	if m.Chapters, err = r.Chapters(ctx, id); err != nil {
		return nil, err
	}
	if m.Progress, err = r.progress(ctx, id); err != nil {
		return nil, err
	}
	if m.Categories, err = r.categoryIDs(ctx, id); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) progress(ctx context.Context, mangaID string) (*models.ReadingProgress, error) {
	var p models.ReadingProgress
	err := r.DB.QueryRowContext(ctx, `
		SELECT manga_id, chapter_id, chapter_number, page, updated_at
		FROM reading_progress WHERE manga_id = ?
	`, mangaID).Scan(&p.MangaID, &p.ChapterID, &p.ChapterNumber, &p.Page, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Repo("get progress", err)
	}
	return &p, nil
}

func (r *Repo) categoryIDs(ctx context.Context, mangaID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT cm.category_id FROM category_manga cm
		JOIN categories c ON c.id = cm.category_id
		WHERE cm.manga_id = ?
		ORDER BY c.sort_order, c.name
	`, mangaID)
	if err != nil {
		return nil, apperr.Repo("list manga categories", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Repo("scan manga category", err)
		}
		out = append(out, id)
	}
	return out, apperr.Repo("list manga categories", rows.Err())
}

// ListManga returns records without their chapters.
func (r *Repo) ListManga(ctx context.Context, q ListQuery) ([]models.MangaRecord, error) {
	q = q.normalized()

	var (
		where []string
		args  []any
	)
	if kw := strings.ToLower(strings.TrimSpace(q.Q)); kw != "" {
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(author) LIKE ?)")
		args = append(args, "%"+kw+"%", "%"+kw+"%")
	}
	if q.InLibrary != nil {
		where = append(where, "in_library = ?")
		args = append(args, *q.InLibrary)
	}

	sqlStr := `SELECT ` + mangaColumns + ` FROM manga`
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}
	sqlStr += " ORDER BY title ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := r.DB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, apperr.Repo("list manga", err)
	}
	defer rows.Close()

	out := make([]models.MangaRecord, 0, q.Limit)
	for rows.Next() {
		m, err := scanManga(rows)
		if err != nil {
			return nil, apperr.Repo("scan manga", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Repo("list manga", err)
	}
	return out, nil
}

func (r *Repo) LibraryIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM manga WHERE in_library = 1 ORDER BY title, id`)
	if err != nil {
		return nil, apperr.Repo("library ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Repo("scan library id", err)
		}
		ids = append(ids, id)
	}
	return ids, apperr.Repo("library ids", rows.Err())
}

func (r *Repo) SetInLibrary(ctx context.Context, id string, in bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE manga SET in_library = ?, updated_at = ? WHERE id = ?`, in, r.Clock.Now().UTC(), id)
	if err != nil {
		return apperr.Repo("set in library", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("manga %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
