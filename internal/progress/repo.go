package progress

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/models"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// UpsertProgress keeps one progress row per manga.
func (r *Repo) UpsertProgress(ctx context.Context, p models.ReadingProgress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO reading_progress (manga_id, chapter_id, chapter_number, page, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(manga_id) DO UPDATE SET
			chapter_id = excluded.chapter_id,
			chapter_number = excluded.chapter_number,
			page = excluded.page,
			updated_at = excluded.updated_at
	`, p.MangaID, p.ChapterID, p.ChapterNumber, p.Page, p.UpdatedAt.UTC())
	if err != nil {
		return apperr.Repo("upsert progress", err)
	}
	return nil
}

func (r *Repo) GetProgress(ctx context.Context, mangaID string) (*models.ReadingProgress, error) {
	var p models.ReadingProgress
	err := r.DB.QueryRowContext(ctx, `
		SELECT manga_id, chapter_id, chapter_number, page, updated_at
		FROM reading_progress
		WHERE manga_id = ?
	`, mangaID).Scan(&p.MangaID, &p.ChapterID, &p.ChapterNumber, &p.Page, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Repo("get progress", err)
	}
	return &p, nil
}

// AppendHistory inserts e with a fresh id. History rows are never updated.
func (r *Repo) AppendHistory(ctx context.Context, e models.HistoryEntry) (models.HistoryEntry, error) {
	e.ID = uuid.NewString()
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO history (id, manga_id, chapter_id, chapter_number, page, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.MangaID, e.ChapterID, e.ChapterNumber, e.Page, e.At.UTC())
	if err != nil {
		return e, apperr.Repo("insert history", err)
	}
	return e, nil
}

// ListHistory returns the newest entries first. An empty mangaID lists
// the history of every manga.
func (r *Repo) ListHistory(ctx context.Context, mangaID string, limit, offset int) ([]models.HistoryEntry, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where, args := "", []any{}
	if mangaID != "" {
		where = " WHERE manga_id = ?"
		args = append(args, mangaID)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Repo("count history", err)
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, manga_id, chapter_id, chapter_number, page, at
		FROM history`+where+`
		ORDER BY at DESC, id
		LIMIT ? OFFSET ?
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.Repo("list history", err)
	}
	defer rows.Close()

	out := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.MangaID, &e.ChapterID, &e.ChapterNumber, &e.Page, &e.At); err != nil {
			return nil, 0, apperr.Repo("scan history", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Repo("list history", err)
	}
	return out, total, nil
}
