package manga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/models"
)

const chapterColumns = `id, manga_id, number, title, url, published_at, read, last_page_read, total_pages,
	download_status, download_total, downloaded_count, download_error, queue_seq, download_updated_at`

func scanChapter(s rowScanner) (models.ChapterRecord, error) {
	var (
		c         models.ChapterRecord
		published sql.NullTime
		status    string
		updated   sql.NullTime
	)
	if err := s.Scan(
		&c.ID, &c.MangaID, &c.Number, &c.Title, &c.URL, &published, &c.Read, &c.LastPageRead, &c.TotalPages,
		&status, &c.Download.Total, &c.Download.Downloaded, &c.Download.Error, &c.Download.QueueSeq, &updated,
	); err != nil {
		return c, err
	}
	c.Download.Status = models.DownloadStatus(status)
	if published.Valid {
		t := published.Time
		c.PublishedAt = &t
	}
	if updated.Valid {
		t := updated.Time
		c.Download.UpdatedAt = &t
	}
	return c, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (r *Repo) queryChapters(ctx context.Context, op, query string, args ...any) ([]models.ChapterRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Repo(op, err)
	}
	defer rows.Close()

	out := []models.ChapterRecord{}
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, apperr.Repo(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Repo(op, err)
	}
	return out, nil
}

func (r *Repo) Chapters(ctx context.Context, mangaID string) ([]models.ChapterRecord, error) {
	return r.queryChapters(ctx, "list chapters",
		`SELECT `+chapterColumns+` FROM chapters WHERE manga_id = ? ORDER BY position ASC, id ASC`, mangaID)
}

func (r *Repo) SyncChapters(ctx context.Context, mangaID string, chapters []models.Chapter) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Repo("begin tx", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM manga WHERE id = ?`, mangaID).Scan(&n); err != nil {
		return 0, apperr.Repo("check manga", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("manga %s: %w", mangaID, apperr.ErrNotFound)
	}

	known := map[string]bool{}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chapters WHERE manga_id = ?`, mangaID)
	if err != nil {
		return 0, apperr.Repo("list chapter ids", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, apperr.Repo("scan chapter id", err)
		}
		known[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperr.Repo("list chapter ids", err)
	}

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chapters (id, manga_id, position, number, title, url, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, apperr.Repo("prepare insert chapter", err)
	}
	defer insertStmt.Close()

	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE chapters SET position = ?, number = ?, title = ?, url = ?, published_at = ?
		WHERE id = ? AND manga_id = ?
	`)
	if err != nil {
		return 0, apperr.Repo("prepare update chapter", err)
	}
	defer updateStmt.Close()

	inserted := 0
	for i, c := range chapters {
		if known[c.ID] {
			if _, err := updateStmt.ExecContext(ctx, i, c.Number, c.Title, c.URL, nullTime(c.PublishedAt), c.ID, mangaID); err != nil {
				return 0, apperr.Repo("update chapter "+c.ID, err)
			}
			continue
		}
		if _, err := insertStmt.ExecContext(ctx, c.ID, mangaID, i, c.Number, c.Title, c.URL, nullTime(c.PublishedAt)); err != nil {
			return 0, apperr.Repo("insert chapter "+c.ID, err)
		}
		known[c.ID] = true
		inserted++
	}

	if _, err := tx.ExecContext(ctx, `UPDATE manga SET updated_at = ? WHERE id = ?`, r.Clock.Now().UTC(), mangaID); err != nil {
		return 0, apperr.Repo("touch manga", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Repo("commit tx", err)
	}
	return inserted, nil
}

func (r *Repo) GetChapter(ctx context.Context, chapterID string) (*models.ChapterRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, chapterID)
	c, err := scanChapter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Repo("get chapter", err)
	}
	return &c, nil
}

// EnsureChapter inserts c after the last stored chapter unless its id is
// already known.
func (r *Repo) EnsureChapter(ctx context.Context, mangaID string, c models.Chapter) (*models.ChapterRecord, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Repo("begin tx", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM manga WHERE id = ?`, mangaID).Scan(&n); err != nil {
		return nil, apperr.Repo("check manga", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("manga %s: %w", mangaID, apperr.ErrNotFound)
	}

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT manga_id FROM chapters WHERE id = ?`, c.ID).Scan(&owner)
	switch {
	case err == nil:
		if owner != mangaID {
			return nil, fmt.Errorf("chapter %s belongs to %s: %w", c.ID, owner, apperr.ErrInvalidInput)
		}
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chapters (id, manga_id, position, number, title, url, published_at)
			VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM chapters WHERE manga_id = ?), ?, ?, ?, ?)
		`, c.ID, mangaID, mangaID, c.Number, c.Title, c.URL, nullTime(c.PublishedAt)); err != nil {
			return nil, apperr.Repo("insert chapter", err)
		}
	default:
		return nil, apperr.Repo("check chapter", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Repo("commit tx", err)
	}
	return r.GetChapter(ctx, c.ID)
}

func (r *Repo) PatchChapter(ctx context.Context, chapterID string, p models.ChapterPatch) error {
	var (
		sets []string
		args []any
	)
	if p.Read != nil {
		sets = append(sets, "read = ?")
		args = append(args, *p.Read)
	}
	if p.LastPageRead != nil {
		sets = append(sets, "last_page_read = ?")
		args = append(args, *p.LastPageRead)
	}
	if p.TotalPages != nil {
		sets = append(sets, "total_pages = ?")
		args = append(args, *p.TotalPages)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, chapterID)

	res, err := r.DB.ExecContext(ctx, `UPDATE chapters SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return apperr.Repo("patch chapter", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chapter %s: %w", chapterID, apperr.ErrNotFound)
	}
	return nil
}

// PatchDownload writes only the download fields set in p. With IfStatus
// set the write happens only while the stored status is one of them.
func (r *Repo) PatchDownload(ctx context.Context, chapterID string, p models.DownloadPatch) error {
	sets := []string{"download_updated_at = ?"}
	args := []any{r.Clock.Now().UTC()}
	if p.Status != nil {
		sets = append(sets, "download_status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Total != nil {
		sets = append(sets, "download_total = ?")
		args = append(args, *p.Total)
	}
	if p.Downloaded != nil {
		sets = append(sets, "downloaded_count = ?")
		args = append(args, *p.Downloaded)
	}
	if p.Error != nil {
		sets = append(sets, "download_error = ?")
		args = append(args, *p.Error)
	}
	if p.QueueSeq != nil {
		sets = append(sets, "queue_seq = ?")
		args = append(args, *p.QueueSeq)
	}

	query := `UPDATE chapters SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, chapterID)
	if len(p.IfStatus) > 0 {
		marks := make([]string, len(p.IfStatus))
		for i, s := range p.IfStatus {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND download_status IN (` + strings.Join(marks, ", ") + `)`
	}

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Repo("patch download", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	c, err := r.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("chapter %s: %w", chapterID, apperr.ErrNotFound)
	}
	return fmt.Errorf("chapter %s is %s: %w", chapterID, c.Download.Status, apperr.ErrInvalidTransition)
}

func (r *Repo) NextQueued(ctx context.Context) (*models.ChapterRecord, error) {
	out, err := r.queryChapters(ctx, "next queued",
		`SELECT `+chapterColumns+` FROM chapters WHERE download_status = ? ORDER BY queue_seq ASC, id ASC LIMIT 1`,
		string(models.DownloadQueued))
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return &out[0], nil
}

// ListDownloads returns chapters in the given download states ordered by
// queue position. With no states it returns every chapter that ever
// entered the queue.
func (r *Repo) ListDownloads(ctx context.Context, statuses ...models.DownloadStatus) ([]models.ChapterRecord, error) {
	var (
		where string
		args  []any
	)
	if len(statuses) == 0 {
		where = "download_status <> ?"
		args = append(args, string(models.DownloadNone))
	} else {
		marks := make([]string, len(statuses))
		for i, s := range statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = "download_status IN (" + strings.Join(marks, ", ") + ")"
	}
	return r.queryChapters(ctx, "list downloads",
		`SELECT `+chapterColumns+` FROM chapters WHERE `+where+` ORDER BY queue_seq ASC, id ASC`, args...)
}

// RequeueInterrupted moves chapters left DOWNLOADING by a previous run
// back to QUEUED, keeping their queue position and page count.
func (r *Repo) RequeueInterrupted(ctx context.Context) (int, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE chapters SET download_status = ?, download_updated_at = ?
		WHERE download_status = ?
	`, string(models.DownloadQueued), r.Clock.Now().UTC(), string(models.DownloadDownloading))
	if err != nil {
		return 0, apperr.Repo("requeue interrupted", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *Repo) NextQueueSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_seq), 0) + 1 FROM chapters`).Scan(&seq); err != nil {
		return 0, apperr.Repo("next queue seq", err)
	}
	return seq, nil
}
