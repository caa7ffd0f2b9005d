package library

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/models"
)

// Repo persists categories. Membership rows go away with their category
// or manga; deleting a category never touches the manga it held.
type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

func (r *Repo) CreateCategory(ctx context.Context, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name required: %w", apperr.ErrInvalidInput)
	}

	c := models.Category{ID: uuid.NewString(), Name: name, MangaIDs: []string{}}
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order), -1) + 1 FROM categories`).Scan(&c.Order); err != nil {
		return nil, apperr.Repo("next category order", err)
	}
	if _, err := r.DB.ExecContext(ctx, `
		INSERT INTO categories (id, name, sort_order) VALUES (?, ?, ?)
	`, c.ID, c.Name, c.Order); err != nil {
		return nil, apperr.Repo("insert category", err)
	}
	return &c, nil
}

func (r *Repo) RenameCategory(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("category name required: %w", apperr.ErrInvalidInput)
	}
	return r.updateCategory(ctx, "rename category", `UPDATE categories SET name = ? WHERE id = ?`, name, id)
}

func (r *Repo) ReorderCategory(ctx context.Context, id string, order int) error {
	return r.updateCategory(ctx, "reorder category", `UPDATE categories SET sort_order = ? WHERE id = ?`, order, id)
}

func (r *Repo) DeleteCategory(ctx context.Context, id string) error {
	return r.updateCategory(ctx, "delete category", `DELETE FROM categories WHERE id = ?`, id)
}

func (r *Repo) updateCategory(ctx context.Context, op, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.Repo(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %v: %w", args[len(args)-1], apperr.ErrNotFound)
	}
	return nil
}

func (r *Repo) AddToCategory(ctx context.Context, categoryID, mangaID string) error {
	var cats, mangas int
	if err := r.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM categories WHERE id = ?),
			(SELECT COUNT(*) FROM manga WHERE id = ?)
	`, categoryID, mangaID).Scan(&cats, &mangas); err != nil {
		return apperr.Repo("check category membership", err)
	}
	if cats == 0 {
		return fmt.Errorf("category %s: %w", categoryID, apperr.ErrNotFound)
	}
	if mangas == 0 {
		return fmt.Errorf("manga %s: %w", mangaID, apperr.ErrNotFound)
	}

	if _, err := r.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO category_manga (category_id, manga_id) VALUES (?, ?)
	`, categoryID, mangaID); err != nil {
		return apperr.Repo("add to category", err)
	}
	return nil
}

func (r *Repo) RemoveFromCategory(ctx context.Context, categoryID, mangaID string) error {
	if _, err := r.DB.ExecContext(ctx, `
		DELETE FROM category_manga WHERE category_id = ? AND manga_id = ?
	`, categoryID, mangaID); err != nil {
		return apperr.Repo("remove from category", err)
	}
	return nil
}

// ListCategories returns every category with its member ids.
func (r *Repo) ListCategories(ctx context.Context) ([]models.Category, error) {
	out, err := r.queryCategories(ctx, `SELECT id, name, sort_order FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT category_id, manga_id FROM category_manga ORDER BY manga_id`)
	if err != nil {
		return nil, apperr.Repo("list category members", err)
	}
	defer rows.Close()

	members := map[string][]string{}
	for rows.Next() {
		var cid, mid string
		if err := rows.Scan(&cid, &mid); err != nil {
			return nil, apperr.Repo("scan category member", err)
		}
		members[cid] = append(members[cid], mid)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Repo("list category members", err)
	}

	for i := range out {
		if ids, ok := members[out[i].ID]; ok {
			out[i].MangaIDs = ids
		}
	}
	return out, nil
}

// CategoriesOf returns the categories holding mangaID, without members.
func (r *Repo) CategoriesOf(ctx context.Context, mangaID string) ([]models.Category, error) {
	return r.queryCategories(ctx, `
		SELECT c.id, c.name, c.sort_order
		FROM categories c
		JOIN category_manga cm ON cm.category_id = c.id
		WHERE cm.manga_id = ?
		ORDER BY c.sort_order, c.name
	`, mangaID)
}

func (r *Repo) queryCategories(ctx context.Context, query string, args ...any) ([]models.Category, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Repo("list categories", err)
	}
	defer rows.Close()

	out := []models.Category{}
	for rows.Next() {
		c := models.Category{MangaIDs: []string{}}
		if err := rows.Scan(&c.ID, &c.Name, &c.Order); err != nil {
			return nil, apperr.Repo("scan category", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Repo("list categories", err)
	}
	return out, nil
}
