package models

import "time"

// ChapterRecord is owned by its MangaRecord. Three writers touch it
// independently: library sync (metadata), the reader (Read, LastPageRead)
// and the download queue (Download), so repositories only ever apply
// field-scoped updates to it.
type ChapterRecord struct {
	ID           string        `json:"id"`
	MangaID      string        `json:"manga_id"`
	Number       float64       `json:"number"`
	Title        string        `json:"title,omitempty"`
	URL          string        `json:"url"`
	PublishedAt  *time.Time    `json:"published_at,omitempty"`
	Read         bool          `json:"read"`
	LastPageRead int           `json:"last_page_read"`
	TotalPages   int           `json:"total_pages"`
	Download     DownloadState `json:"download"`
}

// Meta returns the source-owned fields of the record.
func (c ChapterRecord) Meta() Chapter {
	_, raw, _ := SplitCompoundID(c.ID)
	return Chapter{
		ID:          c.ID,
		RawID:       raw,
		Number:      c.Number,
		Title:       c.Title,
		URL:         c.URL,
		PublishedAt: c.PublishedAt,
	}
}

// ChapterPatch carries reader-owned fields.
type ChapterPatch struct {
	Read         *bool
	LastPageRead *int
	TotalPages   *int
}
