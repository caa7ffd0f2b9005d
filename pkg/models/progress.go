package models

import "time"

// ReadingProgress is the single latest position per manga.
type ReadingProgress struct {
	MangaID       string    `json:"manga_id"`
	ChapterID     string    `json:"chapter_id"`
	ChapterNumber float64   `json:"chapter_number"`
	Page          int       `json:"page"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HistoryEntry is an append-only log record; it is never updated.
type HistoryEntry struct {
	ID            string    `json:"id"`
	MangaID       string    `json:"manga_id"`
	ChapterID     string    `json:"chapter_id"`
	ChapterNumber float64   `json:"chapter_number"`
	Page          int       `json:"page"`
	At            time.Time `json:"at"`
}
