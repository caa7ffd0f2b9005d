package models

import "time"

// MangaSummary is one entry of a search or listing page.
type MangaSummary struct {
	ID       string `json:"id"` // compound id
	SourceID string `json:"source_id"`
	RawID    string `json:"raw_id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	CoverURL string `json:"cover_url,omitempty"`
}

type SearchResult struct {
	Items       []MangaSummary `json:"items"`
	HasNextPage bool           `json:"has_next_page"`
}

// MangaDetails is the best-effort description of a title as parsed from
// its source page. Optional fields are left empty when the site omits them.
type MangaDetails struct {
	ID          string      `json:"id"`
	SourceID    string      `json:"source_id"`
	RawID       string      `json:"raw_id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	CoverURL    string      `json:"cover_url,omitempty"`
	Author      string      `json:"author,omitempty"`
	Artist      string      `json:"artist,omitempty"`
	Status      MangaStatus `json:"status"`
	Genres      []string    `json:"genres"`
	Description string      `json:"description,omitempty"`
}

// Chapter is a chapter as listed by a source, in site order.
type Chapter struct {
	ID           string     `json:"id"` // compound id
	RawID        string     `json:"raw_id"`
	Number       float64    `json:"number"`
	Title        string     `json:"title,omitempty"`
	URL          string     `json:"url"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	DateRelative bool       `json:"date_relative,omitempty"` // PublishedAt came from "2 hours ago" and drifts per fetch
}

// SameMeta reports whether two chapters agree on every core field.
func (c Chapter) SameMeta(o Chapter) bool {
	if c.ID != o.ID || c.Number != o.Number || c.Title != o.Title || c.URL != o.URL {
		return false
	}
	switch {
	case c.PublishedAt == nil && o.PublishedAt == nil:
		return true
	case c.PublishedAt == nil || o.PublishedAt == nil:
		return false
	default:
		return c.PublishedAt.Equal(*o.PublishedAt)
	}
}

// Page is one image of a chapter together with the headers needed to
// fetch it without tripping hotlink protection.
type Page struct {
	Index    int               `json:"index"`
	ImageURL string            `json:"image_url"`
	Headers  map[string]string `json:"headers,omitempty"`
}
