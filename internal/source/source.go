// Package source defines the contract every site adapter implements,
// the registry that selects adapters by id, and the adapters themselves.
package source

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"mangashelf/internal/transport"
	"mangashelf/pkg/models"
)

// Source is one site adapter. Pagination is 1-indexed. Chapter lists keep
// the order the site presents; callers decide canonical order.
type Source interface {
	Info() SourceInfo
	Search(ctx context.Context, query string, page int) (models.SearchResult, error)
	Popular(ctx context.Context, page int) (models.SearchResult, error)
	Latest(ctx context.Context, page int) (models.SearchResult, error)
	MangaDetails(ctx context.Context, mangaURL string) (models.MangaDetails, error)
	ChapterList(ctx context.Context, mangaURL string) ([]models.Chapter, error)
	PageList(ctx context.Context, chapterURL string) ([]models.Page, error)
	ImageHeaders() map[string]string
}

type SourceInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	BaseURL    string `json:"base_url"`
	Lang       string `json:"lang"`
	Restricted bool   `json:"restricted"`
}

// Fetcher is the slice of the transport client the adapters use.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, opts transport.RequestOptions) (*transport.Response, error)
	UserAgent() string
}

var (
	chapterKeywordRe = regexp.MustCompile(`(?i)\b(?:chapter|chap|ch|episode|ep)\.?\s*#?\s*(\d+(?:[.,]\d+)?)`)
	chapterSlugRe    = regexp.MustCompile(`(?i)\b(?:chapter|chap|ch|ep)[-_](\d+)(?:[-_.](\d+))?`)
	bareNumberRe     = regexp.MustCompile(`^\s*#?(\d+(?:\.\d+)?)\b`)
)

// ParseChapterNumber reads a chapter number from a title such as
// "Vol.2 Chapter 12.5: Title" and falls back to the chapter URL slug.
// It returns -1 when neither carries a number.
func ParseChapterNumber(title, chapterURL string) float64 {
	if m := chapterKeywordRe.FindStringSubmatch(title); m != nil {
		if f, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64); err == nil {
			return f
		}
	}
	if m := bareNumberRe.FindStringSubmatch(title); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return f
		}
	}
	if chapterURL != "" {
		path := chapterURL
		if u, err := url.Parse(chapterURL); err == nil {
			path = u.Path
		}
		if m := chapterSlugRe.FindStringSubmatch(path); m != nil {
			num := m[1]
			if m[2] != "" {
				num += "." + m[2]
			}
			if f, err := strconv.ParseFloat(num, 64); err == nil {
				return f
			}
		}
	}
	return -1
}

var relativeDateRe = regexp.MustCompile(`(?i)^(\d+|an?|one)\s+(second|sec|minute|min|hour|day|week|month|year)s?\s+ago$`)

var absoluteDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"Jan 02,2006 15:04",
	"Jan 02,2006",
	"Jan 02,06",
	"Jan 2, 2006",
	"January 2, 2006",
	"January 02, 2006",
	"02/01/2006",
	"2 January 2006",
}

// ParseDate understands the absolute formats seen on the supported sites
// and relative phrases like "2 hours ago" or "yesterday", which are
// resolved against now and reported with relative set. It returns nil
// for anything else.
func ParseDate(s string, now time.Time) (at *time.Time, relative bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	lower := strings.ToLower(s)
	switch lower {
	case "just now", "now", "today":
		return &now, true
	case "yesterday":
		t := now.AddDate(0, 0, -1)
		return &t, true
	}
	if m := relativeDateRe.FindStringSubmatch(lower); m != nil {
		n := 1
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
		var t time.Time
		switch m[2] {
		case "second", "sec":
			t = now.Add(-time.Duration(n) * time.Second)
		case "minute", "min":
			t = now.Add(-time.Duration(n) * time.Minute)
		case "hour":
			t = now.Add(-time.Duration(n) * time.Hour)
		case "day":
			t = now.AddDate(0, 0, -n)
		case "week":
			t = now.AddDate(0, 0, -7*n)
		case "month":
			t = now.AddDate(0, -n, 0)
		case "year":
			t = now.AddDate(-n, 0, 0)
		}
		return &t, true
	}
	for _, layout := range absoluteDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, false
		}
	}
	return nil, false
}

// pathID joins the last n path segments of rawURL with "~". Slugs are
// only unique per site, and chapter slugs only per manga.
func pathID(rawURL string, n int) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) < n {
		return ""
	}
	return strings.Join(parts[len(parts)-n:], "~")
}

func clampPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

// blockedImage reports whether the image URL matches one of the
// adapter's decoration patterns.
func blockedImage(imageURL string, patterns []string) bool {
	lower := strings.ToLower(imageURL)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func copyHeaders(h map[string]string) map[string]string {
	return transport.MergeHeaders(h)
}
