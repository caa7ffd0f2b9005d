// Package sourcetest provides a scriptable in-memory Source.
package sourcetest

import (
	"context"
	"fmt"
	"sync"

	"mangashelf/internal/apperr"
	"mangashelf/internal/source"
	"mangashelf/pkg/models"
)

// Fake serves canned data keyed by URL. Errors take precedence over data.
type Fake struct {
	SourceInfo source.SourceInfo
	Headers    map[string]string

	mu          sync.Mutex
	details     map[string]models.MangaDetails
	chapters    map[string][]models.Chapter
	pages       map[string][]models.Page
	errs        map[string]error
	calls       map[string]int
	chapterHook func(url string)
}

func New(id string) *Fake {
	return &Fake{
		SourceInfo: source.SourceInfo{ID: id, Name: id, Kind: "fake", BaseURL: "https://" + id + ".test"},
		details:    map[string]models.MangaDetails{},
		chapters:   map[string][]models.Chapter{},
		pages:      map[string][]models.Page{},
		errs:       map[string]error{},
		calls:      map[string]int{},
	}
}

var _ source.Source = (*Fake)(nil)

// URL returns the canonical page URL of a raw manga or chapter id.
func (f *Fake) URL(raw string) string {
	return f.SourceInfo.BaseURL + "/" + raw
}

// AddManga registers a title and returns its URL.
func (f *Fake) AddManga(raw, title string, chapters ...models.Chapter) string {
	u := f.URL(raw)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[u] = models.MangaDetails{
		ID:       models.CompoundID(f.SourceInfo.ID, raw),
		SourceID: f.SourceInfo.ID,
		RawID:    raw,
		URL:      u,
		Title:    title,
		Status:   models.StatusOngoing,
		Genres:   []string{},
	}
	f.chapters[u] = chapters
	return u
}

// Chapter builds a chapter of this source.
func (f *Fake) Chapter(raw string, number float64) models.Chapter {
	return models.Chapter{
		ID:     models.CompoundID(f.SourceInfo.ID, raw),
		RawID:  raw,
		Number: number,
		Title:  fmt.Sprintf("Chapter %g", number),
		URL:    f.URL(raw),
	}
}

func (f *Fake) SetChapters(mangaURL string, chapters ...models.Chapter) {
	f.mu.Lock()
	f.chapters[mangaURL] = chapters
	f.mu.Unlock()
}

func (f *Fake) SetPages(chapterURL string, imageURLs ...string) {
	pages := make([]models.Page, len(imageURLs))
	for i, u := range imageURLs {
		pages[i] = models.Page{Index: i, ImageURL: u, Headers: map[string]string{"Referer": chapterURL}}
	}
	f.mu.Lock()
	f.pages[chapterURL] = pages
	f.mu.Unlock()
}

// Fail makes every call for url return err. A nil err clears it.
func (f *Fake) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, url)
		return
	}
	f.errs[url] = err
}

// OnChapterList runs hook at the start of every ChapterList call.
func (f *Fake) OnChapterList(hook func(url string)) {
	f.mu.Lock()
	f.chapterHook = hook
	f.mu.Unlock()
}

// Calls reports how many requests were made for url.
func (f *Fake) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *Fake) hit(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	return f.errs[url]
}

func (f *Fake) Info() source.SourceInfo { return f.SourceInfo }

func (f *Fake) Search(context.Context, string, int) (models.SearchResult, error) {
	return models.SearchResult{Items: []models.MangaSummary{}}, nil
}

func (f *Fake) Popular(context.Context, int) (models.SearchResult, error) {
	return models.SearchResult{Items: []models.MangaSummary{}}, nil
}

func (f *Fake) Latest(context.Context, int) (models.SearchResult, error) {
	return models.SearchResult{Items: []models.MangaSummary{}}, nil
}

func (f *Fake) MangaDetails(_ context.Context, url string) (models.MangaDetails, error) {
	if err := f.hit(url); err != nil {
		return models.MangaDetails{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[url]
	if !ok {
		return models.MangaDetails{}, &apperr.ParseError{Source: f.SourceInfo.ID, What: "title", URL: url}
	}
	return d, nil
}

func (f *Fake) ChapterList(ctx context.Context, url string) ([]models.Chapter, error) {
	f.mu.Lock()
	hook := f.chapterHook
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.hit(url); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Chapter(nil), f.chapters[url]...), nil
}

func (f *Fake) PageList(_ context.Context, chapterURL string) ([]models.Page, error) {
	if err := f.hit(chapterURL); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pages, ok := f.pages[chapterURL]
	if !ok {
		return nil, &apperr.ParseError{Source: f.SourceInfo.ID, What: "pages", URL: chapterURL}
	}
	return append([]models.Page(nil), pages...), nil
}

func (f *Fake) ImageHeaders() map[string]string {
	out := map[string]string{}
	for k, v := range f.Headers {
		out[k] = v
	}
	return out
}
