package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"mangashelf/internal/markup"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/models"
)

var natoImageBlocklist = []string{"/ads/", "banner", "logo", "/themes/", ".gif"}

// Nato scrapes Manganato-style sites.
type Nato struct {
	htmlSite
	clock clock.Clock
}

func NewNato(info SourceInfo, f Fetcher, clk clock.Clock) *Nato {
	if info.Kind == "" {
		info.Kind = "nato"
	}
	return &Nato{htmlSite: newHTMLSite(info, f), clock: clock.OrReal(clk)}
}

// NatoQuery lowercases q and replaces every run of non-alphanumerics
// with a single underscore.
func NatoQuery(q string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(q) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func (s *Nato) Search(ctx context.Context, query string, page int) (models.SearchResult, error) {
	q := NatoQuery(query)
	if q == "" {
		return models.SearchResult{Items: []models.MangaSummary{}}, nil
	}
	u := fmt.Sprintf("%s/search/story/%s?page=%d", s.info.BaseURL, url.PathEscape(q), clampPage(page))
	return s.listing(ctx, u)
}

func (s *Nato) Popular(ctx context.Context, page int) (models.SearchResult, error) {
	return s.listing(ctx, fmt.Sprintf("%s/genre-all/%d?type=topview", s.info.BaseURL, clampPage(page)))
}

func (s *Nato) Latest(ctx context.Context, page int) (models.SearchResult, error) {
	return s.listing(ctx, fmt.Sprintf("%s/genre-all/%d", s.info.BaseURL, clampPage(page)))
}

func (s *Nato) listing(ctx context.Context, u string) (models.SearchResult, error) {
	doc, err := s.document(ctx, u)
	if err != nil {
		return models.SearchResult{}, err
	}

	items := []models.MangaSummary{}
	doc.Find(".search-story-item, .content-genres-item, .story_item, .list-truyen-item-wrap").Each(func(_ int, it *goquery.Selection) {
		link := it.Find("h3 a").First()
		if link.Length() == 0 {
			link = it.Find("a[title]").First()
		}
		href := doc.Abs(markup.Attr(link, "href"))
		title := markup.Text(link)
		if title == "" {
			title = markup.Attr(link, "title")
		}
		raw := pathID(href, 1)
		if raw == "" || title == "" {
			return
		}
		items = append(items, models.MangaSummary{
			ID:       models.CompoundID(s.info.ID, raw),
			SourceID: s.info.ID,
			RawID:    raw,
			Title:    title,
			URL:      href,
			CoverURL: doc.Abs(markup.ImageURL(it.Find("img").First())),
		})
	})

	return models.SearchResult{Items: items, HasNextPage: doc.Has("a.page-next")}, nil
}

func (s *Nato) MangaDetails(ctx context.Context, mangaURL string) (models.MangaDetails, error) {
	doc, err := s.document(ctx, mangaURL)
	if err != nil {
		return models.MangaDetails{}, err
	}

	title := doc.Text(".story-info-right h1")
	if title == "" {
		title = doc.Text(".manga-info-text h1")
	}
	if title == "" {
		return models.MangaDetails{}, s.parseErr("manga title", mangaURL)
	}

	raw := pathID(mangaURL, 1)
	d := models.MangaDetails{
		ID:       models.CompoundID(s.info.ID, raw),
		SourceID: s.info.ID,
		RawID:    raw,
		URL:      mangaURL,
		Title:    title,
		CoverURL: doc.Abs(markup.ImageURL(doc.Find(".story-info-left .info-image img, .manga-info-pic img").First())),
		Status:   models.StatusUnknown,
		Genres:   []string{},
	}

	doc.Find(".variations-tableInfo tr, .manga-info-text li").Each(func(_ int, row *goquery.Selection) {
		label := strings.ToLower(markup.Text(row.Find(".table-label")))
		value := row.Find(".table-value")
		if label == "" {
			// older layout keeps label and value in one li
			label = strings.ToLower(markup.Text(row))
			value = row
		}
		switch {
		case strings.HasPrefix(label, "author"):
			d.Author = strings.Join(markup.Texts(value.Find("a")), ", ")
		case strings.HasPrefix(label, "status"):
			d.Status = models.ParseMangaStatus(markup.Text(value))
		case strings.HasPrefix(label, "genre"):
			d.Genres = append(d.Genres, markup.Texts(value.Find("a"))...)
		}
	})

	desc := doc.Text("#panel-story-info-description, #noidungm")
	for _, prefix := range []string{"Description :", "Description:"} {
		desc = strings.TrimSpace(strings.TrimPrefix(desc, prefix))
	}
	d.Description = desc
	return d, nil
}

func (s *Nato) ChapterList(ctx context.Context, mangaURL string) ([]models.Chapter, error) {
	doc, err := s.document(ctx, mangaURL)
	if err != nil {
		return nil, err
	}
	list := doc.Find(".panel-story-chapter-list, .chapter-list").First()
	if list.Length() == 0 {
		return nil, s.parseErr("chapter list", mangaURL)
	}

	now := s.clock.Now()
	chapters := []models.Chapter{}
	list.Find("li, .row").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a.chapter-name").First()
		if link.Length() == 0 {
			link = row.Find("a").First()
		}
		href := doc.Abs(markup.Attr(link, "href"))
		raw := pathID(href, 2)
		if raw == "" {
			return
		}
		title := markup.Text(link)
		timeNode := row.Find("span.chapter-time, span:last-child").Last()
		date := markup.Attr(timeNode, "title")
		if date == "" {
			date = markup.Text(timeNode)
		}
		published, relative := ParseDate(date, now)
		chapters = append(chapters, models.Chapter{
			ID:           models.CompoundID(s.info.ID, raw),
			RawID:        raw,
			Number:       ParseChapterNumber(title, href),
			Title:        title,
			URL:          href,
			PublishedAt:  published,
			DateRelative: relative,
		})
	})
	return chapters, nil
}

func (s *Nato) PageList(ctx context.Context, chapterURL string) ([]models.Page, error) {
	doc, err := s.document(ctx, chapterURL)
	if err != nil {
		return nil, err
	}
	reader := doc.Find(".container-chapter-reader")
	if reader.Length() == 0 {
		return nil, s.parseErr("chapter reader", chapterURL)
	}

	var urls []string
	reader.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := doc.Abs(markup.ImageURL(img))
		if src == "" || blockedImage(src, natoImageBlocklist) {
			return
		}
		urls = append(urls, src)
	})
	if len(urls) == 0 {
		return nil, s.parseErr("chapter images", chapterURL)
	}
	return s.buildPages(urls), nil
}
