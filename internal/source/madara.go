package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mangashelf/internal/markup"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/models"
)

var madaraImageBlocklist = []string{"/wp-content/plugins/", "histats", "/ads/", "ads-", "banner"}

// Madara scrapes WordPress sites running the Madara manga theme. One
// instance serves one site; register several with different ids.
type Madara struct {
	htmlSite
	clock clock.Clock
}

func NewMadara(info SourceInfo, f Fetcher, clk clock.Clock) *Madara {
	if info.Kind == "" {
		info.Kind = "madara"
	}
	site := newHTMLSite(info, f)
	if info.Restricted {
		// the theme's age gate
		site.cookies = map[string]string{"wpmanga-adault": "1"}
		site.imageHdr["Cookie"] = "wpmanga-adault=1"
	}
	return &Madara{htmlSite: site, clock: clock.OrReal(clk)}
}

// MadaraQuery collapses whitespace and joins the escaped words with "+".
func MadaraQuery(q string) string {
	words := strings.Fields(q)
	for i, w := range words {
		words[i] = url.QueryEscape(w)
	}
	return strings.Join(words, "+")
}

func (s *Madara) Search(ctx context.Context, query string, page int) (models.SearchResult, error) {
	q := MadaraQuery(query)
	if q == "" {
		return models.SearchResult{Items: []models.MangaSummary{}}, nil
	}
	u := fmt.Sprintf("%s/page/%d/?s=%s&post_type=wp-manga", s.info.BaseURL, clampPage(page), q)
	return s.listing(ctx, u)
}

func (s *Madara) Popular(ctx context.Context, page int) (models.SearchResult, error) {
	return s.listing(ctx, fmt.Sprintf("%s/manga/page/%d/?m_orderby=views", s.info.BaseURL, clampPage(page)))
}

func (s *Madara) Latest(ctx context.Context, page int) (models.SearchResult, error) {
	return s.listing(ctx, fmt.Sprintf("%s/manga/page/%d/?m_orderby=latest", s.info.BaseURL, clampPage(page)))
}

func (s *Madara) listing(ctx context.Context, u string) (models.SearchResult, error) {
	doc, err := s.document(ctx, u)
	if err != nil {
		return models.SearchResult{}, err
	}

	items := []models.MangaSummary{}
	doc.Find(".c-tabs-item__content, .page-item-detail").Each(func(_ int, it *goquery.Selection) {
		link := it.Find(".post-title a, h3 a").First()
		href := doc.Abs(markup.Attr(link, "href"))
		title := markup.Text(link)
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

	return models.SearchResult{
		Items:       items,
		HasNextPage: doc.Has("a.nextpostslink, .nav-previous a"),
	}, nil
}

func (s *Madara) MangaDetails(ctx context.Context, mangaURL string) (models.MangaDetails, error) {
	doc, err := s.document(ctx, mangaURL)
	if err != nil {
		return models.MangaDetails{}, err
	}

	heading := doc.Find(".post-title h1, .post-title h3").First().Clone()
	heading.Find("span").Remove()
	title := markup.Text(heading)
	if title == "" {
		return models.MangaDetails{}, s.parseErr("manga title", mangaURL)
	}

	raw := pathID(mangaURL, 1)
	d := models.MangaDetails{
		ID:          models.CompoundID(s.info.ID, raw),
		SourceID:    s.info.ID,
		RawID:       raw,
		URL:         mangaURL,
		Title:       title,
		CoverURL:    doc.Abs(markup.ImageURL(doc.Find(".summary_image img").First())),
		Author:      strings.Join(markup.Texts(doc.Find(".author-content a")), ", "),
		Artist:      strings.Join(markup.Texts(doc.Find(".artist-content a")), ", "),
		Status:      models.StatusUnknown,
		Genres:      markup.Texts(doc.Find(".genres-content a")),
		Description: doc.Text(".description-summary .summary__content, .summary__content, .manga-excerpt"),
	}
	if d.Genres == nil {
		d.Genres = []string{}
	}

	doc.Find(".post-content_item").Each(func(_ int, item *goquery.Selection) {
		label := strings.ToLower(markup.Text(item.Find(".summary-heading")))
		if strings.Contains(label, "status") {
			d.Status = models.ParseMangaStatus(markup.Text(item.Find(".summary-content")))
		}
	})
	return d, nil
}

func (s *Madara) ChapterList(ctx context.Context, mangaURL string) ([]models.Chapter, error) {
	doc, err := s.document(ctx, mangaURL)
	if err != nil {
		return nil, err
	}
	holder := doc.Find("#manga-chapters-holder, .listing-chapters_wrap")
	if holder.Length() == 0 {
		return nil, s.parseErr("chapter list", mangaURL)
	}

	now := s.clock.Now()
	seen := make(map[string]bool)
	chapters := []models.Chapter{}
	holder.Find("li.wp-manga-chapter").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a").First()
		href := doc.Abs(markup.Attr(link, "href"))
		raw := pathID(href, 2)
		if raw == "" || seen[raw] {
			return
		}
		seen[raw] = true

		title := markup.Text(link)
		release := row.Find(".chapter-release-date")
		date := markup.Text(release.Find("i"))
		if date == "" {
			// fresh chapters carry a relative date in the badge title
			date = markup.Attr(release.Find("a"), "title")
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

func (s *Madara) PageList(ctx context.Context, chapterURL string) ([]models.Page, error) {
	doc, err := s.document(ctx, chapterURL)
	if err != nil {
		return nil, err
	}
	content := doc.Find(".reading-content")
	if content.Length() == 0 {
		return nil, s.parseErr("reading content", chapterURL)
	}

	imgs := content.Find(".page-break img")
	if imgs.Length() == 0 {
		imgs = content.Find("img")
	}
	var urls []string
	imgs.Each(func(_ int, img *goquery.Selection) {
		src := doc.Abs(markup.ImageURL(img))
		if src == "" || blockedImage(src, madaraImageBlocklist) {
			return
		}
		urls = append(urls, src)
	})
	if len(urls) == 0 {
		return nil, s.parseErr("chapter images", chapterURL)
	}
	return s.buildPages(urls), nil
}
