package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"mangashelf/internal/apperr"
	"mangashelf/internal/transport"
	"mangashelf/pkg/models"
)

const mangadexCovers = "https://uploads.mangadex.org/covers"

// MangaDex talks to the public MangaDex JSON API.
type MangaDex struct {
	info     SourceInfo
	fetch    Fetcher
	headers  map[string]string
	imageHdr map[string]string

	Limit     int // listing page size
	FeedLimit int // chapter feed page size
	CoverBase string
}

func NewMangaDex(info SourceInfo, f Fetcher) *MangaDex {
	if info.Kind == "" {
		info.Kind = "mangadex"
	}
	if info.Lang == "" {
		info.Lang = "en"
	}
	ua := f.UserAgent()
	return &MangaDex{
		info:      info,
		fetch:     f,
		headers:   map[string]string{"Accept": "application/json", "User-Agent": ua},
		imageHdr:  transport.ImageHeaders(ua, "https://mangadex.org/"),
		Limit:     20,
		FeedLimit: 500,
		CoverBase: mangadexCovers,
	}
}

func (s *MangaDex) Info() SourceInfo { return s.info }

func (s *MangaDex) ImageHeaders() map[string]string { return copyHeaders(s.imageHdr) }

type mdRelationship struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Name     string `json:"name"`     // author, artist
		FileName string `json:"fileName"` // cover_art
	} `json:"attributes"`
}

type mdManga struct {
	ID         string `json:"id"`
	Attributes struct {
		Title       map[string]string   `json:"title"`
		AltTitles   []map[string]string `json:"altTitles"`
		Description map[string]string   `json:"description"`
		Status      string              `json:"status"`
		Tags        []struct {
			Attributes struct {
				Name map[string]string `json:"name"`
			} `json:"attributes"`
		} `json:"tags"`
	} `json:"attributes"`
	Relationships []mdRelationship `json:"relationships"`
}

type mdMangaList struct {
	Result string    `json:"result"`
	Data   []mdManga `json:"data"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
	Total  int       `json:"total"`
}

type mdMangaEntity struct {
	Result string  `json:"result"`
	Data   mdManga `json:"data"`
}

type mdChapterList struct {
	Result string `json:"result"`
	Data   []struct {
		ID         string `json:"id"`
		Attributes struct {
			Chapter     *string `json:"chapter"`
			Title       *string `json:"title"`
			PublishAt   string  `json:"publishAt"`
			ExternalURL *string `json:"externalUrl"`
		} `json:"attributes"`
	} `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type mdAtHome struct {
	Result  string `json:"result"`
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash string   `json:"hash"`
		Data []string `json:"data"`
	} `json:"chapter"`
}

func (s *MangaDex) getJSON(ctx context.Context, u, what string, out any) error {
	resp, err := s.fetch.Get(ctx, u, transport.RequestOptions{Headers: s.headers})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &apperr.ParseError{Source: s.info.ID, What: what, URL: u}
	}
	return nil
}

func (s *MangaDex) Search(ctx context.Context, query string, page int) (models.SearchResult, error) {
	q := strings.Join(strings.Fields(query), " ")
	if q == "" {
		return models.SearchResult{Items: []models.MangaSummary{}}, nil
	}
	v := url.Values{}
	v.Set("title", q)
	return s.list(ctx, v, page)
}

func (s *MangaDex) Popular(ctx context.Context, page int) (models.SearchResult, error) {
	v := url.Values{}
	v.Set("order[followedCount]", "desc")
	return s.list(ctx, v, page)
}

func (s *MangaDex) Latest(ctx context.Context, page int) (models.SearchResult, error) {
	v := url.Values{}
	v.Set("order[latestUploadedChapter]", "desc")
	return s.list(ctx, v, page)
}

func (s *MangaDex) list(ctx context.Context, v url.Values, page int) (models.SearchResult, error) {
	offset := (clampPage(page) - 1) * s.Limit
	v.Set("limit", strconv.Itoa(s.Limit))
	v.Set("offset", strconv.Itoa(offset))
	v.Add("includes[]", "cover_art")
	v.Add("contentRating[]", "safe")
	v.Add("contentRating[]", "suggestive")
	if s.info.Restricted {
		v.Add("contentRating[]", "erotica")
	}
	v.Add("availableTranslatedLanguage[]", s.info.Lang)

	u := s.info.BaseURL + "/manga?" + v.Encode()
	var md mdMangaList
	if err := s.getJSON(ctx, u, "manga list", &md); err != nil {
		return models.SearchResult{}, err
	}

	items := make([]models.MangaSummary, 0, len(md.Data))
	for _, m := range md.Data {
		if m.ID == "" {
			continue
		}
		title := pickTitle(m.Attributes.Title, s.info.Lang)
		if title == "" {
			continue
		}
		items = append(items, models.MangaSummary{
			ID:       models.CompoundID(s.info.ID, m.ID),
			SourceID: s.info.ID,
			RawID:    m.ID,
			Title:    title,
			URL:      s.mangaURL(m.ID),
			CoverURL: s.coverURL(m),
		})
	}
	return models.SearchResult{Items: items, HasNextPage: md.Offset+md.Limit < md.Total}, nil
}

func (s *MangaDex) MangaDetails(ctx context.Context, mangaURL string) (models.MangaDetails, error) {
	id := pathSegmentAfter(mangaURL, "manga", "title")
	if id == "" {
		return models.MangaDetails{}, &apperr.ParseError{Source: s.info.ID, What: "manga id", URL: mangaURL}
	}
	u := fmt.Sprintf("%s/manga/%s?includes[]=author&includes[]=artist&includes[]=cover_art", s.info.BaseURL, url.PathEscape(id))

	var md mdMangaEntity
	if err := s.getJSON(ctx, u, "manga", &md); err != nil {
		return models.MangaDetails{}, err
	}
	m := md.Data
	title := pickTitle(m.Attributes.Title, s.info.Lang)
	if m.ID == "" || title == "" {
		return models.MangaDetails{}, &apperr.ParseError{Source: s.info.ID, What: "manga title", URL: u}
	}

	genres := make([]string, 0, len(m.Attributes.Tags))
	for _, t := range m.Attributes.Tags {
		if name := pickLang(t.Attributes.Name, "en"); name != "" {
			genres = append(genres, name)
		}
	}
	var authors, artists []string
	for _, rel := range m.Relationships {
		switch rel.Type {
		case "author":
			authors = appendIfMissing(authors, rel.Attributes.Name)
		case "artist":
			artists = appendIfMissing(artists, rel.Attributes.Name)
		}
	}

	return models.MangaDetails{
		ID:          models.CompoundID(s.info.ID, m.ID),
		SourceID:    s.info.ID,
		RawID:       m.ID,
		URL:         s.mangaURL(m.ID),
		Title:       title,
		CoverURL:    s.coverURL(m),
		Author:      strings.Join(authors, ", "),
		Artist:      strings.Join(artists, ", "),
		Status:      models.ParseMangaStatus(m.Attributes.Status),
		Genres:      genres,
		Description: pickTitle(m.Attributes.Description, s.info.Lang),
	}, nil
}

// ChapterList walks the whole feed, newest first.
func (s *MangaDex) ChapterList(ctx context.Context, mangaURL string) ([]models.Chapter, error) {
	id := pathSegmentAfter(mangaURL, "manga", "title")
	if id == "" {
		return nil, &apperr.ParseError{Source: s.info.ID, What: "manga id", URL: mangaURL}
	}

	chapters := []models.Chapter{}
	for offset := 0; ; offset += s.FeedLimit {
		v := url.Values{}
		v.Set("limit", strconv.Itoa(s.FeedLimit))
		v.Set("offset", strconv.Itoa(offset))
		v.Add("translatedLanguage[]", s.info.Lang)
		v.Set("order[volume]", "desc")
		v.Set("order[chapter]", "desc")
		v.Add("contentRating[]", "safe")
		v.Add("contentRating[]", "suggestive")
		if s.info.Restricted {
			v.Add("contentRating[]", "erotica")
		}
		u := fmt.Sprintf("%s/manga/%s/feed?%s", s.info.BaseURL, url.PathEscape(id), v.Encode())

		var feed mdChapterList
		if err := s.getJSON(ctx, u, "chapter feed", &feed); err != nil {
			return nil, err
		}
		for _, c := range feed.Data {
			if c.ID == "" || (c.Attributes.ExternalURL != nil && *c.Attributes.ExternalURL != "") {
				continue
			}
			number := -1.0
			label := ""
			if c.Attributes.Chapter != nil {
				label = *c.Attributes.Chapter
				if f, err := strconv.ParseFloat(label, 64); err == nil {
					number = f
				}
			}
			title := ""
			if c.Attributes.Title != nil {
				title = strings.TrimSpace(*c.Attributes.Title)
			}
			if title == "" && label != "" {
				title = "Chapter " + label
			}
			var published *time.Time
			if t, err := time.Parse(time.RFC3339, c.Attributes.PublishAt); err == nil {
				published = &t
			}
			chapters = append(chapters, models.Chapter{
				ID:          models.CompoundID(s.info.ID, c.ID),
				RawID:       c.ID,
				Number:      number,
				Title:       title,
				URL:         s.info.BaseURL + "/chapter/" + c.ID,
				PublishedAt: published,
			})
		}
		if len(feed.Data) == 0 || feed.Offset+feed.Limit >= feed.Total {
			break
		}
	}
	return chapters, nil
}

func (s *MangaDex) PageList(ctx context.Context, chapterURL string) ([]models.Page, error) {
	id := pathSegmentAfter(chapterURL, "chapter")
	if id == "" {
		return nil, &apperr.ParseError{Source: s.info.ID, What: "chapter id", URL: chapterURL}
	}
	u := s.info.BaseURL + "/at-home/server/" + url.PathEscape(id)

	var ah mdAtHome
	if err := s.getJSON(ctx, u, "at-home server", &ah); err != nil {
		return nil, err
	}
	if ah.BaseURL == "" || ah.Chapter.Hash == "" || len(ah.Chapter.Data) == 0 {
		return nil, &apperr.ParseError{Source: s.info.ID, What: "chapter images", URL: u}
	}

	pages := make([]models.Page, 0, len(ah.Chapter.Data))
	for i, file := range ah.Chapter.Data {
		pages = append(pages, models.Page{
			Index:    i,
			ImageURL: fmt.Sprintf("%s/data/%s/%s", strings.TrimRight(ah.BaseURL, "/"), ah.Chapter.Hash, file),
			Headers:  s.ImageHeaders(),
		})
	}
	return pages, nil
}

func (s *MangaDex) mangaURL(id string) string { return s.info.BaseURL + "/manga/" + id }

func (s *MangaDex) coverURL(m mdManga) string {
	for _, rel := range m.Relationships {
		if rel.Type == "cover_art" && rel.Attributes.FileName != "" {
			return fmt.Sprintf("%s/%s/%s", s.CoverBase, m.ID, rel.Attributes.FileName)
		}
	}
	return ""
}

// pickTitle prefers lang, then English, then any value.
func pickTitle(m map[string]string, lang string) string {
	if v := pickLang(m, lang); v != "" {
		return v
	}
	if v := pickLang(m, "en"); v != "" {
		return v
	}
	// map order is random; the title must not change between fetches
	langs := make([]string, 0, len(m))
	for k := range m {
		langs = append(langs, k)
	}
	sort.Strings(langs)
	for _, k := range langs {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func pickLang(m map[string]string, lang string) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[lang])
}

func appendIfMissing(slice []string, v string) []string {
	if v == "" {
		return slice
	}
	for _, x := range slice {
		if x == v {
			return slice
		}
	}
	return append(slice, v)
}

// pathSegmentAfter returns the path segment that follows one of the
// markers, or the last segment when no marker is present.
func pathSegmentAfter(rawURL string, markers ...string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i := 0; i < len(parts)-1; i++ {
		for _, m := range markers {
			if parts[i] == m {
				return parts[i+1]
			}
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
