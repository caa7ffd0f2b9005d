package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mangashelf/internal/apperr"
	"mangashelf/internal/transport"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixtureServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
}

// newFixtureServer serves routes keyed by path; "path?query" keys match
// the full request URI.
func newFixtureServer(t *testing.T, routes map[string]string) *fixtureServer {
	t.Helper()
	fs := &fixtureServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.paths = append(fs.paths, r.URL.RequestURI())
		fs.mu.Unlock()
		if body, ok := routes[r.URL.RequestURI()]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		if body, ok := routes[r.URL.Path]; ok {
			_, _ = w.Write([]byte(body))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fixtureServer) requested() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.paths...)
}

func testFetcher() *transport.Client {
	return transport.New(transport.Config{MaxRetries: 0, Timeout: 5 * time.Second})
}

const natoSearchPage = `<html><body><div class="panel-search-story">
<div class="search-story-item">
  <a class="item-img" href="/manga/manga-aa001"><img src="/covers/aa001.jpg"></a>
  <div class="item-right"><h3><a class="item-title" href="/manga/manga-aa001">One Piece</a></h3></div>
</div>
<div class="search-story-item">
  <a class="item-img" href="/manga/manga-bb002"><img data-src="/covers/bb002.jpg" src="/lazy.gif"></a>
  <div class="item-right"><h3><a class="item-title" href="/manga/manga-bb002">One Piece: Party</a></h3></div>
</div>
</div>
<div class="panel-page-number"><a class="page-blue">1</a><a class="page-next" href="?page=2">NEXT</a></div>
</body></html>`

const natoLastPage = `<html><body><div class="panel-search-story">
<div class="search-story-item"><h3><a href="/manga/manga-cc003">One Piece Chapter Extra</a></h3></div>
</div></body></html>`

const natoDetailsPage = `<html><body>
<div class="panel-story-info">
  <div class="story-info-left"><span class="info-image"><img src="/covers/aa001.jpg"></span></div>
  <div class="story-info-right">
    <h1>One Piece</h1>
    <table class="variations-tableInfo"><tbody>
      <tr><td class="table-label">Author(s) :</td><td class="table-value"><a>Oda Eiichiro</a></td></tr>
      <tr><td class="table-label">Status :</td><td class="table-value">Ongoing</td></tr>
      <tr><td class="table-label">Genres :</td><td class="table-value"><a>Action</a> - <a>Adventure</a></td></tr>
    </tbody></table>
  </div>
  <div class="panel-story-info-description" id="panel-story-info-description">Description : Gol D. Roger was known as the Pirate King.</div>
</div>
<div class="panel-story-chapter-list"><ul class="row-content-chapter">
  <li class="a-h"><a class="chapter-name" href="/manga/manga-aa001/chapter-1001.5">Chapter 1001.5: Extra</a><span class="chapter-view">1</span><span class="chapter-time" title="May 30,2024 10:00">2 days ago</span></li>
  <li class="a-h"><a class="chapter-name" href="/manga/manga-aa001/chapter-1001">Chapter 1001</a><span class="chapter-time">3 hours ago</span></li>
  <li class="a-h"><a class="chapter-name" href="/manga/manga-aa001/chapter-1000">Vol.99 Chapter 1000</a><span class="chapter-time">May 01,2024 08:30</span></li>
</ul></div>
</body></html>`

const natoReaderPage = `<html><body><div class="container-chapter-reader">
<img src="https://cdn.example/banner/top.jpg">
<img src="https://img.example/ch1001/1.jpg">
<img src="https://img.example/ch1001/2.jpg">
<img src="https://img.example/ads/sponsor.jpg">
<img src="https://img.example/themes/logo.png">
<img src="https://img.example/loading.gif">
</div></body></html>`

func newTestNato(t *testing.T, routes map[string]string) (*Nato, *fixtureServer) {
	srv := newFixtureServer(t, routes)
	info := SourceInfo{ID: "nato", Name: "Nato", BaseURL: srv.URL, Lang: "en"}
	return NewNato(info, testFetcher(), clock.Fake(testNow)), srv
}

func TestNatoQuery(t *testing.T) {
	cases := map[string]string{
		"one piece chapter": "one_piece_chapter",
		"  One   Piece!! ":   "one_piece",
		"re:zero - kara":     "re_zero_kara",
		"":                   "",
	}
	for in, want := range cases {
		if got := NatoQuery(in); got != want {
			t.Fatalf("NatoQuery(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNatoSearchNormalizesQueryAndPaginates(t *testing.T) {
	src, srv := newTestNato(t, map[string]string{
		"/search/story/one_piece_chapter?page=1": natoSearchPage,
		"/search/story/one_piece_chapter?page=2": natoLastPage,
	})
	ctx := context.Background()

	res, err := src.Search(ctx, "one piece chapter", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(srv.requested()[0], "one_piece_chapter") {
		t.Fatalf("request did not carry normalized query: %v", srv.requested())
	}
	if !res.HasNextPage {
		t.Fatalf("next marker present, HasNextPage should be true")
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v", res.Items)
	}
	first := res.Items[0]
	if first.ID != "nato_manga-aa001" || first.Title != "One Piece" || first.CoverURL != srv.URL+"/covers/aa001.jpg" {
		t.Fatalf("first = %+v", first)
	}
	if res.Items[1].CoverURL != srv.URL+"/covers/bb002.jpg" {
		t.Fatalf("lazy cover not resolved: %q", res.Items[1].CoverURL)
	}

	res, err = src.Search(ctx, "one piece chapter", 2)
	if err != nil {
		t.Fatalf("Search page 2: %v", err)
	}
	if res.HasNextPage {
		t.Fatalf("no next marker, HasNextPage should be false")
	}
}

func TestNatoSearchNoMatches(t *testing.T) {
	src, _ := newTestNato(t, map[string]string{
		"/search/story/zzz?page=1": `<html><body><div class="panel-search-story"></div></body></html>`,
	})
	res, err := src.Search(context.Background(), "zzz", 1)
	if err != nil {
		t.Fatalf("zero matches must not be an error: %v", err)
	}
	if res.Items == nil || len(res.Items) != 0 || res.HasNextPage {
		t.Fatalf("res = %+v", res)
	}
}

func TestNatoDetailsAndChapters(t *testing.T) {
	src, srv := newTestNato(t, map[string]string{"/manga/manga-aa001": natoDetailsPage})
	ctx := context.Background()
	mangaURL := srv.URL + "/manga/manga-aa001"

	d, err := src.MangaDetails(ctx, mangaURL)
	if err != nil {
		t.Fatalf("MangaDetails: %v", err)
	}
	if d.ID != "nato_manga-aa001" || d.Title != "One Piece" || d.Author != "Oda Eiichiro" {
		t.Fatalf("details = %+v", d)
	}
	if d.Status != models.StatusOngoing {
		t.Fatalf("status = %q", d.Status)
	}
	if len(d.Genres) != 2 || d.Genres[1] != "Adventure" {
		t.Fatalf("genres = %v", d.Genres)
	}
	if !strings.HasPrefix(d.Description, "Gol D. Roger") {
		t.Fatalf("description = %q", d.Description)
	}

	chs, err := src.ChapterList(ctx, mangaURL)
	if err != nil {
		t.Fatalf("ChapterList: %v", err)
	}
	if len(chs) != 3 {
		t.Fatalf("chapters = %+v", chs)
	}
	// site order is kept
	if chs[0].Number != 1001.5 || chs[1].Number != 1001 || chs[2].Number != 1000 {
		t.Fatalf("numbers = %v %v %v", chs[0].Number, chs[1].Number, chs[2].Number)
	}
	if chs[0].ID != "nato_manga-aa001~chapter-1001.5" {
		t.Fatalf("chapter id = %q", chs[0].ID)
	}
	if chs[0].PublishedAt == nil || !chs[0].PublishedAt.Equal(time.Date(2024, 5, 30, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("absolute date = %v", chs[0].PublishedAt)
	}
	if chs[1].PublishedAt == nil || !chs[1].PublishedAt.Equal(testNow.Add(-3*time.Hour)) {
		t.Fatalf("relative date = %v", chs[1].PublishedAt)
	}
}

func TestNatoMissingChapterListIsParseError(t *testing.T) {
	src, srv := newTestNato(t, map[string]string{"/manga/x": `<html><body><h1>Moved</h1></body></html>`})
	_, err := src.ChapterList(context.Background(), srv.URL+"/manga/x")
	var pe *apperr.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestNatoPageListFiltersDecorations(t *testing.T) {
	src, srv := newTestNato(t, map[string]string{"/manga/manga-aa001/chapter-1001": natoReaderPage})
	pages, err := src.PageList(context.Background(), srv.URL+"/manga/manga-aa001/chapter-1001")
	if err != nil {
		t.Fatalf("PageList: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %+v", pages)
	}
	if pages[0].Index != 0 || pages[1].ImageURL != "https://img.example/ch1001/2.jpg" {
		t.Fatalf("pages = %+v", pages)
	}
	if pages[0].Headers["Referer"] != srv.URL+"/" {
		t.Fatalf("page headers missing referer: %v", pages[0].Headers)
	}
	if src.ImageHeaders()["User-Agent"] == "" {
		t.Fatalf("image headers missing user agent")
	}
}

func TestNatoChallengeSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<html><head><title>Just a moment...</title></head></html>`))
	}))
	defer srv.Close()
	src := NewNato(SourceInfo{ID: "nato", BaseURL: srv.URL}, testFetcher(), nil)

	_, err := src.Search(context.Background(), "one piece", 1)
	if !apperr.IsChallenge(err) {
		t.Fatalf("expected challenge error, got %v", err)
	}
}
