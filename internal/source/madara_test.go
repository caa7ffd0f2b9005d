package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mangashelf/internal/apperr"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/models"
)

const madaraSearchPage = `<html><body><div class="c-tabs-item">
<div class="row c-tabs-item__content">
  <div class="tab-thumb"><a href="/manga/solo-leveling/"><img data-src="/wp-content/uploads/solo.jpg" src="data:image/gif;base64,R0"></a></div>
  <div class="tab-summary"><div class="post-title"><h3 class="h4"><a href="/manga/solo-leveling/">Solo Leveling</a></h3></div></div>
</div>
</div>
<div class="wp-pagenavi"><a class="nextpostslink" href="/page/2/?s=solo+leveling&post_type=wp-manga">»</a></div>
</body></html>`

const madaraDetailsPage = `<html><body>
<div class="post-title"><h1><span class="manga-title-badges hot">HOT</span> Solo Leveling </h1></div>
<div class="summary_image"><a><img class="img-responsive" data-src="/wp-content/uploads/solo.jpg"></a></div>
<div class="author-content"><a>Chugong</a></div>
<div class="artist-content"><a>DUBU</a></div>
<div class="genres-content"><a>Action</a>, <a>Fantasy</a></div>
<div class="post-status">
  <div class="post-content_item"><div class="summary-heading"><h5>Release</h5></div><div class="summary-content">2018</div></div>
  <div class="post-content_item"><div class="summary-heading"><h5>Status</h5></div><div class="summary-content"> Completed </div></div>
</div>
<div class="description-summary"><div class="summary__content"><p>10 years ago, after the Gate...</p></div></div>
<div id="manga-chapters-holder"><div class="listing-chapters_wrap"><ul>
  <li class="wp-manga-chapter"><a href="/manga/solo-leveling/chapter-201/">Chapter 201</a><span class="chapter-release-date"><a title="2 hours ago"><img src="/new.png"></a></span></li>
  <li class="wp-manga-chapter"><a href="/manga/solo-leveling/chapter-200/">Chapter 200 - End</a><span class="chapter-release-date"><i>January 2, 2024</i></span></li>
  <li class="wp-manga-chapter"><a href="/manga/solo-leveling/prologue/">Prologue</a></li>
</ul></div></div>
</body></html>`

const madaraReaderPage = `<html><body><div class="reading-content">
<div class="page-break"><img data-src=" https://site.example/wp-content/uploads/WP-manga/data/solo/200/01.jpg "></div>
<div class="page-break"><img src="https://site.example/wp-content/uploads/WP-manga/data/solo/200/02.jpg"></div>
<div class="page-break"><img src="https://site.example/wp-content/plugins/wp-manga/assets/loader.jpg"></div>
<div class="page-break"><img src="https://c.histats.com/counter.gif"></div>
</div></body></html>`

func TestMadaraQuery(t *testing.T) {
	if got := MadaraQuery("  solo   leveling "); got != "solo+leveling" {
		t.Fatalf("MadaraQuery = %q", got)
	}
	if got := MadaraQuery("a&b"); got != "a%26b" {
		t.Fatalf("MadaraQuery escaping = %q", got)
	}
}

func TestMadaraSearch(t *testing.T) {
	srv := newFixtureServer(t, map[string]string{"/page/1/": madaraSearchPage})
	src := NewMadara(SourceInfo{ID: "madara", BaseURL: srv.URL}, testFetcher(), clock.Fake(testNow))

	res, err := src.Search(context.Background(), "solo  leveling", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := srv.requested()[0]; got != "/page/1/?s=solo+leveling&post_type=wp-manga" {
		t.Fatalf("request = %q", got)
	}
	if len(res.Items) != 1 || res.Items[0].ID != "madara_solo-leveling" || !res.HasNextPage {
		t.Fatalf("res = %+v", res)
	}
	if res.Items[0].CoverURL != srv.URL+"/wp-content/uploads/solo.jpg" {
		t.Fatalf("cover = %q", res.Items[0].CoverURL)
	}
}

func TestMadaraRestrictedSendsAgeGateCookie(t *testing.T) {
	var cookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	}))
	defer srv.Close()

	src := NewMadara(SourceInfo{ID: "adult", BaseURL: srv.URL, Restricted: true}, testFetcher(), nil)
	if _, err := src.Popular(context.Background(), 1); err != nil {
		t.Fatalf("Popular: %v", err)
	}
	if cookie != "wpmanga-adault=1" {
		t.Fatalf("cookie = %q", cookie)
	}

	open := NewMadara(SourceInfo{ID: "open", BaseURL: srv.URL}, testFetcher(), nil)
	if _, err := open.Latest(context.Background(), 1); err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if cookie != "" {
		t.Fatalf("unrestricted source sent cookie %q", cookie)
	}
}

func TestMadaraDetailsAndChapters(t *testing.T) {
	srv := newFixtureServer(t, map[string]string{"/manga/solo-leveling/": madaraDetailsPage})
	src := NewMadara(SourceInfo{ID: "madara", BaseURL: srv.URL}, testFetcher(), clock.Fake(testNow))
	ctx := context.Background()
	mangaURL := srv.URL + "/manga/solo-leveling/"

	d, err := src.MangaDetails(ctx, mangaURL)
	if err != nil {
		t.Fatalf("MangaDetails: %v", err)
	}
	if d.Title != "Solo Leveling" || d.Author != "Chugong" || d.Artist != "DUBU" {
		t.Fatalf("details = %+v", d)
	}
	if d.Status != models.StatusCompleted || len(d.Genres) != 2 {
		t.Fatalf("status/genres = %q %v", d.Status, d.Genres)
	}
	if d.Description != "10 years ago, after the Gate..." {
		t.Fatalf("description = %q", d.Description)
	}

	chs, err := src.ChapterList(ctx, mangaURL)
	if err != nil {
		t.Fatalf("ChapterList: %v", err)
	}
	if len(chs) != 3 {
		t.Fatalf("chapters = %+v", chs)
	}
	if chs[0].ID != "madara_solo-leveling~chapter-201" || chs[0].Number != 201 {
		t.Fatalf("first = %+v", chs[0])
	}
	if chs[0].PublishedAt == nil || !chs[0].PublishedAt.Equal(testNow.Add(-2*time.Hour)) || !chs[0].DateRelative {
		t.Fatalf("relative date = %v", chs[0].PublishedAt)
	}
	if chs[1].PublishedAt == nil || chs[1].PublishedAt.Day() != 2 || chs[1].DateRelative {
		t.Fatalf("absolute date = %v", chs[1].PublishedAt)
	}
	// unnumbered chapters are kept with -1
	if chs[2].Number != -1 || chs[2].PublishedAt != nil {
		t.Fatalf("prologue = %+v", chs[2])
	}
}

func TestMadaraMissingHolderIsParseError(t *testing.T) {
	srv := newFixtureServer(t, map[string]string{"/manga/x/": `<html><body><div class="post-title"><h1>X</h1></div></body></html>`})
	src := NewMadara(SourceInfo{ID: "madara", BaseURL: srv.URL}, testFetcher(), nil)

	_, err := src.ChapterList(context.Background(), srv.URL+"/manga/x/")
	var pe *apperr.ParseError
	if !errors.As(err, &pe) || pe.What != "chapter list" {
		t.Fatalf("expected chapter list ParseError, got %v", err)
	}
	if _, err := src.MangaDetails(context.Background(), srv.URL+"/nope/"); apperr.KindOf(err) != apperr.KindNetwork {
		t.Fatalf("404 should surface as network error, got %v", err)
	}
}

func TestMadaraPageListKeepsUploadsDropsDecorations(t *testing.T) {
	srv := newFixtureServer(t, map[string]string{"/manga/solo-leveling/chapter-200/": madaraReaderPage})
	src := NewMadara(SourceInfo{ID: "madara", BaseURL: srv.URL}, testFetcher(), nil)

	pages, err := src.PageList(context.Background(), srv.URL+"/manga/solo-leveling/chapter-200/")
	if err != nil {
		t.Fatalf("PageList: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %+v", pages)
	}
	if pages[0].ImageURL != "https://site.example/wp-content/uploads/WP-manga/data/solo/200/01.jpg" {
		t.Fatalf("first page = %q", pages[0].ImageURL)
	}
}

func TestMadaraRestrictedPagesCarryAgeGateCookie(t *testing.T) {
	srv := newFixtureServer(t, map[string]string{"/manga/solo-leveling/chapter-200/": madaraReaderPage})
	chapterURL := srv.URL + "/manga/solo-leveling/chapter-200/"

	adult := NewMadara(SourceInfo{ID: "adult", BaseURL: srv.URL, Restricted: true}, testFetcher(), nil)
	pages, err := adult.PageList(context.Background(), chapterURL)
	if err != nil {
		t.Fatalf("PageList: %v", err)
	}
	for _, p := range pages {
		if p.Headers["Cookie"] != "wpmanga-adault=1" {
			t.Fatalf("page %d headers = %v", p.Index, p.Headers)
		}
	}
	if got := adult.ImageHeaders()["Cookie"]; got != "wpmanga-adault=1" {
		t.Fatalf("ImageHeaders cookie = %q", got)
	}

	open := NewMadara(SourceInfo{ID: "open", BaseURL: srv.URL}, testFetcher(), nil)
	pages, err = open.PageList(context.Background(), chapterURL)
	if err != nil {
		t.Fatalf("PageList: %v", err)
	}
	if _, ok := pages[0].Headers["Cookie"]; ok {
		t.Fatalf("unrestricted page headers = %v", pages[0].Headers)
	}
}
