package source

import (
	"context"

	"mangashelf/internal/apperr"
	"mangashelf/internal/markup"
	"mangashelf/internal/transport"
	"mangashelf/pkg/models"
)

// htmlSite holds what the HTML adapters share: the fetcher, the request
// headers and cookies, and the image headers handed out with every page.
type htmlSite struct {
	info     SourceInfo
	fetch    Fetcher
	headers  map[string]string
	cookies  map[string]string
	imageHdr map[string]string
}

func newHTMLSite(info SourceInfo, f Fetcher) htmlSite {
	ua := f.UserAgent()
	page := transport.PageHeaders(ua)
	page["Referer"] = info.BaseURL + "/"
	return htmlSite{
		info:     info,
		fetch:    f,
		headers:  page,
		imageHdr: transport.ImageHeaders(ua, info.BaseURL+"/"),
	}
}

func (s *htmlSite) Info() SourceInfo { return s.info }

func (s *htmlSite) ImageHeaders() map[string]string { return copyHeaders(s.imageHdr) }

func (s *htmlSite) document(ctx context.Context, rawURL string) (*markup.Document, error) {
	resp, err := s.fetch.Get(ctx, rawURL, transport.RequestOptions{Headers: s.headers, Cookies: s.cookies})
	if err != nil {
		return nil, err
	}
	doc, err := markup.Parse(resp.Body, resp.URL)
	if err != nil {
		return nil, &apperr.ParseError{Source: s.info.ID, What: "document", URL: rawURL}
	}
	return doc, nil
}

func (s *htmlSite) parseErr(what, rawURL string) error {
	return &apperr.ParseError{Source: s.info.ID, What: what, URL: rawURL}
}

// buildPages numbers the image URLs and attaches the image headers.
func (s *htmlSite) buildPages(urls []string) []models.Page {
	out := make([]models.Page, 0, len(urls))
	for i, u := range urls {
		out = append(out, models.Page{Index: i, ImageURL: u, Headers: s.ImageHeaders()})
	}
	return out
}
