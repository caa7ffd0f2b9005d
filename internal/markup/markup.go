// Package markup is the query layer the HTML adapters parse pages with.
// It wraps goquery with the few accessors adapters need and resolves
// relative links against the page URL.
package markup

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type Document struct {
	*goquery.Document
	base *url.URL
}

// Parse builds a queryable tree from raw markup. pageURL is used to
// resolve relative links and may be empty.
func Parse(body []byte, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	d := &Document{Document: doc}
	if pageURL != "" {
		if u, err := url.Parse(pageURL); err == nil {
			d.base = u
		}
	}
	return d, nil
}

// Has reports whether selector matches at least one node.
func (d *Document) Has(selector string) bool {
	return d.Find(selector).Length() > 0
}

// Text returns the collapsed text of the first match of selector.
func (d *Document) Text(selector string) string {
	return Text(d.Find(selector).First())
}

// Abs resolves ref against the page URL. Protocol-relative and absolute
// refs pass through; an empty ref stays empty.
func (d *Document) Abs(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || d.base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return d.base.ResolveReference(u).String()
}

// Text collapses all whitespace runs in the selection's text.
func Text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// Attr returns the first non-empty attribute among names. Lazy-loading
// themes keep the real image URL in data-src and a placeholder in src.
func Attr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v, ok := s.Attr(n); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// ImageURL reads the usual lazy-load attributes of an img node, then src.
func ImageURL(s *goquery.Selection) string {
	if v := Attr(s, "data-src", "data-lazy-src", "data-original", "src"); v != "" {
		return v
	}
	if srcset := Attr(s, "data-srcset", "srcset"); srcset != "" {
		return strings.Fields(srcset)[0]
	}
	return ""
}

// Texts returns the collapsed text of every match, skipping empty ones.
func Texts(s *goquery.Selection) []string {
	var out []string
	s.Each(func(_ int, n *goquery.Selection) {
		if t := Text(n); t != "" {
			out = append(out, t)
		}
	})
	return out
}
