package markup

import (
	"testing"
)

const page = `<html><body>
<div class="info"><h1>  One   Piece </h1></div>
<ul class="genres"><li><a>Action</a></li><li><a> </a></li><li><a>Adventure</a></li></ul>
<img class="lazy" src="/placeholder.gif" data-src=" /img/1.jpg ">
<img class="plain" src="https://cdn.example/2.jpg">
<img class="set" srcset="/img/3.webp 1x, /img/3@2x.webp 2x">
<a class="next" href="?page=2">Next</a>
</body></html>`

func TestDocumentAccessors(t *testing.T) {
	doc, err := Parse([]byte(page), "https://site.example/manga/op")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Text(".info h1"); got != "One Piece" {
		t.Fatalf("Text = %q", got)
	}
	if got := Texts(doc.Find(".genres a")); len(got) != 2 || got[1] != "Adventure" {
		t.Fatalf("Texts = %v", got)
	}
	if got := doc.Abs(ImageURL(doc.Find("img.lazy"))); got != "https://site.example/img/1.jpg" {
		t.Fatalf("lazy image = %q", got)
	}
	if got := doc.Abs(ImageURL(doc.Find("img.plain"))); got != "https://cdn.example/2.jpg" {
		t.Fatalf("plain image = %q", got)
	}
	if got := ImageURL(doc.Find("img.set")); got != "/img/3.webp" {
		t.Fatalf("srcset image = %q", got)
	}
	if got := doc.Abs(Attr(doc.Find("a.next"), "href")); got != "https://site.example/manga/op?page=2" {
		t.Fatalf("next = %q", got)
	}
	if !doc.Has("a.next") || doc.Has("a.prev") {
		t.Fatalf("Has mismatch")
	}
}
