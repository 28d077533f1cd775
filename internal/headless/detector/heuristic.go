// Package detector decides when a statically fetched page needs a headless render.
package detector

import (
	"bytes"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

// DefaultMinTextLength is the visible text length below which a scripted page is promoted.
const DefaultMinTextLength = 200

// mountSelectors match the root elements client-side frameworks render calendars into.
const mountSelectors = `#__next, #root, #app, [data-reactroot], [ng-version], [data-v-app]`

// Heuristic promotes HTML pages that look like an unrendered client-side app. Pages that
// already carry data the extractors can read (JSON-LD or an embedded window.__data blob) and
// anything that is not HTML, such as feeds, stay static.
type Heuristic struct {
	MinTextLength int
}

var _ crawler.HeadlessDetector = (*Heuristic)(nil)

// NewHeuristic creates a detector. A non-positive minTextLength uses DefaultMinTextLength.
func NewHeuristic(minTextLength int) *Heuristic {
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	return &Heuristic{MinTextLength: minTextLength}
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless || !isHTML(resp) {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}
	if hasReadableData(doc) {
		return false
	}

	emptyMount := false
	doc.Find(mountSelectors).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		emptyMount = strings.TrimSpace(s.Text()) == ""
		return !emptyMount
	})
	if emptyMount {
		return true
	}

	scripts := doc.Find("script").Length()
	if scripts == 0 {
		return false
	}
	doc.Find("script, style, noscript, template").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	return utf8.RuneCountInString(text) < h.MinTextLength
}

func hasReadableData(doc *goquery.Document) bool {
	if doc.Find(`script[type="application/ld+json"]`).Length() > 0 {
		return true
	}
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = strings.Contains(s.Text(), "window.__data")
		return !found
	})
	return found
}

func isHTML(resp crawler.FetchResponse) bool {
	ct := resp.Headers.Get("Content-Type")
	if ct == "" {
		trimmed := bytes.TrimSpace(resp.Body)
		return !bytes.HasPrefix(trimmed, []byte("<?xml")) && !bytes.HasPrefix(trimmed, []byte("{"))
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
