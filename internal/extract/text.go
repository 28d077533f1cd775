package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultRequirementKeywords mark sentences that read like entry requirements.
var DefaultRequirementKeywords = []string{
	"qualif",
	"must be",
	"minimum age",
	"years of age",
	"proof of",
	"medical certificate",
	"entry requirement",
	"eligib",
	"time standard",
	"entry fee",
	"registration fee",
	"ballot",
	"lottery",
}

// DefaultMaxRequirementSentences caps how many clauses are kept per page.
const DefaultMaxRequirementSentences = 5

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)

// visibleText returns the page text with scripts, styles and navigation chrome removed.
func visibleText(doc *goquery.Document) string {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	clone := body.Clone()
	clone.Find("script, style, noscript, template, svg, nav, header, footer").Remove()

	var b strings.Builder
	clone.Find("p, li, td, th, dd, dt, h1, h2, h3, h4, h5, h6, div").Each(func(_ int, s *goquery.Selection) {
		// Leaf-ish blocks only so nested containers do not repeat their children.
		if s.Children().Filter("p, li, div, table, ul, ol").Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		b.WriteString(text)
		if !strings.ContainsAny(text[len(text)-1:], ".!?") {
			b.WriteString(".")
		}
		b.WriteString(" ")
	})
	if b.Len() == 0 {
		return strings.Join(strings.Fields(clone.Text()), " ")
	}
	return strings.TrimSpace(b.String())
}

// sentences splits text on terminal punctuation.
func sentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// requirementClauses returns up to limit distinct sentences mentioning any keyword.
func requirementClauses(text string, keywords []string, limit int) []string {
	if limit <= 0 || len(keywords) == 0 {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, sentence := range sentences(text) {
		lower := strings.ToLower(sentence)
		if !containsAny(lower, keywords) {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, sentence)
		if len(out) == limit {
			break
		}
	}
	return out
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// metaContent returns the first non-blank content attribute among the selectors.
func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstText(doc *goquery.Document, selector string) string {
	return strings.Join(strings.Fields(doc.Find(selector).First().Text()), " ")
}
