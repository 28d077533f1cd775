package extract

import (
	"bytes"
	"encoding/json"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// RaceConfig tunes the race heuristics.
type RaceConfig struct {
	RequirementKeywords     []string
	MaxRequirementSentences int
}

// RaceExtractor pulls race candidates out of calendar and event pages.
type RaceExtractor struct {
	cfg    RaceConfig
	logger *zap.Logger
}

// NewRaceExtractor builds a RaceExtractor, filling unset tuning with defaults.
func NewRaceExtractor(cfg RaceConfig, logger *zap.Logger) *RaceExtractor {
	if len(cfg.RequirementKeywords) == 0 {
		cfg.RequirementKeywords = DefaultRequirementKeywords
	}
	if cfg.MaxRequirementSentences <= 0 {
		cfg.MaxRequirementSentences = DefaultMaxRequirementSentences
	}
	return &RaceExtractor{cfg: cfg, logger: logging.OrNop(logger).Named("extract.races")}
}

// Extract runs the structured stage and falls back to heuristics when it yields nothing.
func (e *RaceExtractor) Extract(page crawler.Page) Outcome[record.RaceCandidate] {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		e.logger.Warn("Unparseable page", zap.String("url", page.URL), zap.Error(err))
		return none[record.RaceCandidate]()
	}
	source := crawler.Domain(page.URL)

	if found := e.structured(doc, page, source); len(found) > 0 {
		return structured(found)
	}
	return heuristic(e.heuristic(doc, page, source))
}

func (e *RaceExtractor) structured(doc *goquery.Document, page crawler.Page, source string) []record.RaceCandidate {
	var found []record.RaceCandidate
	for _, n := range jsonLDNodes(doc) {
		if !n.isEvent() {
			continue
		}
		c := raceFromJSONLD(n, page, source)
		// Without a name and a start date the block is not usable and the heuristics get a turn.
		if !c.Name.Present() || !c.StartDate.Present() {
			continue
		}
		found = append(found, c)
	}
	found = append(found, embeddedRaces(doc, page, source)...)

	for i := range found {
		if !found[i].EntryRequirements.Present() {
			found[i].EntryRequirements = e.requirements(found[i].Description.OrElse(""))
		}
	}
	// A detail page describes its one event in prose next to the markup.
	if len(found) == 1 && !found[0].EntryRequirements.Present() {
		found[0].EntryRequirements = e.requirements(visibleText(doc))
	}
	return found
}

func (e *RaceExtractor) heuristic(doc *goquery.Document, page crawler.Page, source string) []record.RaceCandidate {
	if rows := calendarTableRaces(doc, page, source); len(rows) > 0 {
		return rows
	}

	name := clean(metaContent(doc, `meta[property='og:title']`)).
		Or(clean(firstText(doc, "title"))).
		Or(clean(firstText(doc, "h1")))
	if !name.Present() {
		return nil
	}
	text := visibleText(doc)
	date := record.None[string]()
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		date = clean(v)
	}
	if !date.Present() {
		date = clean(findDate(text))
	}
	reqs := e.requirements(text)
	if !date.Present() && !reqs.Present() {
		return nil
	}
	return []record.RaceCandidate{{
		Name:              name,
		StartDate:         date,
		Description:       clean(metaContent(doc, `meta[name='description']`, `meta[property='og:description']`)),
		EntryRequirements: reqs,
		Website:           clean(page.URL),
		SourceName:        clean(source),
		SourceURL:         page.URL,
	}}
}

func (e *RaceExtractor) requirements(text string) record.Optional[string] {
	clauses := requirementClauses(text, e.cfg.RequirementKeywords, e.cfg.MaxRequirementSentences)
	return clean(strings.Join(clauses, " "))
}

func raceFromJSONLD(n node, page crawler.Page, source string) record.RaceCandidate {
	c := record.RaceCandidate{
		Name:          n.text("name"),
		StartDate:     n.text("startDate"),
		EndDate:       n.text("endDate"),
		Description:   n.text("description"),
		Distance:      n.text("distance"),
		Website:       resolveOptional(page.URL, n.text("url")),
		EventStatus:   n.text("eventStatus"),
		SourceName:    clean(source),
		SourceEventID: n.text("identifier").Or(n.text("@id")),
		SourceURL:     page.URL,
	}
	if loc := n.child("location"); loc != nil {
		if addr := loc.child("address"); addr != nil {
			c.City = addr.text("addressLocality")
			c.Region = addr.text("addressRegion")
			c.Country = addr.text("addressCountry")
		}
		if geo := loc.child("geo"); geo != nil {
			lat, latOK := geo.number("latitude")
			lon, lonOK := geo.number("longitude")
			if latOK && lonOK {
				c.Coordinates = record.Some(record.Coordinates{Latitude: lat, Longitude: lon})
			}
		}
	}
	return c
}

var scriptAssignment = regexp.MustCompile(`=\s*[\[{]`)

// embeddedRaces reads race objects out of JSON assigned to globals in inline scripts
// (window.__data = {...}), a common pattern on calendar sites that render client-side.
func embeddedRaces(doc *goquery.Document, page crawler.Page, source string) []record.RaceCandidate {
	var found []record.RaceCandidate
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if typ, ok := s.Attr("type"); ok && typ != "" && !strings.Contains(typ, "javascript") {
			return
		}
		src := s.Text()
		for _, loc := range scriptAssignment.FindAllStringIndex(src, -1) {
			var data any
			dec := json.NewDecoder(strings.NewReader(src[loc[1]-1:]))
			if err := dec.Decode(&data); err != nil {
				continue
			}
			found = walkEmbedded(data, page, source, found, 0)
		}
	})
	return found
}

const maxEmbeddedDepth = 8

func walkEmbedded(data any, page crawler.Page, source string, into []record.RaceCandidate, depth int) []record.RaceCandidate {
	if depth > maxEmbeddedDepth {
		return into
	}
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			into = walkEmbedded(item, page, source, into, depth+1)
		}
	case map[string]any:
		n := node(v)
		start := n.text("date_start").Or(n.text("startDate")).Or(n.text("start_date"))
		if name := n.text("name"); name.Present() && start.Present() {
			return append(into, record.RaceCandidate{
				Name:          name,
				StartDate:     start,
				EndDate:       n.text("date_end").Or(n.text("endDate")),
				City:          n.text("city"),
				Region:        n.text("region").Or(n.text("state")),
				Country:       n.text("country"),
				Description:   n.text("description"),
				Distance:      n.text("distance"),
				Website:       resolveOptional(page.URL, n.text("url").Or(n.text("website"))),
				SourceName:    clean(source),
				SourceEventID: n.text("id"),
				SourceURL:     page.URL,
			})
		}
		for _, key := range slices.Sorted(maps.Keys(v)) {
			into = walkEmbedded(v[key], page, source, into, depth+1)
		}
	}
	return into
}

// calendarTableRaces reads listing tables whose header names a date column and a race column.
func calendarTableRaces(doc *goquery.Document, page crawler.Page, source string) []record.RaceCandidate {
	var found []record.RaceCandidate
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() < 2 {
			return
		}
		cols := tableColumns(rows.First())
		if cols.date < 0 || cols.name < 0 {
			return
		}
		rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			cell := func(i int) *goquery.Selection {
				if i < 0 || i >= cells.Length() {
					return nil
				}
				return cells.Eq(i)
			}
			text := func(i int) record.Optional[string] {
				if c := cell(i); c != nil {
					return clean(c.Text())
				}
				return record.None[string]()
			}
			c := record.RaceCandidate{
				Name:       text(cols.name),
				StartDate:  text(cols.date),
				City:       text(cols.city),
				Region:     text(cols.region),
				Country:    text(cols.country),
				SourceName: clean(source),
				SourceURL:  page.URL,
			}
			if !c.Name.Present() || !c.StartDate.Present() {
				return
			}
			if nameCell := cell(cols.name); nameCell != nil {
				if href, ok := nameCell.Find("a[href]").First().Attr("href"); ok {
					c.Website = resolveOptional(page.URL, clean(href))
				}
			}
			if loc, ok := text(cols.location).Get(); ok && !c.City.Present() && !c.Country.Present() {
				splitLocation(loc, &c)
			}
			found = append(found, c)
		})
	})
	return found
}

type columns struct {
	date, name, city, region, country, location int
}

func tableColumns(header *goquery.Selection) columns {
	cols := columns{date: -1, name: -1, city: -1, region: -1, country: -1, location: -1}
	header.Find("th, td").Each(func(i int, s *goquery.Selection) {
		label := strings.ToLower(strings.TrimSpace(s.Text()))
		switch {
		case strings.Contains(label, "date") && cols.date < 0:
			cols.date = i
		case (strings.Contains(label, "race") || strings.Contains(label, "event") ||
			strings.Contains(label, "name") || strings.Contains(label, "marathon")) && cols.name < 0:
			cols.name = i
		case strings.Contains(label, "city") && cols.city < 0:
			cols.city = i
		case (strings.Contains(label, "region") || strings.Contains(label, "state")) && cols.region < 0:
			cols.region = i
		case strings.Contains(label, "country") && cols.country < 0:
			cols.country = i
		case (strings.Contains(label, "location") || strings.Contains(label, "venue") ||
			strings.Contains(label, "place")) && cols.location < 0:
			cols.location = i
		}
	})
	return cols
}

// splitLocation reads "City, Region, Country" or "City, Country" into the candidate.
func splitLocation(loc string, c *record.RaceCandidate) {
	parts := strings.Split(loc, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 1:
		c.City = clean(parts[0])
	case 2:
		c.City, c.Country = clean(parts[0]), clean(parts[1])
	default:
		c.City, c.Region, c.Country = clean(parts[0]), clean(parts[1]), clean(parts[len(parts)-1])
	}
}

const monthPattern = `(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

const dayPattern = `\d{1,2}(?:st|nd|rd|th)?`

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b` + monthPattern + `\.?\s+` + dayPattern + `(?:\s*[-–]\s*` + dayPattern + `)?,?\s+\d{4}\b`),
	regexp.MustCompile(`(?i)\b` + dayPattern + `(?:\s*[-–]\s*` + dayPattern + `)?\s+` + monthPattern + `\.?,?\s+\d{4}\b`),
}

// findDate returns the earliest date-looking substring in text.
func findDate(text string) string {
	best, bestAt := "", -1
	for _, re := range datePatterns {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if bestAt < 0 || loc[0] < bestAt {
			best, bestAt = text[loc[0]:loc[1]], loc[0]
		}
	}
	return best
}

func resolveOptional(base string, ref record.Optional[string]) record.Optional[string] {
	raw, ok := ref.Get()
	if !ok {
		return ref
	}
	return clean(resolveURL(base, raw))
}

func resolveURL(base, ref string) string {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}
