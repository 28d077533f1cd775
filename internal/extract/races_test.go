package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

func htmlPage(url, body string) crawler.Page {
	return crawler.Page{SeedURL: url, URL: url, ContentType: "text/html; charset=utf-8", Body: []byte(body)}
}

func value[T any](t *testing.T, o record.Optional[T]) T {
	t.Helper()
	v, ok := o.Get()
	require.True(t, ok, "expected value to be present")
	return v
}

func TestRaceExtractorJSONLDEvent(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://example.com/races/spring", `
	<html><head>
	  <script type="application/ld+json">
	  {
	    "@context": "https://schema.org",
	    "@type": "Event",
	    "name": "City Spring Marathon",
	    "startDate": "2030-04-12",
	    "description": "Lottery entry with registration fee applies",
	    "eventStatus": "https://schema.org/EventScheduled",
	    "url": "/races/spring-marathon",
	    "location": {
	      "@type": "Place",
	      "name": "Main Square",
	      "address": {
	        "addressLocality": "Portland",
	        "addressRegion": "OR",
	        "addressCountry": {"@type": "Country", "name": "US"}
	      },
	      "geo": {"latitude": "45.52", "longitude": -122.68}
	    }
	  }
	  </script>
	</head><body></body></html>`)

	out := NewRaceExtractor(RaceConfig{}, nil).Extract(page)
	require.Equal(t, MethodStructured, out.Method)
	require.Len(t, out.Candidates, 1)

	c := out.Candidates[0]
	assert.Equal(t, "City Spring Marathon", value(t, c.Name))
	assert.Equal(t, "2030-04-12", value(t, c.StartDate))
	assert.Equal(t, "Portland", value(t, c.City))
	assert.Equal(t, "OR", value(t, c.Region))
	assert.Equal(t, "US", value(t, c.Country))
	assert.Equal(t, "https://example.com/races/spring-marathon", value(t, c.Website))
	assert.Equal(t, "https://schema.org/EventScheduled", value(t, c.EventStatus))
	assert.Equal(t, record.Coordinates{Latitude: 45.52, Longitude: -122.68}, value(t, c.Coordinates))
	assert.Equal(t, "example.com", value(t, c.SourceName))
	assert.Contains(t, strings.ToLower(value(t, c.EntryRequirements)), "lottery")
	assert.False(t, c.EndDate.Present())
}

func TestRaceExtractorCalendarListing(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://calendar.example/", `
	<script type="application/ld+json">{ this is not json }</script>
	<script type="application/ld+json">
	{"@context": "https://schema.org", "@graph": [
	  {"@type": "WebSite", "name": "Calendar"},
	  {"@type": "ItemList", "itemListElement": [
	    {"@type": "ListItem", "position": 1, "item": {"@type": "SportsEvent", "name": "Boston Marathon", "startDate": "2027-04-19"}},
	    {"@type": "ListItem", "position": 2, "item": {"@type": "SportsEvent", "name": "No Date Marathon"}},
	    {"@type": "ListItem", "position": 3, "item": {"@type": "SportsEvent", "name": "London Marathon", "startDate": "2027-04-25"}}
	  ]}
	]}
	</script>`)

	out := NewRaceExtractor(RaceConfig{}, nil).Extract(page)
	require.Equal(t, MethodStructured, out.Method)
	require.Len(t, out.Candidates, 2)
	assert.Equal(t, "Boston Marathon", value(t, out.Candidates[0].Name))
	assert.Equal(t, "London Marathon", value(t, out.Candidates[1].Name))
}

func TestRaceExtractorEmbeddedScriptData(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://www.worldmarathonmajors.com", `
	<script>
	window.__data = {
	  "name": "Example City Marathon",
	  "date_start": "2031-09-14",
	  "city": "Example City",
	  "country": "Exampleland",
	  "url": "https://www.worldmarathonmajors.com/example"
	};
	</script>`)

	out := NewRaceExtractor(RaceConfig{}, nil).Extract(page)
	require.Equal(t, MethodStructured, out.Method)
	require.Len(t, out.Candidates, 1)
	c := out.Candidates[0]
	assert.Equal(t, "2031-09-14", value(t, c.StartDate))
	assert.Equal(t, "Example City", value(t, c.City))
	assert.Equal(t, "Exampleland", value(t, c.Country))
	assert.Equal(t, "worldmarathonmajors.com", value(t, c.SourceName))
}

func TestRaceExtractorCalendarTable(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://aims-worldrunning.org/calendar.html", `
	<table>
	  <tr><th>Date</th><th>Race</th><th>City</th><th>Country</th></tr>
	  <tr>
	    <td>14 Sep 2032</td>
	    <td><a href="https://example.com">Example Marathon</a></td>
	    <td>Example City</td>
	    <td>Exampleland</td>
	  </tr>
	  <tr><td></td><td>Missing date</td><td></td><td></td></tr>
	</table>`)

	out := NewRaceExtractor(RaceConfig{}, nil).Extract(page)
	require.Equal(t, MethodHeuristic, out.Method)
	require.Len(t, out.Candidates, 1)
	c := out.Candidates[0]
	assert.Equal(t, "Example Marathon", value(t, c.Name))
	assert.Equal(t, "14 Sep 2032", value(t, c.StartDate))
	assert.Equal(t, "Example City", value(t, c.City))
	assert.Equal(t, "Exampleland", value(t, c.Country))
	assert.Equal(t, "https://example.com", value(t, c.Website))
}

func TestRaceExtractorLocationColumn(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://calendar.example/", `
	<table>
	  <tr><td>Event</td><td>Race date</td><td>Location</td></tr>
	  <tr><td>Lakeside Marathon</td><td>June 1, 2031</td><td>Madison, WI, USA</td></tr>
	</table>`)

	out := NewRaceExtractor(RaceConfig{}, nil).Extract(page)
	require.Len(t, out.Candidates, 1)
	c := out.Candidates[0]
	assert.Equal(t, "Madison", value(t, c.City))
	assert.Equal(t, "WI", value(t, c.Region))
	assert.Equal(t, "USA", value(t, c.Country))
}

func TestRaceExtractorHeuristicPage(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://lakeside.example/", `
	<html><head><title>Lakeside Marathon</title>
	<meta name="description" content="A flat course around the lake."></head>
	<body>
	  <nav>Home. Must be logged in to comment.</nav>
	  <h1>Lakeside Marathon</h1>
	  <p>Join us on the 3rd October 2031 for the tenth edition.</p>
	  <p>Runners must be 18 years of age on race day. Entry is by ballot.</p>
	  <p>Parking is free.</p>
	</body></html>`)

	out := NewRaceExtractor(RaceConfig{MaxRequirementSentences: 5}, nil).Extract(page)
	require.Equal(t, MethodHeuristic, out.Method)
	require.Len(t, out.Candidates, 1)
	c := out.Candidates[0]
	assert.Equal(t, "Lakeside Marathon", value(t, c.Name))
	assert.Equal(t, "3rd October 2031", value(t, c.StartDate))
	assert.Equal(t, "A flat course around the lake.", value(t, c.Description))
	reqs := value(t, c.EntryRequirements)
	assert.Contains(t, reqs, "Runners must be 18 years of age on race day.")
	assert.Contains(t, reqs, "Entry is by ballot.")
	assert.NotContains(t, reqs, "logged in")
	assert.NotContains(t, reqs, "Parking")
}

func TestRaceExtractorRequirementKeywordsAreTunable(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://x.example/", `<html><head><title>X Marathon</title></head>
	<body><p>April 5, 2031.</p><p>Bring a headlamp.</p><p>Entry is by ballot.</p></body></html>`)

	out := NewRaceExtractor(RaceConfig{RequirementKeywords: []string{"headlamp"}}, nil).Extract(page)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "Bring a headlamp.", value(t, out.Candidates[0].EntryRequirements))
}

func TestRaceExtractorNothingUsable(t *testing.T) {
	t.Parallel()

	out := NewRaceExtractor(RaceConfig{}, nil).Extract(htmlPage("https://x.example/", `<html><body><p>Hello</p></body></html>`))
	require.Equal(t, MethodNone, out.Method)
	require.Empty(t, out.Candidates)
}

func TestFindDate(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Race day: 2027-04-19 at 9am":         "2027-04-19",
		"Sunday, April 19th, 2027 in Boston":  "April 19th, 2027",
		"held 25-26 Apr 2027 and again later": "25-26 Apr 2027",
		"no date here":                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, findDate(in), in)
	}
}

func TestSentences(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"One.", "Two!", "Three"}, sentences("One. Two! Three"))
}
