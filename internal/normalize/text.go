package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases s, strips diacritics and turns every run of non-alphanumerics into one space.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		// Apostrophes join rather than split ("runner's" -> "runners").
		if r == '\'' || r == '’' || r == '.' {
			continue
		}
		space = true
	}
	return b.String()
}

// Name canonicalizes an event or article title for identity: case, whitespace, punctuation and
// diacritics are ignored, and a standalone edition year is dropped so "Boston Marathon 2027" and
// "Boston Marathon" compare equal.
func Name(s string) string {
	words := strings.Fields(fold(s))
	out := words[:0]
	for _, w := range words {
		if isYear(w) {
			continue
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		// A title that is only a year keeps it.
		return fold(s)
	}
	return strings.Join(out, " ")
}

// Title canonicalizes an article title. Years are meaningful in headlines and are kept.
func Title(s string) string {
	return fold(s)
}

func isYear(w string) bool {
	if len(w) != 4 {
		return false
	}
	for _, r := range w {
		if r < '0' || r > '9' {
			return false
		}
	}
	return w >= "1900" && w <= "2099"
}

var countryAliases = map[string]string{
	"us":                       "united states",
	"usa":                      "united states",
	"united states of america": "united states",
	"america":                  "united states",
	"uk":                       "united kingdom",
	"gb":                       "united kingdom",
	"great britain":            "united kingdom",
	"britain":                  "united kingdom",
	"uae":                      "united arab emirates",
}

// Location lowercases and trims a location component.
func Location(s string) string {
	return fold(s)
}

// Country is Location plus common alias folding ("USA" and "United States" agree).
func Country(s string) string {
	c := fold(s)
	if alias, ok := countryAliases[c]; ok {
		return alias
	}
	return c
}

// display collapses whitespace for the human-readable copy of a field.
func display(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
