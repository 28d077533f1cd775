package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// HalfMarathonDistanceKM is half the standard marathon distance.
const HalfMarathonDistanceKM = record.MarathonDistanceKM / 2

const kmPerMile = 1.609344

var distancePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(km|k|kilomet(?:er|re)s?|mi|miles?)\b`)

// Distance reads an explicit distance from text ("42.195 km", "26.2 miles", "10K") or a name hint
// ("half marathon"). It reports false when nothing recognisable is present.
func Distance(text string) (float64, bool) {
	lower := strings.ToLower(text)
	if m := distancePattern.FindStringSubmatch(lower); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil && v > 0 {
			if strings.HasPrefix(m[2], "mi") {
				v *= kmPerMile
			}
			return snap(v), true
		}
	}
	switch {
	case strings.Contains(lower, "half marathon"), strings.Contains(lower, "half-marathon"):
		return HalfMarathonDistanceKM, true
	case strings.Contains(lower, "marathon") && !strings.Contains(lower, "ultra"):
		return record.MarathonDistanceKM, true
	}
	return 0, false
}

// snap rounds conversions like 26.2 mi to the standard distances they stand for.
func snap(km float64) float64 {
	for _, standard := range []float64{record.MarathonDistanceKM, HalfMarathonDistanceKM} {
		if math.Abs(km-standard) < 0.1 {
			return standard
		}
	}
	return math.Round(km*1000) / 1000
}
