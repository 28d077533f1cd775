package dedup

import (
	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// DefaultNameSimilarity is the fuzzy threshold for race names. One typo in a typical race name
// clears it; an extra word does not.
const DefaultNameSimilarity = 0.85

// DefaultDateWindowDays is how far apart two observations of one race may be dated.
const DefaultDateWindowDays = 1

// Identifier recomputes a race's key and ID after its identity fields change.
type Identifier interface {
	Identify(r *record.Race) error
}

// Merger folds one race into another.
type Merger interface {
	Merge(survivor, incoming record.Race) record.Race
}

// RaceMatching tunes race identity.
type RaceMatching struct {
	NameSimilarity float64
	DateWindowDays int
}

// RacePolicy matches races by name similarity, date proximity and location consistency.
type RacePolicy struct {
	matching   RaceMatching
	merger     Merger
	identifier Identifier
}

var _ Policy[record.Race] = (*RacePolicy)(nil)

// NewRacePolicy builds a RacePolicy, filling unset tuning with defaults. A negative date window
// is treated as zero.
func NewRacePolicy(matching RaceMatching, merger Merger, identifier Identifier) *RacePolicy {
	if matching.NameSimilarity <= 0 || matching.NameSimilarity > 1 {
		matching.NameSimilarity = DefaultNameSimilarity
	}
	if matching.DateWindowDays < 0 {
		matching.DateWindowDays = 0
	}
	return &RacePolicy{matching: matching, merger: merger, identifier: identifier}
}

// Key derives the race's canonical key from its identity fields; a stored Key is not trusted.
func (p *RacePolicy) Key(r record.Race) string {
	return normalize.RaceKey(r.NormalizedName, r.DateStart, r.City, r.Region, r.Country)
}

// Bucket files races by start date.
func (p *RacePolicy) Bucket(r record.Race) string {
	return r.DateStart
}

// Probes covers every date within the window.
func (p *RacePolicy) Probes(r record.Race) []string {
	probes := make([]string, 0, 2*p.matching.DateWindowDays+1)
	for d := -p.matching.DateWindowDays; d <= p.matching.DateWindowDays; d++ {
		shifted, err := normalize.ShiftDate(r.DateStart, d)
		if err != nil {
			return nil
		}
		probes = append(probes, shifted)
	}
	return probes
}

// Match requires similar names, dates within the window and consistent locations.
func (p *RacePolicy) Match(a, b record.Race) bool {
	if a.NormalizedName != b.NormalizedName &&
		Similarity(a.NormalizedName, b.NormalizedName) < p.matching.NameSimilarity {
		return false
	}
	days, err := normalize.DaysApart(a.DateStart, b.DateStart)
	if err != nil || days > p.matching.DateWindowDays {
		return false
	}
	return LocationConsistent(a, b)
}

// Merge folds incoming into survivor and refreshes the survivor's key.
func (p *RacePolicy) Merge(survivor, incoming record.Race) record.Race {
	merged := p.merger.Merge(survivor, incoming)
	if p.identifier != nil {
		if err := p.identifier.Identify(&merged); err != nil {
			// Hashing a string does not fail in practice; keep the survivor's identity if it does.
			merged.Key, merged.ID = survivor.Key, survivor.ID
		}
	}
	return merged
}

// LocationConsistent compares every location component both races carry. When they share no
// component, a shared website domain counts; when neither side has anything comparable the
// races are not told apart by location.
func LocationConsistent(a, b record.Race) bool {
	shared := false
	for _, pair := range [][2]string{{a.City, b.City}, {a.Region, b.Region}, {a.Country, b.Country}} {
		if pair[0] == "" || pair[1] == "" {
			continue
		}
		shared = true
		if pair[0] != pair[1] {
			return false
		}
	}
	if shared {
		return true
	}
	da, db := crawler.Domain(a.Website), crawler.Domain(b.Website)
	if da != "" && db != "" {
		return da == db
	}
	return true
}
