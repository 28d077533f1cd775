package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// RaceConfig tunes race normalization.
type RaceConfig struct {
	DefaultDistanceKM float64
	// Location is the zone dates without an explicit offset are read in.
	Location *time.Location
}

// RaceNormalizer turns race candidates into canonical races.
type RaceNormalizer struct {
	cfg    RaceConfig
	hasher crawler.Hasher
}

// NewRaceNormalizer builds a RaceNormalizer.
func NewRaceNormalizer(cfg RaceConfig, hasher crawler.Hasher) (*RaceNormalizer, error) {
	if hasher == nil {
		return nil, errors.New("normalize: hasher is required")
	}
	if cfg.DefaultDistanceKM <= 0 {
		cfg.DefaultDistanceKM = record.MarathonDistanceKM
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &RaceNormalizer{cfg: cfg, hasher: hasher}, nil
}

// Today is the calendar date of now in the normalizer's zone, in DateLayout.
func (n *RaceNormalizer) Today(now time.Time) string {
	return now.In(n.cfg.Location).Format(DateLayout)
}

// Normalize validates c and derives its canonical form, stamped as seen and verified at seenAt.
func (n *RaceNormalizer) Normalize(c record.RaceCandidate, seenAt time.Time) (record.Race, error) {
	rawName, ok := c.Name.Get()
	if !ok || Name(rawName) == "" {
		return record.Race{}, ErrMissingName
	}
	rawStart, ok := c.StartDate.Get()
	if !ok {
		return record.Race{}, ErrMissingDate
	}
	start, err := CanonicalDate(rawStart, n.cfg.Location)
	if err != nil {
		return record.Race{}, err
	}

	r := record.Race{
		Name:              display(rawName),
		NormalizedName:    Name(rawName),
		DateStart:         start,
		City:              Location(c.City.OrElse("")),
		Region:            Location(c.Region.OrElse("")),
		Country:           Country(c.Country.OrElse("")),
		Description:       display(c.Description.OrElse("")),
		EntryRequirements: display(c.EntryRequirements.OrElse("")),
		DistanceKM:        n.distance(c),
		Website:           canonicalURLOrEmpty(c.Website.OrElse("")),
		SourceName:        display(c.SourceName.OrElse("")),
		SourceEventID:     display(c.SourceEventID.OrElse("")),
		SourceURL:         canonicalURLOrEmpty(c.SourceURL),
		LastSeenAt:        seenAt.UTC(),
		LastVerifiedAt:    seenAt.UTC(),
		Status:            Status(c.EventStatus.OrElse("")),
	}
	// An unreadable or inverted end date is dropped rather than failing the race.
	if rawEnd, ok := c.EndDate.Get(); ok {
		if end, err := CanonicalDate(rawEnd, n.cfg.Location); err == nil && end > start {
			r.DateEnd = end
		}
	}
	if coords, ok := c.Coordinates.Get(); ok && validCoordinates(coords) {
		r.Coordinates = &coords
	}
	if err := n.Identify(&r); err != nil {
		return record.Race{}, err
	}
	return r, nil
}

// Restore re-checks a race read back from the persisted dataset. Identity fields are folded again
// and Key and ID recomputed, so a stale or hand-edited record cannot carry its own key. A race
// without a name or with a start date that is not a canonical calendar date is rejected with the
// same reasons candidates are discarded for.
func (n *RaceNormalizer) Restore(r record.Race) (record.Race, error) {
	name := Name(r.Name)
	if name == "" {
		name = Name(r.NormalizedName)
	}
	if name == "" {
		return record.Race{}, ErrMissingName
	}
	if isBlank(r.DateStart) {
		return record.Race{}, ErrMissingDate
	}
	if _, err := time.Parse(DateLayout, r.DateStart); err != nil {
		return record.Race{}, fmt.Errorf("%w: %q", ErrInvalidDate, r.DateStart)
	}
	if r.DateEnd != "" {
		if _, err := time.Parse(DateLayout, r.DateEnd); err != nil || r.DateEnd <= r.DateStart {
			r.DateEnd = ""
		}
	}

	if display(r.Name) == "" {
		r.Name = name
	}
	r.Name = display(r.Name)
	r.NormalizedName = name
	r.City = Location(r.City)
	r.Region = Location(r.Region)
	r.Country = Country(r.Country)
	r.Status = Status(string(r.Status))
	if r.DistanceKM <= 0 {
		r.DistanceKM = n.cfg.DefaultDistanceKM
	}
	if r.Coordinates != nil && !validCoordinates(*r.Coordinates) {
		r.Coordinates = nil
	}
	if err := n.Identify(&r); err != nil {
		return record.Race{}, err
	}
	return r, nil
}

// Identify sets Key and ID from the race's normalized identity fields.
func (n *RaceNormalizer) Identify(r *record.Race) error {
	r.Key = RaceKey(r.NormalizedName, r.DateStart, r.City, r.Region, r.Country)
	id, err := n.hasher.Hash([]byte(r.Key))
	if err != nil {
		return fmt.Errorf("hash race key: %w", err)
	}
	r.ID = id
	return nil
}

// RaceKey joins the identity fields as name|date|city,region,country with absent parts omitted.
func RaceKey(normalizedName, date, city, region, country string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{city, region, country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return normalizedName + "|" + date + "|" + strings.Join(parts, ",")
}

func (n *RaceNormalizer) distance(c record.RaceCandidate) float64 {
	if text, ok := c.Distance.Get(); ok {
		if km, ok := Distance(text); ok {
			return km
		}
	}
	if km, ok := Distance(c.Name.OrElse("")); ok {
		return km
	}
	return n.cfg.DefaultDistanceKM
}

// Status maps schema.org eventStatus values (full IRIs or bare names) onto a race status.
func Status(eventStatus string) record.Status {
	s := strings.ToLower(strings.TrimSpace(eventStatus))
	if i := strings.LastIndexAny(s, "/#:"); i >= 0 {
		s = s[i+1:]
	}
	switch s {
	case "eventcancelled", "eventcanceled", "cancelled", "canceled":
		return record.StatusCancelled
	case "eventscheduled", "eventrescheduled", "eventpostponed", "eventmovedonline", "scheduled":
		return record.StatusScheduled
	}
	return record.StatusUnknown
}

func validCoordinates(c record.Coordinates) bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180 &&
		!(c.Latitude == 0 && c.Longitude == 0)
}

func canonicalURLOrEmpty(raw string) string {
	if isBlank(raw) {
		return ""
	}
	u, err := crawler.NormalizeURL(raw)
	if err != nil {
		return ""
	}
	return u
}
