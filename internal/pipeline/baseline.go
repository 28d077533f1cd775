package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// BaselineRace is one curated major event guaranteed to appear in the race dataset. It carries
// either a fixed Date or a recurring Schedule such as "third monday of april"; a scheduled entry
// is dated at its next occurrence on or after the run's day, so it never expires.
type BaselineRace struct {
	Name        string  `mapstructure:"name"`
	Date        string  `mapstructure:"date"`
	Schedule    string  `mapstructure:"schedule"`
	City        string  `mapstructure:"city"`
	Region      string  `mapstructure:"region"`
	Country     string  `mapstructure:"country"`
	Website     string  `mapstructure:"website"`
	Description string  `mapstructure:"description"`
	DistanceKM  float64 `mapstructure:"distance_km"`
}

// DefaultBaseline is the World Marathon Majors calendar.
func DefaultBaseline() []BaselineRace {
	return []BaselineRace{
		{Name: "Tokyo Marathon", Schedule: "first sunday of march", City: "Tokyo", Country: "Japan", Website: "https://www.marathon.tokyo/en/"},
		{Name: "Boston Marathon", Schedule: "third monday of april", City: "Boston", Region: "MA", Country: "United States", Website: "https://www.baa.org/races/boston-marathon"},
		{Name: "London Marathon", Schedule: "last sunday of april", City: "London", Country: "United Kingdom", Website: "https://www.tcslondonmarathon.com/"},
		{Name: "Sydney Marathon", Schedule: "last sunday of august", City: "Sydney", Region: "NSW", Country: "Australia", Website: "https://www.sydneymarathon.com/"},
		{Name: "Berlin Marathon", Schedule: "last sunday of september", City: "Berlin", Country: "Germany", Website: "https://www.bmw-berlin-marathon.com/en/"},
		{Name: "Chicago Marathon", Schedule: "second sunday of october", City: "Chicago", Region: "IL", Country: "United States", Website: "https://www.chicagomarathon.com/"},
		{Name: "New York City Marathon", Schedule: "first sunday of november", City: "New York", Region: "NY", Country: "United States", Website: "https://www.nyrr.org/tcsnycmarathon"},
	}
}

// Validate reports a missing name, a missing or doubled date source, or an unreadable schedule.
func (b BaselineRace) Validate() error {
	switch {
	case strings.TrimSpace(b.Name) == "":
		return errors.New("baseline race requires a name")
	case b.Date == "" && b.Schedule == "":
		return fmt.Errorf("baseline race %s requires a date or a schedule", b.Name)
	case b.Date != "" && b.Schedule != "":
		return fmt.Errorf("baseline race %s has both a date and a schedule", b.Name)
	}
	if b.Schedule != "" {
		if _, err := parseSchedule(b.Schedule); err != nil {
			return fmt.Errorf("baseline race %s: %w", b.Name, err)
		}
	}
	return nil
}

// dateOn returns the entry's date as seen on today (a canonical date).
func (b BaselineRace) dateOn(today string) (string, error) {
	if b.Schedule == "" {
		return b.Date, nil
	}
	s, err := parseSchedule(b.Schedule)
	if err != nil {
		return "", err
	}
	day, err := time.Parse(normalize.DateLayout, today)
	if err != nil {
		return "", fmt.Errorf("parse run day: %w", err)
	}
	return s.onOrAfter(day).Format(normalize.DateLayout), nil
}

// baselineRaces normalizes the curated list for the run whose calendar day is today. Baseline
// entries carry no sighting timestamps so they never look fresher than crawled data.
func baselineRaces(entries []BaselineRace, n *normalize.RaceNormalizer, today string) ([]record.Race, error) {
	out := make([]record.Race, 0, len(entries))
	for _, b := range entries {
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("pipeline: invalid baseline race %s: %w", b.Name, err)
		}
		date, err := b.dateOn(today)
		if err != nil {
			return nil, fmt.Errorf("pipeline: invalid baseline race %s: %w", b.Name, err)
		}
		c := record.RaceCandidate{
			Name:        record.Text(b.Name),
			StartDate:   record.Text(date),
			City:        record.Text(b.City),
			Region:      record.Text(b.Region),
			Country:     record.Text(b.Country),
			Description: record.Text(b.Description),
			Website:     record.Text(b.Website),
			EventStatus: record.Some("EventScheduled"),
			SourceName:  record.Some("baseline"),
		}
		r, err := n.Normalize(c, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("pipeline: invalid baseline race %s: %w", b.Name, err)
		}
		if b.DistanceKM > 0 {
			r.DistanceKM = b.DistanceKM
		}
		r.LastSeenAt = time.Time{}
		r.LastVerifiedAt = time.Time{}
		out = append(out, r)
	}
	return out, nil
}

// schedule is "the nth weekday of a month"; nth is 1 to 4, or -1 for the last one.
type schedule struct {
	nth     int
	weekday time.Weekday
	month   time.Month
}

var (
	ordinals = map[string]int{"first": 1, "second": 2, "third": 3, "fourth": 4, "last": -1}
	weekdays = map[string]time.Weekday{}
	months   = map[string]time.Month{}
)

func init() {
	for d := time.Sunday; d <= time.Saturday; d++ {
		weekdays[strings.ToLower(d.String())] = d
	}
	for m := time.January; m <= time.December; m++ {
		months[strings.ToLower(m.String())] = m
	}
}

// parseSchedule reads "<first|second|third|fourth|last> <weekday> of <month>".
func parseSchedule(raw string) (schedule, error) {
	f := strings.Fields(strings.ToLower(raw))
	if len(f) != 4 || f[2] != "of" {
		return schedule{}, fmt.Errorf("schedule %q: want \"<ordinal> <weekday> of <month>\"", raw)
	}
	nth, ok := ordinals[f[0]]
	if !ok {
		return schedule{}, fmt.Errorf("schedule %q: unknown ordinal %q", raw, f[0])
	}
	wd, ok := weekdays[f[1]]
	if !ok {
		return schedule{}, fmt.Errorf("schedule %q: unknown weekday %q", raw, f[1])
	}
	m, ok := months[f[3]]
	if !ok {
		return schedule{}, fmt.Errorf("schedule %q: unknown month %q", raw, f[3])
	}
	return schedule{nth: nth, weekday: wd, month: m}, nil
}

// in returns the occurrence in year, at midnight UTC.
func (s schedule) in(year int) time.Time {
	if s.nth < 0 {
		last := time.Date(year, s.month+1, 0, 0, 0, 0, 0, time.UTC)
		back := (int(last.Weekday()) - int(s.weekday) + 7) % 7
		return last.AddDate(0, 0, -back)
	}
	first := time.Date(year, s.month, 1, 0, 0, 0, 0, time.UTC)
	ahead := (int(s.weekday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, ahead+7*(s.nth-1))
}

// onOrAfter returns the first occurrence on or after day.
func (s schedule) onOrAfter(day time.Time) time.Time {
	if d := s.in(day.Year()); !d.Before(day) {
		return d
	}
	return s.in(day.Year() + 1)
}
