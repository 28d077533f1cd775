// Package record defines the canonical records persisted by the pipeline and the raw candidates the
// extractors hand to the normalizer.
package record

import "time"

// Status is the scheduling state of a race.
type Status string

// Race status values.
const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// Known reports whether s carries information beyond "unknown".
func (s Status) Known() bool {
	return s == StatusScheduled || s == StatusCancelled
}

// MarathonDistanceKM is the standard marathon distance.
const MarathonDistanceKM = 42.195

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Race is the canonical, persisted form of a race event.
type Race struct {
	ID  string `json:"id"`
	Key string `json:"key"`

	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	DateStart      string `json:"date_start"`
	DateEnd        string `json:"date_end,omitempty"`
	City           string `json:"city,omitempty"`
	Region         string `json:"region,omitempty"`
	Country        string `json:"country,omitempty"`

	Description       string       `json:"description,omitempty"`
	EntryRequirements string       `json:"entry_requirements,omitempty"`
	DistanceKM        float64      `json:"distance_km"`
	Coordinates       *Coordinates `json:"coordinates,omitempty"`
	Website           string       `json:"website,omitempty"`

	SourceName     string    `json:"source_name,omitempty"`
	SourceEventID  string    `json:"source_event_id,omitempty"`
	SourceURL      string    `json:"source_url,omitempty"`
	LastSeenAt     time.Time `json:"last_seen_at,omitzero"`
	LastVerifiedAt time.Time `json:"last_verified_at,omitzero"`
	Status         Status    `json:"status"`
}

// HasLocation reports whether any location component is set.
func (r Race) HasLocation() bool {
	return r.City != "" || r.Region != "" || r.Country != ""
}

// RaceCandidate is one race observation extracted from a page, before normalization.
type RaceCandidate struct {
	Name              Optional[string]
	StartDate         Optional[string]
	EndDate           Optional[string]
	City              Optional[string]
	Region            Optional[string]
	Country           Optional[string]
	Description       Optional[string]
	EntryRequirements Optional[string]
	Distance          Optional[string]
	Coordinates       Optional[Coordinates]
	Website           Optional[string]
	EventStatus       Optional[string]
	SourceName        Optional[string]
	SourceEventID     Optional[string]
	SourceURL         string
}
