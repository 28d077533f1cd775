// Package merge combines two records judged to describe the same entity.
package merge

import (
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// RaceMerger merges races. DefaultDistanceKM is the distance normalization assigns when a page
// gave none, so an explicit distance from the other side replaces it.
type RaceMerger struct {
	DefaultDistanceKM float64
}

// Merge folds incoming into survivor. Identity fields stay with the survivor and are only filled
// when empty; Key and ID must be recomputed by the caller because a filled location changes them.
func (m RaceMerger) Merge(survivor, incoming record.Race) record.Race {
	out := survivor

	out.City = firstNonEmpty(survivor.City, incoming.City)
	out.Region = firstNonEmpty(survivor.Region, incoming.Region)
	out.Country = firstNonEmpty(survivor.Country, incoming.Country)
	out.DateEnd = firstNonEmpty(survivor.DateEnd, incoming.DateEnd)

	out.Description = longer(survivor.Description, incoming.Description)
	out.EntryRequirements = longer(survivor.EntryRequirements, incoming.EntryRequirements)

	defaultKM := m.DefaultDistanceKM
	if defaultKM <= 0 {
		defaultKM = record.MarathonDistanceKM
	}
	switch {
	case survivor.DistanceKM <= 0:
		out.DistanceKM = incoming.DistanceKM
	case survivor.DistanceKM == defaultKM && incoming.DistanceKM > 0:
		out.DistanceKM = incoming.DistanceKM
	}
	if out.DistanceKM <= 0 {
		out.DistanceKM = defaultKM
	}

	if out.Coordinates == nil && incoming.Coordinates != nil {
		c := *incoming.Coordinates
		out.Coordinates = &c
	}

	out.Website = firstNonEmpty(survivor.Website, incoming.Website)
	out.SourceName = firstNonEmpty(survivor.SourceName, incoming.SourceName)
	out.SourceEventID = firstNonEmpty(survivor.SourceEventID, incoming.SourceEventID)
	out.SourceURL = firstNonEmpty(survivor.SourceURL, incoming.SourceURL)

	out.Status = status(survivor, incoming)
	out.LastSeenAt = latest(survivor.LastSeenAt, incoming.LastSeenAt)
	out.LastVerifiedAt = latest(survivor.LastVerifiedAt, incoming.LastVerifiedAt)
	return out
}

// status prefers a known value; between two known values the more recently seen one wins.
func status(survivor, incoming record.Race) record.Status {
	switch {
	case !incoming.Status.Known():
		if survivor.Status == "" {
			return record.StatusUnknown
		}
		return survivor.Status
	case !survivor.Status.Known():
		return incoming.Status
	case incoming.LastSeenAt.After(survivor.LastSeenAt):
		return incoming.Status
	default:
		return survivor.Status
	}
}

// Article folds incoming into survivor with the same precedence rules as races.
func Article(survivor, incoming record.Article) record.Article {
	out := survivor
	out.Summary = longer(survivor.Summary, incoming.Summary)
	out.PublishedAt = firstNonEmpty(survivor.PublishedAt, incoming.PublishedAt)
	out.Author = firstNonEmpty(survivor.Author, incoming.Author)
	out.ImageURL = firstNonEmpty(survivor.ImageURL, incoming.ImageURL)
	out.SourceName = firstNonEmpty(survivor.SourceName, incoming.SourceName)
	out.SourceArticleID = firstNonEmpty(survivor.SourceArticleID, incoming.SourceArticleID)
	out.LastSeenAt = latest(survivor.LastSeenAt, incoming.LastSeenAt)
	out.LastVerifiedAt = latest(survivor.LastVerifiedAt, incoming.LastVerifiedAt)
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// longer returns the more complete text, keeping a on ties.
func longer(a, b string) string {
	if utf8.RuneCountInString(b) > utf8.RuneCountInString(a) {
		return b
	}
	return a
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
