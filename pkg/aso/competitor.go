// Package aso turns a ranked App Store search result list into keyword
// research metrics: popularity, difficulty, download estimates and an
// actionable classification. Everything in this package is pure computation
// over already-fetched data; it performs no I/O.
package aso

import (
	"strings"
	"time"
)

// CompetitorRecord is one app returned for a keyword/country query.
type CompetitorRecord struct {
	TrackID       int64     `json:"track_id"`
	Title         string    `json:"title"`
	AverageRating float64   `json:"average_rating"`
	RatingCount   int64     `json:"rating_count"`
	Genre         string    `json:"genre"`
	ReleaseDate   time.Time `json:"release_date"`
	UpdatedAt     time.Time `json:"updated_at"`
	Publisher     string    `json:"publisher"`
	URL           string    `json:"url"`
	Rank          int       `json:"rank"`
	BundleID      string    `json:"bundle_id,omitempty"`
	IconURL       string    `json:"icon_url,omitempty"`
	Price         string    `json:"price,omitempty"`
	Description   string    `json:"description,omitempty"`
}

// ScoreInput is the ordered competitor list for one keyword+country query.
// Competitors are kept in API rank order and are never re-sorted.
type ScoreInput struct {
	Keyword     string             `json:"keyword"`
	Competitors []CompetitorRecord `json:"competitors"`
	// AsOf anchors release-date based signals. Zero means now.
	AsOf time.Time `json:"as_of"`
}

func (in ScoreInput) now() time.Time {
	if in.AsOf.IsZero() {
		return time.Now().UTC()
	}
	return in.AsOf
}

// Top returns a copy of the input restricted to the first n competitors.
func (in ScoreInput) Top(n int) ScoreInput {
	if n < len(in.Competitors) {
		in.Competitors = in.Competitors[:n]
	}
	return in
}

// ageYears returns how long ago the app was released, in years.
// ok is false when the release date is unknown.
func (c CompetitorRecord) ageYears(now time.Time) (float64, bool) {
	if c.ReleaseDate.IsZero() {
		return 0, false
	}
	days := float64(int(now.Sub(c.ReleaseDate).Hours() / 24))
	return days / 365.25, true
}

func (c CompetitorRecord) releasedWithin(now time.Time, d time.Duration) bool {
	if c.ReleaseDate.IsZero() {
		return false
	}
	return now.Sub(c.ReleaseDate) < d
}

// NormalizeKeyword lowercases and trims a keyword and collapses inner whitespace.
func NormalizeKeyword(keyword string) string {
	return strings.Join(strings.Fields(strings.ToLower(keyword)), " ")
}
