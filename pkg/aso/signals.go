package aso

import (
	"math"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Signals holds the primitive features derived from a ScoreInput. Both
// scorers read from it; an empty input yields the zero value.
type Signals struct {
	Keyword   string   `json:"keyword"`
	Words     []string `json:"words"`
	WordCount int      `json:"word_count"`

	Count         int     `json:"count"`
	RatingCounts  []int64 `json:"-"`
	MedianRatings float64 `json:"median_ratings"`
	MeanRatings   float64 `json:"mean_ratings"`

	// LeaderRatings is the highest rating count in the top half of results.
	LeaderRatings int64 `json:"leader_ratings"`
	// FirstRatings is the rating count of the #1 result.
	FirstRatings int64 `json:"first_ratings"`

	TitleMatches   int     `json:"title_matches"`
	ExactMatches   int     `json:"exact_matches"`
	MatchRatio     float64 `json:"match_ratio"`
	ExactRatio     float64 `json:"exact_ratio"`
	RelevanceRatio float64 `json:"relevance_ratio"`

	Publishers     int      `json:"publishers"`
	Genres         []string `json:"genres"`
	WeightedRating float64  `json:"weighted_rating"`
}

// Extract derives Signals from the input. Missing ratings and dates are
// treated as zero; nothing here can fail.
func Extract(in ScoreInput) Signals {
	kw := NormalizeKeyword(in.Keyword)
	words := lo.Uniq(strings.Fields(kw))
	s := Signals{
		Keyword:   kw,
		Words:     words,
		WordCount: len(strings.Fields(kw)),
		Count:     len(in.Competitors),
	}
	if s.Count == 0 {
		return s
	}

	s.RatingCounts = lo.Map(in.Competitors, func(c CompetitorRecord, _ int) int64 {
		return max(c.RatingCount, 0)
	})
	sorted := slices.Clone(s.RatingCounts)
	slices.Sort(sorted)
	s.MedianRatings = median(sorted)
	s.MeanRatings = float64(lo.Sum(s.RatingCounts)) / float64(s.Count)
	s.LeaderRatings = lo.Max(s.RatingCounts[:topHalf(s.Count)])
	s.FirstRatings = s.RatingCounts[0]

	relevant := 0
	minOverlap := math.Max(1, float64(len(words))*0.5)
	m := titleMatcher{phrase: kw, words: words}
	var weighted, weights float64
	for _, c := range in.Competitors {
		title := strings.ToLower(c.Title)
		if matched, exact := m.match(title); matched {
			s.TitleMatches++
			if exact {
				s.ExactMatches++
			}
		}
		if len(words) > 1 && overlap(words, strings.Fields(title)) >= minOverlap {
			relevant++
		}
		if c.AverageRating > 0 && c.RatingCount > 0 {
			w := math.Log1p(float64(c.RatingCount))
			weighted += c.AverageRating * w
			weights += w
		}
	}

	n := float64(s.Count)
	s.MatchRatio = float64(s.TitleMatches) / n
	s.ExactRatio = float64(s.ExactMatches) / n
	if len(words) > 1 {
		s.RelevanceRatio = float64(relevant) / n
	} else {
		s.RelevanceRatio = s.MatchRatio
	}
	if weights > 0 {
		s.WeightedRating = weighted / weights
	}

	s.Publishers = len(lo.Uniq(lo.FilterMap(in.Competitors, func(c CompetitorRecord, _ int) (string, bool) {
		return strings.ToLower(c.Publisher), c.Publisher != ""
	})))
	s.Genres = lo.Uniq(lo.FilterMap(in.Competitors, func(c CompetitorRecord, _ int) (string, bool) {
		return c.Genre, c.Genre != ""
	}))
	slices.Sort(s.Genres)
	return s
}

// Relevance scales signals that backfilled results would otherwise inflate.
// Results that mostly ignore the keyword pull it down to 0.3.
func (s Signals) Relevance() float64 {
	return clamp(s.RelevanceRatio*3, 0.3, 1)
}

// MatchesTitle reports whether title targets keyword: it contains the whole
// phrase or every word of it.
func MatchesTitle(title, keyword string) bool {
	kw := NormalizeKeyword(keyword)
	matched, _ := titleMatcher{phrase: kw, words: strings.Fields(kw)}.match(strings.ToLower(title))
	return matched
}

// titleMatcher tests lower-cased titles against a normalized keyword.
type titleMatcher struct {
	phrase string
	words  []string
}

// match reports whether title targets the keyword, and whether it does so
// with the exact phrase.
func (m titleMatcher) match(title string) (matched, exact bool) {
	switch {
	case m.phrase == "":
		return false, false
	case strings.Contains(title, m.phrase):
		return true, true
	case len(m.words) > 0 && containsAll(title, m.words):
		return true, false
	}
	return false, false
}

func topHalf(n int) int {
	return max(n/2, 1)
}

func containsAll(title string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(title, w) {
			return false
		}
	}
	return true
}

func overlap(words, titleWords []string) float64 {
	seen := make(map[string]bool, len(titleWords))
	for _, w := range titleWords {
		seen[w] = true
	}
	return float64(lo.CountBy(words, func(w string) bool { return seen[w] }))
}
