package aso

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
)

// Ranking tier names.
const (
	TierTop5  = "top_5"
	TierTop10 = "top_10"
	TierTop20 = "top_20"
)

var tierSizes = []struct {
	name string
	size int
}{
	{TierTop5, 5},
	{TierTop10, 10},
	{TierTop20, 20},
}

// RankingTier describes how hard it is to break into the top N results.
type RankingTier struct {
	Name            string   `json:"name"`
	Size            int      `json:"size"`
	Score           int      `json:"score"`
	Label           string   `json:"label"`
	MinReviews      int64    `json:"min_reviews"`
	WeakestApp      string   `json:"weakest_app"`
	MedianReviews   int64    `json:"median_reviews"`
	WeakCount       int      `json:"weak_count"`
	FreshCount      int      `json:"fresh_count"`
	TitleMatchCount int      `json:"title_match_count"`
	TotalApps       int      `json:"total_apps"`
	Highlights      []string `json:"highlights"`
}

// tiers scores each Top-N prefix with the same formula as the overall score.
// Keyword-level corrections use the overall context, every tier is at least as
// hard as the overall score, and a larger tier is never harder than a smaller one.
func (d *DifficultyScorer) tiers(in ScoreInput, overall Signals, overallScore int) []RankingTier {
	now := in.now()
	out := make([]RankingTier, 0, len(tierSizes))

	for _, ts := range tierSizes {
		sub := in.Top(ts.size)
		n := len(sub.Competitors)
		tier := RankingTier{Name: ts.name, Size: ts.size, TotalApps: n}
		if n == 0 {
			tier.Score = 1
			tier.WeakestApp = "-"
			tier.Highlights = []string{"No competitors found, wide open."}
			out = append(out, tier)
			continue
		}

		s := Extract(sub)
		score, _ := d.raw(sub, s, overall.Count)
		if overall.Keyword != "" && overall.Count >= 2 {
			score, _ = d.backfillAdjust(score, overall.MatchRatio, overall.FirstRatings)
		}
		tier.Score = clampInt(score, 1, 100)

		weakest := slices.Index(s.RatingCounts, slices.Min(s.RatingCounts))
		tier.MinReviews = s.RatingCounts[weakest]
		tier.WeakestApp = sub.Competitors[weakest].Title
		tier.MedianReviews = int64(s.MedianRatings)
		for _, c := range sub.Competitors {
			if MatchesTitle(c.Title, in.Keyword) {
				tier.TitleMatchCount++
			}
			if c.RatingCount < 1_000 {
				tier.WeakCount++
			}
			if c.releasedWithin(now, freshWindow) {
				tier.FreshCount++
			}
		}
		tier.Highlights = tierHighlights(tier)
		out = append(out, tier)
	}

	for i := range out {
		out[i].Score = max(out[i].Score, overallScore)
		if i > 0 {
			out[i].Score = min(out[i].Score, out[i-1].Score)
		}
		out[i].Label = d.Label(out[i].Score)
	}
	return out
}

func tierHighlights(t RankingTier) []string {
	n := t.TotalApps
	if n < t.Size {
		open := t.Size - n
		return []string{fmt.Sprintf("Only %d %s rank here, %d open %s.",
			n, plural(n, "app", "apps"), open, plural(open, "spot", "spots"))}
	}

	var out []string
	switch {
	case t.MinReviews < 100:
		out = append(out, fmt.Sprintf("The easiest app to beat has just %s reviews.", humanize.Comma(t.MinReviews)))
	case t.MinReviews < 1_000:
		out = append(out, fmt.Sprintf("You need ~%s+ reviews to compete (weakest: %s).", humanize.Comma(t.MinReviews), t.WeakestApp))
	case t.MinReviews < 10_000:
		out = append(out, fmt.Sprintf("You need ~%s+ reviews to break in.", humanize.Comma(t.MinReviews)))
	default:
		out = append(out, fmt.Sprintf("Requires ~%s+ reviews, established market.", humanize.Comma(t.MinReviews)))
	}

	if t.WeakCount > 0 {
		out = append(out, fmt.Sprintf("%d of %d apps have under 1K reviews, beatable.", t.WeakCount, n))
	} else {
		out = append(out, "Every app here has 1K+ reviews, no easy targets.")
	}

	if t.FreshCount > 0 {
		out = append(out, fmt.Sprintf("%d %s broke in within the last year.",
			t.FreshCount, plural(t.FreshCount, "app", "apps")))
	}

	switch {
	case t.TitleMatchCount == 0:
		out = append(out, "No app uses this exact keyword in its title, ASO opportunity.")
	case t.TitleMatchCount < n/2:
		out = append(out, fmt.Sprintf("Only %d of %d apps use this keyword in their title.", t.TitleMatchCount, n))
	default:
		out = append(out, fmt.Sprintf("%d of %d apps already target this keyword in their title.", t.TitleMatchCount, n))
	}
	return out
}
