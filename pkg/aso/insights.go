package aso

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Insight kinds.
const (
	InsightBarrier     = "barrier"
	InsightInfo        = "info"
	InsightOpportunity = "opportunity"
)

// Insight is a human-readable note explaining a difficulty score.
type Insight struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// OpportunitySignal is an actionable hint that does not affect the score.
type OpportunitySignal struct {
	Signal   string `json:"signal"`
	Strength string `json:"strength"`
	Detail   string `json:"detail"`
}

// Phrases that read as barriers but are misleading when the field is backfill.
var backfillSensitive = []string{
	"strong incumbents",
	"dominated by major brands",
	"High quality bar",
}

func insights(in ScoreInput, s Signals, res DifficultyResult) []Insight {
	n := s.Count
	top := s.RatingCounts[:topHalf(n)]
	var mega, ultra int
	for _, r := range top {
		if r > 1_000_000 {
			ultra++
		}
		if r > 100_000 {
			mega++
		}
	}

	var out []Insight
	switch {
	case ultra > 0:
		out = append(out, Insight{InsightBarrier,
			fmt.Sprintf("%d %s with 1M+ reviews, dominated by major brands", ultra, plural(ultra, "app", "apps"))})
	case mega > 0:
		out = append(out, Insight{InsightBarrier,
			fmt.Sprintf("%d %s with 100K+ reviews, strong incumbents", mega, plural(mega, "app", "apps"))})
	}

	if s.MeanRatings > 0 && s.MedianRatings > 0 && s.MeanRatings > s.MedianRatings*3 {
		out = append(out, Insight{InsightInfo, fmt.Sprintf(
			"Review distribution is skewed: median (%s) is much lower than mean (%s). A few giants inflate the average.",
			humanize.Comma(int64(s.MedianRatings)), humanize.Comma(int64(s.MeanRatings)))})
	}

	switch {
	case s.TitleMatches == 0:
		out = append(out, Insight{InsightOpportunity,
			"No competitors have this exact keyword in their title, potential title optimization gap"})
	case s.TitleMatches <= 2:
		out = append(out, Insight{InsightOpportunity,
			fmt.Sprintf("Only %d of %d competitors use this keyword in their title", s.TitleMatches, n)})
	default:
		out = append(out, Insight{InsightBarrier,
			fmt.Sprintf("%d of %d competitors already have this keyword in their title", s.TitleMatches, n)})
	}

	if s.WeightedRating >= 4.5 {
		out = append(out, Insight{InsightBarrier,
			fmt.Sprintf("High quality bar: average rating is %.1f stars.", s.WeightedRating)})
	}

	weak := 0
	for _, r := range s.RatingCounts {
		if r < 1_000 {
			weak++
		}
	}
	if weak >= 3 {
		out = append(out, Insight{InsightOpportunity,
			fmt.Sprintf("%d of %d competitors have <1,000 reviews, beatable with a quality app", weak, n)})
	}

	if res.OverrideReason == "" || res.RawScore == res.Score {
		return out
	}

	var note string
	if res.OverrideReason == OverrideSmallResultSet {
		note = fmt.Sprintf("Score adjusted from %d to %d. Only %d %s found for this keyword, very little competition exists.",
			res.RawScore, res.Score, n, plural(n, "app", "apps"))
	} else {
		leader := in.Competitors[0].Title
		reviews := fmt.Sprintf("%s %s", humanize.Comma(s.FirstRatings), plural(int(s.FirstRatings), "review", "reviews"))
		if s.MatchRatio > 0.3 {
			note = fmt.Sprintf("Score adjusted from %d to %d. The #1 app (%s) has only %s, but %d of %d competitors target this keyword, real competition exists.",
				res.RawScore, res.Score, leader, reviews, s.TitleMatches, n)
		} else {
			note = fmt.Sprintf("Score adjusted from %d to %d. The #1 app (%s) has only %s. The remaining results are generic backfill from broader search terms.",
				res.RawScore, res.Score, leader, reviews)
			for i := range out {
				for _, phrase := range backfillSensitive {
					if strings.Contains(out[i].Text, phrase) {
						out[i].Text += " (but most are backfill, not targeting this keyword)"
						out[i].Kind = InsightInfo
						break
					}
				}
			}
		}
	}
	return append([]Insight{{InsightOpportunity, note}}, out...)
}

func opportunities(in ScoreInput, s Signals) []OpportunitySignal {
	n := s.Count
	var out []OpportunitySignal

	switch {
	case s.TitleMatches == 0:
		out = append(out, OpportunitySignal{"Title Gap", "Strong",
			"No top app has this keyword in its title. Exact-match title optimization could give you an edge in search rankings."})
	case s.TitleMatches <= n/3:
		out = append(out, OpportunitySignal{"Title Gap", "Moderate",
			fmt.Sprintf("Only %d of %d competitors have this keyword in their title. There's room for title optimization.", s.TitleMatches, n)})
	}

	var weak []CompetitorRecord
	for _, c := range in.Competitors {
		if c.RatingCount < 1_000 {
			weak = append(weak, c)
		}
	}
	if len(weak) > 0 {
		weakest := weak[0]
		for _, c := range weak[1:] {
			if c.RatingCount < weakest.RatingCount {
				weakest = c
			}
		}
		strength := "Moderate"
		if len(weak) >= 3 {
			strength = "Strong"
		}
		out = append(out, OpportunitySignal{"Weak Competitors", strength, fmt.Sprintf(
			"%d of %d apps have <1,000 reviews. The weakest (%s) has only %s reviews, these positions are displaceable.",
			len(weak), n, weakest.Title, humanize.Comma(weakest.RatingCount))})
	}

	now := in.now()
	fresh := 0
	for _, c := range in.Competitors {
		if c.releasedWithin(now, freshWindow) {
			fresh++
		}
	}
	if fresh > 0 {
		out = append(out, OpportunitySignal{"Active Market", "Moderate", fmt.Sprintf(
			"%d %s launched in the last 12 months, this market is still attracting new entrants.",
			fresh, plural(fresh, "app", "apps"))})
	}

	if g := len(s.Genres); g >= 3 {
		list := strings.Join(s.Genres[:3], ", ")
		if g > 3 {
			list += "..."
		}
		out = append(out, OpportunitySignal{"Cross-Genre", "Moderate", fmt.Sprintf(
			"Results span %d genres (%s). The keyword isn't locked to one category.", g, list)})
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
