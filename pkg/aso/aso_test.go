package aso

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var asOf = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func app(title string, ratings int64, stars float64, publisher string, yearsOld int) CompetitorRecord {
	return CompetitorRecord{
		Title:         title,
		RatingCount:   ratings,
		AverageRating: stars,
		Publisher:     publisher,
		Genre:         "Productivity",
		ReleaseDate:   asOf.AddDate(-yearsOld, 0, 0),
	}
}

func uniform(keyword, titlePrefix string, n int, ratings int64) ScoreInput {
	in := ScoreInput{Keyword: keyword, AsOf: asOf}
	for i := 0; i < n; i++ {
		in.Competitors = append(in.Competitors,
			app(fmt.Sprintf("%s %d", titlePrefix, i), ratings, 4.0, fmt.Sprintf("Dev %d", i), 2))
	}
	return in
}

// dominatedField is ten apps where the top three are giants.
func dominatedField() ScoreInput {
	in := ScoreInput{Keyword: "photo editor", AsOf: asOf}
	for i := 0; i < 3; i++ {
		in.Competitors = append(in.Competitors,
			app(fmt.Sprintf("Photo Editor Giant %d", i), 800_000, 4.7, fmt.Sprintf("Big Co %d", i), 5))
	}
	for i := 3; i < 10; i++ {
		in.Competitors = append(in.Competitors,
			app(fmt.Sprintf("Photo Editor %d", i), 150_000, 4.6, fmt.Sprintf("Studio %d", i), 4))
	}
	return in
}

func TestExtract_Empty(t *testing.T) {
	s := Extract(ScoreInput{Keyword: "anything"})
	assert.Equal(t, 0, s.Count)
	assert.Zero(t, s.MedianRatings)
	assert.Zero(t, s.LeaderRatings)
	assert.Zero(t, s.MatchRatio)
	assert.Equal(t, 0.3, s.Relevance())
}

func TestExtract_Matches(t *testing.T) {
	in := ScoreInput{Keyword: "  Card  Scanner ", Competitors: []CompetitorRecord{
		{Title: "Card Scanner Pro", RatingCount: 10},
		{Title: "Scanner for every card", RatingCount: 30},
		{Title: "CollX: Sports Card", RatingCount: 20},
		{Title: "Weather", RatingCount: 0},
	}}
	s := Extract(in)

	assert.Equal(t, "card scanner", s.Keyword)
	assert.Equal(t, 2, s.WordCount)
	assert.Equal(t, 2, s.TitleMatches)
	assert.Equal(t, 1, s.ExactMatches)
	assert.InDelta(t, 0.75, s.RelevanceRatio, 1e-9)
	assert.Equal(t, int64(30), s.LeaderRatings)
	assert.Equal(t, int64(10), s.FirstRatings)
	assert.InDelta(t, 15, s.MedianRatings, 1e-9)
}

func TestMatchesTitle(t *testing.T) {
	assert.True(t, MatchesTitle("Photo Editor Pro", "photo editor"))
	assert.True(t, MatchesTitle("Editor for Photo", "photo editor"))
	assert.False(t, MatchesTitle("Photo Lab", "photo editor"))
	assert.False(t, MatchesTitle("Photo Lab", " "))
	assert.True(t, MatchesTitle("PHOTO EDITOR", "Photo Editor"))
}

func TestTiers_TitleMatchCount(t *testing.T) {
	in := ScoreInput{Keyword: "photo editor", AsOf: asOf, Competitors: []CompetitorRecord{
		app("Photo Editor Pro", 5_000, 4.5, "A", 3),
		app("Editor for every Photo", 4_000, 4.4, "B", 3),
		app("Camera+", 3_000, 4.3, "C", 3),
		app("Collage Maker", 2_000, 4.2, "D", 3),
		app("Filters", 1_000, 4.1, "E", 3),
	}}
	res := NewDifficultyScorer(DefaultDifficultyTable()).Score(in)

	top5, ok := res.Tier(TierTop5)
	require.True(t, ok)
	assert.Equal(t, 2, top5.TitleMatchCount)
	assert.Equal(t, Extract(in).TitleMatches, top5.TitleMatchCount)
	assert.Equal(t, 1, Extract(in).ExactMatches)
}

func TestPopularity(t *testing.T) {
	scorer := NewPopularityScorer(DefaultPopularityTable())

	tests := []struct {
		name string
		in   ScoreInput
		want int
	}{
		{"empty input is the floor", ScoreInput{Keyword: "notes"}, 1},
		{"single word full field", uniform("notes", "Notes", 10, 1_000), 60},
		{"two words gets exact bonus and specificity penalty", uniform("photo editor", "Photo Editor", 10, 1_000), 72},
		{"small sample dampens title match", uniform("notes", "Notes", 2, 1_000), 24},
		{"backfilled results are dampened", uniform("notes", "Journal", 10, 1_000), 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorer.Score(tt.in).Score)
		})
	}
}

func TestPopularity_ExactBonusNeedsTwoWords(t *testing.T) {
	r := NewPopularityScorer(DefaultPopularityTable()).Score(uniform("notes", "Notes", 10, 1_000))
	assert.Zero(t, r.ExactPhrase)
	assert.Zero(t, r.Specificity)
}

func TestPopularity_LeaderStrengthMonotonic(t *testing.T) {
	scorer := NewPopularityScorer(DefaultPopularityTable())
	diff := NewDifficultyScorer(DefaultDifficultyTable())
	in := uniform("notes", "Notes", 10, 500)

	prevLeader, prevVolume := -1.0, -1.0
	for _, r := range []int64{0, 3, 10, 50, 400, 2_000, 30_000, 250_000, 999_999, 1_000_000, 20_000_000} {
		for i := range in.Competitors {
			in.Competitors[i].RatingCount = r
		}
		leader := scorer.Score(in).LeaderStrength
		volume := diff.Score(in).SubScores.RatingVolume
		assert.GreaterOrEqual(t, leader, prevLeader, "leader strength at %d", r)
		assert.GreaterOrEqual(t, volume, prevVolume, "rating volume at %d", r)
		prevLeader, prevVolume = leader, volume
	}
}

func TestScores_AlwaysClamped(t *testing.T) {
	a := NewAnalyzer()
	keywords := []string{"", "x", "photo editor", "one two three four five six seven"}
	for n := 0; n <= 30; n += 3 {
		for _, kw := range keywords {
			in := ScoreInput{Keyword: kw, AsOf: asOf}
			for i := 0; i < n; i++ {
				in.Competitors = append(in.Competitors,
					app(fmt.Sprintf("%s %d", kw, i), int64(i*i*997), float64(i%6), "", i%12))
			}
			r := a.Analyze(in)
			assert.GreaterOrEqual(t, r.Popularity.Score, 1)
			assert.LessOrEqual(t, r.Popularity.Score, 100)
			assert.GreaterOrEqual(t, r.Difficulty.Score, 1)
			assert.LessOrEqual(t, r.Difficulty.Score, 100)
			for _, tier := range r.Difficulty.Tiers {
				assert.GreaterOrEqual(t, tier.Score, 1)
				assert.LessOrEqual(t, tier.Score, 100)
			}
		}
	}
}

func TestDifficulty_DominatedField(t *testing.T) {
	res := NewDifficultyScorer(DefaultDifficultyTable()).Score(dominatedField())

	assert.GreaterOrEqual(t, res.Score, 76)
	assert.Contains(t, []string{"Very Hard", "Extreme"}, res.Label)
	assert.InDelta(t, 100, res.SubScores.DominantPlayers, 1e-9)
	assert.InDelta(t, 100, res.SubScores.RatingVolume, 1e-9)
	assert.Empty(t, res.OverrideReason)
	assert.Equal(t, InsightBarrier, res.Insights[0].Kind)
}

// The dominated-field example depends on the tail: rating volume reads the
// median, so three giants over a near-empty field only score Hard.
func TestDifficulty_DominatedWeakTail(t *testing.T) {
	field := func(tail int64) ScoreInput {
		in := ScoreInput{Keyword: "photo editor", AsOf: asOf}
		for i := 0; i < 3; i++ {
			in.Competitors = append(in.Competitors,
				app(fmt.Sprintf("Photo Editor Giant %d", i), 600_000, 4.6, fmt.Sprintf("Big Co %d", i), 5))
		}
		for i := 3; i < 10; i++ {
			in.Competitors = append(in.Competitors,
				app(fmt.Sprintf("Photo Editor %d", i), tail, 4.6, fmt.Sprintf("Studio %d", i), 5))
		}
		return in
	}
	scorer := NewDifficultyScorer(DefaultDifficultyTable())

	empty := scorer.Score(field(0))
	assert.Zero(t, empty.SubScores.RatingVolume)
	assert.Less(t, empty.Score, 76)
	assert.Contains(t, []string{"Moderate", "Hard"}, empty.Label)

	prev := empty.Score
	for _, tail := range []int64{1_000, 10_000, 150_000} {
		res := scorer.Score(field(tail))
		assert.Greater(t, res.Score, prev, "tail %d", tail)
		prev = res.Score
	}
	assert.GreaterOrEqual(t, prev, 76)
}

func TestDifficulty_Tiers(t *testing.T) {
	res := NewDifficultyScorer(DefaultDifficultyTable()).Score(dominatedField())
	require.Len(t, res.Tiers, 3)

	top5, ok := res.Tier(TierTop5)
	require.True(t, ok)
	top10, _ := res.Tier(TierTop10)
	top20, _ := res.Tier(TierTop20)

	for _, tier := range res.Tiers {
		assert.GreaterOrEqual(t, tier.Score, res.Score)
	}
	assert.LessOrEqual(t, top10.Score, top5.Score)
	assert.LessOrEqual(t, top20.Score, top10.Score)

	assert.Equal(t, 5, top5.TotalApps)
	assert.Equal(t, int64(150_000), top5.MinReviews)
	assert.Equal(t, "Photo Editor 3", top5.WeakestApp)
	assert.Equal(t, 10, top20.TotalApps)
	assert.Equal(t, []string{"Only 10 apps rank here, 10 open spots."}, top20.Highlights)
}

func TestDifficulty_EmptyInput(t *testing.T) {
	res := NewDifficultyScorer(DefaultDifficultyTable()).Score(ScoreInput{Keyword: "nothing"})
	assert.Equal(t, 1, res.Score)
	assert.Equal(t, "Very Easy", res.Label)
	require.Len(t, res.Tiers, 3)
	for _, tier := range res.Tiers {
		assert.Equal(t, 1, tier.Score)
		assert.Equal(t, 0, tier.TotalApps)
	}
}

func TestDifficulty_SmallResultSetCap(t *testing.T) {
	in := ScoreInput{Keyword: "chess", AsOf: asOf}
	for i := 0; i < 3; i++ {
		in.Competitors = append(in.Competitors,
			app(fmt.Sprintf("Chess %d", i), 1_000_000, 4.5, fmt.Sprintf("Dev %d", i), 3))
	}
	res := NewDifficultyScorer(DefaultDifficultyTable()).Score(in)

	assert.Equal(t, 30, res.Score)
	assert.Greater(t, res.RawScore, res.Score)
	assert.Equal(t, OverrideSmallResultSet, res.OverrideReason)
	assert.Contains(t, res.Insights[0].Text, "Score adjusted from")
}

func TestDifficulty_WeakLeaderBackfill(t *testing.T) {
	in := ScoreInput{Keyword: "lan invoice", AsOf: asOf}
	in.Competitors = append(in.Competitors, app("LAN Invoice", 50, 4.5, "Tiny Dev", 3))
	for i := 1; i < 10; i++ {
		in.Competitors = append(in.Competitors,
			app(fmt.Sprintf("Invoice Maker %d", i), 200_000, 4.5, fmt.Sprintf("Big %d", i), 3))
	}
	res := NewDifficultyScorer(DefaultDifficultyTable()).Score(in)

	assert.Equal(t, 71, res.RawScore)
	assert.Equal(t, 31, res.Score)
	assert.Equal(t, OverrideBackfill, res.OverrideReason)
	assert.Equal(t, InsightOpportunity, res.Insights[0].Kind)
	assert.Contains(t, res.Insights[0].Text, "generic backfill")
}

func TestDifficulty_Labels(t *testing.T) {
	d := NewDifficultyScorer(DefaultDifficultyTable())
	cases := map[int]string{
		1: "Very Easy", 15: "Very Easy", 16: "Easy", 35: "Easy", 36: "Moderate",
		55: "Moderate", 56: "Hard", 75: "Hard", 76: "Very Hard", 90: "Very Hard",
		91: "Extreme", 100: "Extreme",
	}
	for score, want := range cases {
		assert.Equal(t, want, d.Label(score), "score %d", score)
	}
}

func TestDifficulty_Opportunities(t *testing.T) {
	in := uniform("habit tracker", "Daily Planner", 6, 120)
	in.Competitors[0].Genre = "Health & Fitness"
	in.Competitors[1].Genre = "Lifestyle"
	in.Competitors[2].ReleaseDate = asOf.AddDate(0, -2, 0)

	signals := NewDifficultyScorer(DefaultDifficultyTable()).Score(in).Opportunities
	names := make([]string, 0, len(signals))
	for _, s := range signals {
		names = append(names, s.Signal)
	}
	assert.Equal(t, []string{"Title Gap", "Weak Competitors", "Active Market", "Cross-Genre"}, names)
	assert.Equal(t, "Strong", signals[0].Strength)
	assert.Equal(t, "Strong", signals[1].Strength)
}

func TestInsights_ThousandsSeparators(t *testing.T) {
	in := ScoreInput{Keyword: "habit tracker", AsOf: asOf}
	in.Competitors = append(in.Competitors, app("Habit Tracker Giant", 3_000_000, 4.8, "Big Co", 6))
	for i := 0; i < 4; i++ {
		in.Competitors = append(in.Competitors,
			app(fmt.Sprintf("Habit Tracker %d", i), 1_000, 4.2, fmt.Sprintf("Indie %d", i), 2))
	}

	res := NewDifficultyScorer(DefaultDifficultyTable()).Score(in)
	texts := make([]string, 0, len(res.Insights))
	for _, ins := range res.Insights {
		texts = append(texts, ins.Text)
	}
	assert.Contains(t, texts,
		"Review distribution is skewed: median (1,000) is much lower than mean (600,800). A few giants inflate the average.")
}

func TestTierHighlights_ThousandsSeparators(t *testing.T) {
	cases := []struct {
		minReviews int64
		want       string
	}{
		{42, "The easiest app to beat has just 42 reviews."},
		{250, "You need ~250+ reviews to compete (weakest: Tiny App)."},
		{5_000, "You need ~5,000+ reviews to break in."},
		{1_234_567, "Requires ~1,234,567+ reviews, established market."},
	}
	for _, tc := range cases {
		got := tierHighlights(RankingTier{Size: 5, TotalApps: 5, MinReviews: tc.minReviews, WeakestApp: "Tiny App"})
		require.NotEmpty(t, got)
		assert.Equal(t, tc.want, got[0])
	}
}
