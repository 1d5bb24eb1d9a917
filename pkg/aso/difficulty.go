package aso

import (
	"math"
	"time"
)

// DifficultyWeights is the weight of each difficulty sub-score.
type DifficultyWeights struct {
	RatingVolume       float64 `yaml:"rating_volume" json:"rating_volume"`
	DominantPlayers    float64 `yaml:"dominant_players" json:"dominant_players"`
	RatingQuality      float64 `yaml:"rating_quality" json:"rating_quality"`
	MarketMaturity     float64 `yaml:"market_maturity" json:"market_maturity"`
	PublisherDiversity float64 `yaml:"publisher_diversity" json:"publisher_diversity"`
	AppCount           float64 `yaml:"app_count" json:"app_count"`
	ContentRelevance   float64 `yaml:"content_relevance" json:"content_relevance"`
}

// DefaultDifficultyWeights returns the standard weighting.
func DefaultDifficultyWeights() DifficultyWeights {
	return DifficultyWeights{
		RatingVolume:       0.30,
		DominantPlayers:    0.20,
		RatingQuality:      0.10,
		MarketMaturity:     0.10,
		PublisherDiversity: 0.10,
		AppCount:           0.10,
		ContentRelevance:   0.10,
	}
}

// Sum is the total weight. Valid weightings sum to 1.
func (w DifficultyWeights) Sum() float64 {
	return w.RatingVolume + w.DominantPlayers + w.RatingQuality + w.MarketMaturity +
		w.PublisherDiversity + w.AppCount + w.ContentRelevance
}

// LabelBand names every score up to and including Max.
type LabelBand struct {
	Max   int    `yaml:"max" json:"max"`
	Label string `yaml:"label" json:"label"`
}

// DifficultyTable calibrates the difficulty sub-scores.
type DifficultyTable struct {
	Weights DifficultyWeights

	VolumeBands []Band
	// DominantThreshold is the rating count that makes an app dominant.
	DominantThreshold int64
	// DominantWindow is how many leading results are checked for dominance.
	DominantWindow int
	QualityPoints  []Band
	MaturityPoints []Band
	// MaturityDefault applies when no result carries a release date.
	MaturityDefault float64
	// AppCountCap is the result count that earns a full app count score.
	AppCountCap int

	WeakLeaderReviews int64
	Labels            []LabelBand
}

// DefaultDifficultyTable returns the calibrated difficulty table.
func DefaultDifficultyTable() DifficultyTable {
	return DifficultyTable{
		Weights: DefaultDifficultyWeights(),
		VolumeBands: []Band{
			{50, 5}, {200, 15}, {500, 30}, {2_000, 50}, {5_000, 65},
			{10_000, 78}, {25_000, 88}, {100_000, 95},
		},
		DominantThreshold: 100_000,
		DominantWindow:    3,
		QualityPoints: []Band{
			{0, 0}, {3.0, 20}, {3.5, 35}, {4.0, 50}, {4.3, 70}, {4.5, 85}, {5.0, 100},
		},
		MaturityPoints: []Band{
			{0, 0}, {0.5, 10}, {1, 20}, {2, 35}, {3, 50}, {5, 70}, {8, 85}, {10, 100},
		},
		MaturityDefault:   50,
		AppCountCap:       25,
		WeakLeaderReviews: 1_000,
		Labels: []LabelBand{
			{15, "Very Easy"}, {35, "Easy"}, {55, "Moderate"},
			{75, "Hard"}, {90, "Very Hard"}, {100, "Extreme"},
		},
	}
}

// DifficultySubScores are the seven 0-100 components of a difficulty score,
// after dampening.
type DifficultySubScores struct {
	RatingVolume       float64 `json:"rating_volume"`
	DominantPlayers    float64 `json:"dominant_players"`
	RatingQuality      float64 `json:"rating_quality"`
	MarketMaturity     float64 `json:"market_maturity"`
	PublisherDiversity float64 `json:"publisher_diversity"`
	AppCount           float64 `json:"app_count"`
	ContentRelevance   float64 `json:"content_relevance"`
}

func (s DifficultySubScores) weighted(w DifficultyWeights) float64 {
	return s.RatingVolume*w.RatingVolume +
		s.DominantPlayers*w.DominantPlayers +
		s.RatingQuality*w.RatingQuality +
		s.MarketMaturity*w.MarketMaturity +
		s.PublisherDiversity*w.PublisherDiversity +
		s.AppCount*w.AppCount +
		s.ContentRelevance*w.ContentRelevance
}

// Override reasons recorded when post-processing lowers the raw score.
const (
	OverrideSmallResultSet = "small_result_set"
	OverrideWeakLeader     = "weak_leader"
	OverrideBackfill       = "backfill"
)

// DifficultyResult is the overall difficulty with its breakdown.
type DifficultyResult struct {
	Score          int                 `json:"score"`
	RawScore       int                 `json:"raw_score"`
	Label          string              `json:"label"`
	OverrideReason string              `json:"override_reason,omitempty"`
	SubScores      DifficultySubScores `json:"sub_scores"`

	TitleMatchCount int   `json:"title_match_count"`
	MedianReviews   int64 `json:"median_reviews"`
	AverageReviews  int64 `json:"average_reviews"`

	Tiers         []RankingTier       `json:"tiers"`
	Insights      []Insight           `json:"insights"`
	Opportunities []OpportunitySignal `json:"opportunities"`
}

// Tier returns the ranking tier with the given name.
func (d DifficultyResult) Tier(name string) (RankingTier, bool) {
	for _, t := range d.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return RankingTier{}, false
}

// DifficultyScorer rates how hard it is to rank for a keyword.
type DifficultyScorer struct {
	table DifficultyTable
}

// NewDifficultyScorer creates a scorer for the given table.
func NewDifficultyScorer(table DifficultyTable) *DifficultyScorer {
	return &DifficultyScorer{table: table}
}

// Label maps a difficulty score onto its tier label.
func (d *DifficultyScorer) Label(score int) string {
	for _, b := range d.table.Labels {
		if score <= b.Max {
			return b.Label
		}
	}
	if n := len(d.table.Labels); n > 0 {
		return d.table.Labels[n-1].Label
	}
	return ""
}

// Score computes the overall difficulty, the Top 5/10/20 tiers, insights and
// opportunity signals.
func (d *DifficultyScorer) Score(in ScoreInput) DifficultyResult {
	s := Extract(in)
	raw, sub := d.raw(in, s, s.Count)

	res := DifficultyResult{
		RawScore:        raw,
		SubScores:       sub,
		TitleMatchCount: s.TitleMatches,
		MedianReviews:   int64(s.MedianRatings),
		AverageReviews:  int64(s.MeanRatings),
	}
	if s.Count == 0 {
		res.Score = 1
		res.Label = d.Label(res.Score)
		res.Tiers = d.tiers(in, s, res.Score)
		return res
	}

	total := raw
	if n := s.Count; n <= 5 {
		if limit := int(12 * math.Pow(float64(n), 0.85)); total > limit {
			total = limit
			res.OverrideReason = OverrideSmallResultSet
		}
	}
	if s.Keyword != "" && s.Count >= 2 {
		var reason string
		total, reason = d.backfillAdjust(total, s.MatchRatio, s.FirstRatings)
		if reason != "" {
			res.OverrideReason = reason
		}
	}

	res.Score = clampInt(total, 1, 100)
	res.Label = d.Label(res.Score)
	res.Tiers = d.tiers(in, s, res.Score)
	res.Insights = insights(in, s, res)
	res.Opportunities = opportunities(in, s)
	return res
}

// raw computes the weighted sub-scores before post-processing. fullCount is
// the size of the whole result list, which drives dampening and the app
// count component even when in is a Top-N slice.
func (d *DifficultyScorer) raw(in ScoreInput, s Signals, fullCount int) (int, DifficultySubScores) {
	t := d.table
	n := s.Count
	if n == 0 {
		return 1, DifficultySubScores{}
	}

	sub := DifficultySubScores{
		RatingVolume:     logScale(s.MedianRatings, t.VolumeBands, 100),
		DominantPlayers:  d.dominance(s),
		RatingQuality:    linearScale(s.WeightedRating, t.QualityPoints),
		MarketMaturity:   d.maturity(in),
		AppCount:         math.Min(100, float64(fullCount)/float64(max(t.AppCountCap, 1))*100),
		ContentRelevance: math.Min(100, s.MatchRatio*100),
	}
	sub.PublisherDiversity = math.Min(100, float64(s.Publishers)/float64(n)*100)

	damp := sampleDampening(fullCount)
	sub.DominantPlayers *= damp
	sub.RatingQuality *= damp
	sub.PublisherDiversity *= damp
	sub.ContentRelevance *= damp

	rel := s.Relevance()
	sub.PublisherDiversity *= rel
	sub.RatingQuality *= rel
	sub.MarketMaturity *= rel

	return clampInt(int(sub.weighted(t.Weights)), 1, 100), sub
}

// dominance is the share of the leading results at or above the dominant
// rating threshold.
func (d *DifficultyScorer) dominance(s Signals) float64 {
	window := min(max(d.table.DominantWindow, 1), s.Count)
	dominant := 0
	for _, r := range s.RatingCounts[:window] {
		if r >= d.table.DominantThreshold {
			dominant++
		}
	}
	return float64(dominant) / float64(window) * 100
}

// maturity scores the mean age of the top half of results.
func (d *DifficultyScorer) maturity(in ScoreInput) float64 {
	now := in.now()
	var total float64
	dated := 0
	for _, c := range in.Competitors[:topHalf(len(in.Competitors))] {
		if age, ok := c.ageYears(now); ok {
			total += age
			dated++
		}
	}
	if dated == 0 {
		return d.table.MaturityDefault
	}
	return linearScale(total/float64(dated), d.table.MaturityPoints)
}

// backfillAdjust lowers total when the #1 result is weak. Apple pads thin
// result lists with large apps from broader terms, which would otherwise make
// niche keywords look hard.
func (d *DifficultyScorer) backfillAdjust(total int, matchRatio float64, leader int64) (int, string) {
	if leader >= d.table.WeakLeaderReviews {
		return total, ""
	}
	var reason string
	strength := math.Log10(float64(leader)+1) / math.Log10(float64(d.table.WeakLeaderReviews)+1)

	if limit := int(15 + 35*strength); total > limit {
		if matchRatio > 0.2 {
			total = int(float64(limit) + float64(total-limit)*matchRatio)
		} else {
			total = limit
		}
		reason = OverrideWeakLeader
	}

	if matchRatio < 0.2 {
		ratioFactor := math.Min(1, 0.6+2*matchRatio)
		discount := clamp(ratioFactor+(1-ratioFactor)*strength, 0.6, 1)
		if discounted := max(1, int(float64(total)*discount)); discounted < total {
			total = discounted
			reason = OverrideBackfill
		}
	}
	return total, reason
}

const freshWindow = 365 * 24 * time.Hour
