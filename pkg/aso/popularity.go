package aso

import "math"

// PopularityTable holds the point budget and calibration of each popularity
// signal.
type PopularityTable struct {
	// Result count: PerResult points per app, capped at ResultCountMax.
	PerResult      float64
	ResultCountMax float64

	// Leader strength: top-half leader rating count through LeaderBands.
	LeaderBands []Band
	LeaderMax   float64

	// Title match density: match ratio times TitleScale, capped.
	TitleScale float64
	TitleMax   float64

	// Market depth: median rating count through DepthBands.
	DepthBands []Band
	DepthMax   float64

	// Specificity: penalty by keyword word count.
	Specificity []Band

	// Exact phrase bonus for multi-word keywords.
	ExactScale float64
	ExactMax   float64

	Floor   int
	Ceiling int
}

// DefaultPopularityTable returns the calibrated popularity budget.
func DefaultPopularityTable() PopularityTable {
	return PopularityTable{
		PerResult:      2.5,
		ResultCountMax: 25,
		LeaderBands: []Band{
			{10, 1}, {100, 5}, {1_000, 10}, {10_000, 17}, {100_000, 24}, {1_000_000, 30},
		},
		LeaderMax:  30,
		TitleScale: 40,
		TitleMax:   20,
		DepthBands: []Band{
			{10, 0.5}, {100, 3}, {1_000, 5}, {10_000, 8}, {50_000, 10},
		},
		DepthMax: 10,
		Specificity: []Band{
			{1, 0}, {2, -3}, {3, -8}, {4, -15}, {5, -22}, {6, -28},
		},
		ExactScale: 50,
		ExactMax:   15,
		Floor:      1,
		Ceiling:    100,
	}
}

// PopularityResult is the popularity score and the signal values behind it.
type PopularityResult struct {
	Score          int     `json:"score"`
	ResultCount    float64 `json:"result_count"`
	LeaderStrength float64 `json:"leader_strength"`
	TitleMatch     float64 `json:"title_match"`
	MarketDepth    float64 `json:"market_depth"`
	Specificity    float64 `json:"specificity"`
	ExactPhrase    float64 `json:"exact_phrase"`

	SampleDampening float64 `json:"sample_dampening"`
	Relevance       float64 `json:"relevance"`
}

// PopularityScorer estimates how often a keyword is searched from the shape
// of its result list.
type PopularityScorer struct {
	table PopularityTable
}

// NewPopularityScorer creates a scorer for the given table.
func NewPopularityScorer(table PopularityTable) *PopularityScorer {
	return &PopularityScorer{table: table}
}

// Score computes the popularity of in. It is deterministic and always
// returns a score inside [Floor, Ceiling].
func (p *PopularityScorer) Score(in ScoreInput) PopularityResult {
	return p.FromSignals(Extract(in))
}

// FromSignals scores already extracted signals.
func (p *PopularityScorer) FromSignals(s Signals) PopularityResult {
	t := p.table
	if s.Count == 0 {
		return PopularityResult{Score: t.Floor}
	}

	r := PopularityResult{
		ResultCount:     math.Min(t.ResultCountMax, float64(s.Count)*t.PerResult),
		LeaderStrength:  logScale(float64(s.LeaderRatings), t.LeaderBands, t.LeaderMax),
		TitleMatch:      math.Min(t.TitleMax, s.MatchRatio*t.TitleScale),
		MarketDepth:     logScale(s.MedianRatings, t.DepthBands, t.DepthMax),
		Specificity:     linearScale(float64(s.WordCount), t.Specificity),
		SampleDampening: sampleDampening(s.Count),
		Relevance:       s.Relevance(),
	}
	if s.WordCount >= 2 {
		r.ExactPhrase = math.Min(t.ExactMax, s.ExactRatio*t.ExactScale)
	}

	r.TitleMatch *= r.SampleDampening
	r.ExactPhrase *= r.SampleDampening
	r.ResultCount *= r.Relevance
	r.LeaderStrength *= r.Relevance
	r.MarketDepth *= r.Relevance

	total := int(r.ResultCount + r.LeaderStrength + r.TitleMatch +
		r.MarketDepth + r.Specificity + r.ExactPhrase)
	r.Score = clampInt(total, t.Floor, t.Ceiling)
	return r
}
