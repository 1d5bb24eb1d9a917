package aso

import "math"

// DownloadTable calibrates the download estimator.
type DownloadTable struct {
	// Searches maps popularity to estimated daily searches.
	Searches []Band
	// Tap-through rate anchors: position 1 and MaxPosition.
	FirstTTR    float64
	LastTTR     float64
	MaxPosition int
	// Install conversion range.
	ConservativeCVR float64
	OptimisticCVR   float64
}

// DefaultDownloadTable returns the calibrated download model. The search
// curve is anchored on popularity 68 at rank 8 yielding roughly 8-10
// downloads a day.
func DefaultDownloadTable() DownloadTable {
	return DownloadTable{
		Searches: []Band{
			{0, 0}, {5, 1}, {10, 2}, {15, 5}, {20, 10}, {25, 20}, {30, 35}, {35, 60},
			{40, 100}, {45, 170}, {50, 300}, {55, 480}, {60, 700}, {65, 1_000},
			{70, 1_500}, {75, 2_500}, {80, 4_000}, {85, 6_500}, {90, 10_000},
			{95, 16_000}, {100, 25_000},
		},
		FirstTTR:        0.30,
		LastTTR:         0.0006,
		MaxPosition:     20,
		ConservativeCVR: 0.35,
		OptimisticCVR:   0.55,
	}
}

// DownloadEstimate is the daily download range for one ranking position.
type DownloadEstimate struct {
	Position       int     `json:"position"`
	TapThroughRate float64 `json:"tap_through_rate"`
	Conservative   float64 `json:"conservative"`
	Optimistic     float64 `json:"optimistic"`
}

// DownloadTier averages the estimates of a position band.
type DownloadTier struct {
	Name         string  `json:"name"`
	From         int     `json:"from"`
	To           int     `json:"to"`
	Conservative float64 `json:"conservative"`
	Optimistic   float64 `json:"optimistic"`
}

// DownloadForecast is the full estimator output for one popularity score.
type DownloadForecast struct {
	DailySearches float64            `json:"daily_searches"`
	Positions     []DownloadEstimate `json:"positions"`
	Tiers         []DownloadTier     `json:"tiers"`
}

var downloadTiers = []struct {
	name     string
	from, to int
}{
	{"top_5", 1, 5},
	{"top_6_10", 6, 10},
	{"top_11_20", 11, 20},
}

// DownloadEstimator maps popularity to daily downloads per ranking position.
type DownloadEstimator struct {
	table    DownloadTable
	exponent float64
}

// NewDownloadEstimator creates an estimator. The tap-through curve is a power
// law through the two anchors of the table.
func NewDownloadEstimator(table DownloadTable) *DownloadEstimator {
	exp := 0.0
	if table.MaxPosition > 1 && table.LastTTR > 0 {
		exp = math.Log(table.FirstTTR/table.LastTTR) / math.Log(float64(table.MaxPosition))
	}
	return &DownloadEstimator{table: table, exponent: exp}
}

// DailySearches estimates daily searches for a popularity score. The curve
// is non-decreasing in popularity.
func (e *DownloadEstimator) DailySearches(popularity int) float64 {
	if popularity <= 0 {
		return 0
	}
	return linearScale(float64(popularity), e.table.Searches)
}

// TapThroughRate returns the share of searchers who tap the result at the
// given position. ok is false outside 1..MaxPosition; the model does not
// extrapolate.
func (e *DownloadEstimator) TapThroughRate(position int) (rate float64, ok bool) {
	if position < 1 || position > e.table.MaxPosition {
		return 0, false
	}
	if position == 1 {
		return e.table.FirstTTR, true
	}
	if position == e.table.MaxPosition {
		return e.table.LastTTR, true
	}
	return e.table.FirstTTR * math.Pow(float64(position), -e.exponent), true
}

// At estimates daily downloads at a single position.
func (e *DownloadEstimator) At(popularity, position int) (DownloadEstimate, bool) {
	ttr, ok := e.TapThroughRate(position)
	if !ok {
		return DownloadEstimate{}, false
	}
	taps := e.DailySearches(popularity) * ttr
	return DownloadEstimate{
		Position:       position,
		TapThroughRate: ttr,
		Conservative:   taps * e.table.ConservativeCVR,
		Optimistic:     taps * e.table.OptimisticCVR,
	}, true
}

// Estimate builds the per-position forecast and tier averages.
func (e *DownloadEstimator) Estimate(popularity int) DownloadForecast {
	f := DownloadForecast{
		DailySearches: e.DailySearches(popularity),
		Positions:     make([]DownloadEstimate, 0, e.table.MaxPosition),
	}
	for pos := 1; pos <= e.table.MaxPosition; pos++ {
		est, _ := e.At(popularity, pos)
		f.Positions = append(f.Positions, est)
	}

	for _, t := range downloadTiers {
		tier := DownloadTier{Name: t.name, From: t.from, To: min(t.to, e.table.MaxPosition)}
		if tier.From > tier.To {
			continue
		}
		span := f.Positions[tier.From-1 : tier.To]
		for _, p := range span {
			tier.Conservative += p.Conservative
			tier.Optimistic += p.Optimistic
		}
		tier.Conservative /= float64(len(span))
		tier.Optimistic /= float64(len(span))
		f.Tiers = append(f.Tiers, tier)
	}
	return f
}
