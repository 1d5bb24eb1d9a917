// Package trend compares stored keyword results over time and flags the
// movements worth reporting.
package trend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/respectlytics/respectaso/internal/store"
)

// Snapshot is the comparable part of one stored result.
type Snapshot struct {
	Date           string `json:"date"`
	Popularity     int    `json:"popularity"`
	Difficulty     int    `json:"difficulty"`
	Classification string `json:"classification"`
	// AppRank is 0 when the tracked app is not ranked.
	AppRank int `json:"app_rank"`
}

// FromResult extracts a Snapshot from a stored result.
func FromResult(r store.Result) Snapshot {
	s := Snapshot{
		Date:           r.SearchDate,
		Popularity:     r.Popularity,
		Difficulty:     r.Difficulty,
		Classification: r.Classification,
	}
	if r.AppRank != nil {
		s.AppRank = *r.AppRank
	}
	return s
}

// Movement is the change between two results of the same keyword+country.
type Movement struct {
	ResultID        int64    `json:"result_id"`
	KeywordID       int64    `json:"keyword_id"`
	Keyword         string   `json:"keyword"`
	Country         string   `json:"country"`
	Previous        Snapshot `json:"previous"`
	Current         Snapshot `json:"current"`
	PopularityDelta int      `json:"popularity_delta"`
	DifficultyDelta int      `json:"difficulty_delta"`
	// RankDelta is positive when the app moved up.
	RankDelta             int  `json:"rank_delta"`
	ClassificationChanged bool `json:"classification_changed"`
	EnteredRanking        bool `json:"entered_ranking"`
	LeftRanking           bool `json:"left_ranking"`
}

// Compare computes the movement from prev to cur.
func Compare(prev, cur Snapshot) Movement {
	m := Movement{
		Previous:              prev,
		Current:               cur,
		PopularityDelta:       cur.Popularity - prev.Popularity,
		DifficultyDelta:       cur.Difficulty - prev.Difficulty,
		ClassificationChanged: prev.Classification != "" && prev.Classification != cur.Classification,
	}
	switch {
	case prev.AppRank == 0 && cur.AppRank > 0:
		m.EnteredRanking = true
	case prev.AppRank > 0 && cur.AppRank == 0:
		m.LeftRanking = true
	case prev.AppRank > 0 && cur.AppRank > 0:
		m.RankDelta = prev.AppRank - cur.AppRank
	}
	return m
}

// Summary renders the movement as one line.
func (m Movement) Summary() string {
	var parts []string
	if m.PopularityDelta != 0 {
		parts = append(parts, fmt.Sprintf("popularity %d → %d (%+d)", m.Previous.Popularity, m.Current.Popularity, m.PopularityDelta))
	}
	if m.DifficultyDelta != 0 {
		parts = append(parts, fmt.Sprintf("difficulty %d → %d (%+d)", m.Previous.Difficulty, m.Current.Difficulty, m.DifficultyDelta))
	}
	switch {
	case m.EnteredRanking:
		parts = append(parts, fmt.Sprintf("now ranked #%d", m.Current.AppRank))
	case m.LeftRanking:
		parts = append(parts, fmt.Sprintf("dropped out of ranking (was #%d)", m.Previous.AppRank))
	case m.RankDelta != 0:
		parts = append(parts, fmt.Sprintf("rank #%d → #%d", m.Previous.AppRank, m.Current.AppRank))
	}
	if m.ClassificationChanged {
		parts = append(parts, fmt.Sprintf("%s → %s", m.Previous.Classification, m.Current.Classification))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s (%s): no change", m.Keyword, strings.ToUpper(m.Country))
	}
	return fmt.Sprintf("%s (%s): %s", m.Keyword, strings.ToUpper(m.Country), strings.Join(parts, ", "))
}

// Thresholds decide which movements are significant. A zero threshold
// disables that check.
type Thresholds struct {
	Popularity     int  `yaml:"popularity" validate:"gte=0,lte=100"`
	Difficulty     int  `yaml:"difficulty" validate:"gte=0,lte=100"`
	Rank           int  `yaml:"rank" validate:"gte=0"`
	Classification bool `yaml:"classification"`
}

// DefaultThresholds returns the default alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Popularity: 10, Difficulty: 10, Rank: 5, Classification: true}
}

// Significant reports whether m crosses any threshold.
func (t Thresholds) Significant(m Movement) bool {
	switch {
	case t.Popularity > 0 && abs(m.PopularityDelta) >= t.Popularity:
		return true
	case t.Difficulty > 0 && abs(m.DifficultyDelta) >= t.Difficulty:
		return true
	case t.Rank > 0 && (abs(m.RankDelta) >= t.Rank || m.EnteredRanking || m.LeftRanking):
		return true
	case t.Classification && m.ClassificationChanged:
		return true
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Engine detects movements against stored history.
type Engine struct {
	store      store.Store
	thresholds Thresholds
}

// NewEngine creates a new trend engine.
func NewEngine(s store.Store, t Thresholds) *Engine {
	return &Engine{store: s, thresholds: t}
}

// Movement compares r with the previous day's result of the same pair. It
// returns nil when r is the first result of its series.
func (e *Engine) Movement(ctx context.Context, r store.Result) (*Movement, error) {
	prev, err := e.store.PreviousResult(ctx, r.KeywordID, r.Country, r.SearchDate)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("previous result: %w", err)
	}

	m := Compare(FromResult(*prev), FromResult(r))
	m.ResultID = r.ID
	m.KeywordID = r.KeywordID
	m.Keyword = r.Keyword
	m.Country = r.Country
	return &m, nil
}

// Detect returns the significant movements among results.
func (e *Engine) Detect(ctx context.Context, results []store.Result) ([]Movement, error) {
	var out []Movement
	for _, r := range results {
		m, err := e.Movement(ctx, r)
		if err != nil {
			return out, fmt.Errorf("movement for %q/%s: %w", r.Keyword, r.Country, err)
		}
		if m != nil && e.thresholds.Significant(*m) {
			out = append(out, *m)
		}
	}
	return out, nil
}

// Series is the history of one keyword+country pair.
type Series struct {
	KeywordID int64              `json:"keyword_id"`
	Keyword   string             `json:"keyword"`
	Country   string             `json:"country"`
	Points    []store.TrendPoint `json:"points"`
	// Velocity is the average popularity change per stored day.
	Velocity float64 `json:"velocity"`
	MinPop   int     `json:"min_popularity"`
	MaxPop   int     `json:"max_popularity"`
}

// Series loads and summarizes the history of a pair.
func (e *Engine) Series(ctx context.Context, keywordID int64, country string) (*Series, error) {
	kw, err := e.store.GetKeyword(ctx, keywordID)
	if err != nil {
		return nil, err
	}
	points, err := e.store.KeywordTrend(ctx, keywordID, country)
	if err != nil {
		return nil, err
	}
	s := Summarize(points)
	s.KeywordID = kw.ID
	s.Keyword = kw.Keyword
	s.Country = strings.ToLower(country)
	return s, nil
}

// Summarize computes range and velocity over points ordered oldest first.
func Summarize(points []store.TrendPoint) *Series {
	s := &Series{Points: points}
	if len(points) == 0 {
		return s
	}
	s.MinPop, s.MaxPop = points[0].Popularity, points[0].Popularity
	for _, p := range points[1:] {
		s.MinPop = min(s.MinPop, p.Popularity)
		s.MaxPop = max(s.MaxPop, p.Popularity)
	}
	if len(points) > 1 {
		first, last := points[0], points[len(points)-1]
		s.Velocity = float64(last.Popularity-first.Popularity) / float64(len(points)-1)
	}
	return s
}
