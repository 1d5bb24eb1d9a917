package aso

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_DefaultRules(t *testing.T) {
	c := NewClassifier(nil, "")

	tests := []struct {
		popularity, difficulty int
		want                   Classification
	}{
		{1, 1, LowVolume},
		{19, 95, LowVolume},
		{70, 20, SweetSpot},
		{45, 40, SweetSpot},
		{30, 20, HiddenGem},
		{40, 80, Avoid},
		{80, 80, Competitive},
		{50, 50, Balanced},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.popularity, tt.difficulty),
			"popularity=%d difficulty=%d", tt.popularity, tt.difficulty)
	}
}

func TestClassifier_CustomRules(t *testing.T) {
	c := NewClassifier([]ClassRule{{Label: "Go", MinPopularity: 50}}, "Skip")
	assert.Equal(t, Classification("Go"), c.Classify(60, 10))
	assert.Equal(t, Classification("Go"), c.Classify(100, 100))
	assert.Equal(t, Classification("Skip"), c.Classify(10, 10))
}

func TestClassifier_ZeroMaxIsOpen(t *testing.T) {
	open := NewClassifier([]ClassRule{{Label: "Hard", MinDifficulty: 70}}, "Other")
	closed := NewClassifier([]ClassRule{{Label: "Hard", MinDifficulty: 70, MaxDifficulty: 80}}, "Other")

	assert.Equal(t, Classification("Hard"), open.Classify(1, 100))
	assert.Equal(t, Classification("Other"), closed.Classify(1, 100))
	assert.Equal(t, Classification("Hard"), closed.Classify(1, 80))
}

func TestOpportunity(t *testing.T) {
	assert.Equal(t, 60, Opportunity(80, 25))
	assert.Equal(t, 0, Opportunity(0, 10))
	assert.Equal(t, 0, Opportunity(50, 100))
	assert.Equal(t, 16, Opportunity(33, 50))
	assert.Equal(t, 99, Opportunity(100, 1))
}

func TestAnalyzer_EmptyInput(t *testing.T) {
	r := NewAnalyzer().Analyze(ScoreInput{Keyword: "Nothing Here"})

	assert.Equal(t, "nothing here", r.Keyword)
	assert.Equal(t, 0, r.ResultCount)
	assert.Equal(t, 1, r.Popularity.Score)
	assert.Equal(t, 1, r.Difficulty.Score)
	assert.Equal(t, LowVolume, r.Classification)
	assert.Len(t, r.Downloads.Positions, 20)
}

func TestAnalyzer_Deterministic(t *testing.T) {
	a := NewAnalyzer()
	in := dominatedField()
	assert.Equal(t, a.Analyze(in), a.Analyze(in))
}

func TestAnalyzer_Options(t *testing.T) {
	w := DefaultDifficultyWeights()
	w.RatingVolume = 0
	w.DominantPlayers = 0

	base := NewAnalyzer().Analyze(dominatedField())
	light := NewAnalyzer(
		WithDifficultyWeights(w),
		WithClassRules([]ClassRule{{Label: "Everything"}}, ""),
	).Analyze(dominatedField())

	assert.Less(t, light.Difficulty.Score, base.Difficulty.Score)
	assert.Equal(t, Classification("Everything"), light.Classification)
	assert.Equal(t, base.Popularity, light.Popularity)
}
