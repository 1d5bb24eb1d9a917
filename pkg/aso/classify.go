package aso

import "math"

// Classification is an actionable label for a (popularity, difficulty) pair.
type Classification string

const (
	SweetSpot   Classification = "Sweet Spot"
	HiddenGem   Classification = "Hidden Gem"
	LowVolume   Classification = "Low Volume"
	Avoid       Classification = "Avoid"
	Competitive Classification = "Competitive"
	Balanced    Classification = "Balanced"
)

// ClassRule matches when both scores fall inside its inclusive ranges.
// Scores never go below 1, so a zero maximum leaves the range open up to 100:
// omitting max_popularity or max_difficulty widens the rule to the top.
type ClassRule struct {
	Label         Classification `yaml:"label" json:"label" validate:"required"`
	MinPopularity int            `yaml:"min_popularity" json:"min_popularity" validate:"gte=0,lte=100"`
	MaxPopularity int            `yaml:"max_popularity" json:"max_popularity" validate:"gte=0,lte=100"`
	MinDifficulty int            `yaml:"min_difficulty" json:"min_difficulty" validate:"gte=0,lte=100"`
	MaxDifficulty int            `yaml:"max_difficulty" json:"max_difficulty" validate:"gte=0,lte=100"`
}

func (r ClassRule) matches(popularity, difficulty int) bool {
	maxPop, maxDiff := r.MaxPopularity, r.MaxDifficulty
	if maxPop == 0 {
		maxPop = 100
	}
	if maxDiff == 0 {
		maxDiff = 100
	}
	return popularity >= r.MinPopularity && popularity <= maxPop &&
		difficulty >= r.MinDifficulty && difficulty <= maxDiff
}

// DefaultClassRules is the standard policy table. Order matters: the first
// matching rule wins.
func DefaultClassRules() []ClassRule {
	return []ClassRule{
		{Label: LowVolume, MinPopularity: 1, MaxPopularity: 19, MinDifficulty: 1, MaxDifficulty: 100},
		{Label: SweetSpot, MinPopularity: 45, MaxPopularity: 100, MinDifficulty: 1, MaxDifficulty: 40},
		{Label: HiddenGem, MinPopularity: 20, MaxPopularity: 44, MinDifficulty: 1, MaxDifficulty: 35},
		{Label: Avoid, MinPopularity: 1, MaxPopularity: 59, MinDifficulty: 66, MaxDifficulty: 100},
		{Label: Competitive, MinPopularity: 60, MaxPopularity: 100, MinDifficulty: 56, MaxDifficulty: 100},
	}
}

// Classifier labels keywords from an ordered rule table.
type Classifier struct {
	rules    []ClassRule
	fallback Classification
}

// NewClassifier creates a classifier. Empty rules fall back to
// DefaultClassRules and an empty fallback to Balanced.
func NewClassifier(rules []ClassRule, fallback Classification) *Classifier {
	if len(rules) == 0 {
		rules = DefaultClassRules()
	}
	if fallback == "" {
		fallback = Balanced
	}
	return &Classifier{rules: rules, fallback: fallback}
}

// Classify returns the label of the first rule matching the pair.
func (c *Classifier) Classify(popularity, difficulty int) Classification {
	for _, r := range c.rules {
		if r.matches(popularity, difficulty) {
			return r.Label
		}
	}
	return c.fallback
}

// Opportunity combines popularity and difficulty into a 0-100 ranking metric:
// the share of search demand left open by the competition.
func Opportunity(popularity, difficulty int) int {
	if popularity <= 0 {
		return 0
	}
	return int(math.RoundToEven(float64(popularity) * float64(100-difficulty) / 100))
}
