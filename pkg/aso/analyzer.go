package aso

// Report is the full scoring output for one keyword+country query.
type Report struct {
	Keyword        string           `json:"keyword"`
	ResultCount    int              `json:"result_count"`
	Popularity     PopularityResult `json:"popularity"`
	Difficulty     DifficultyResult `json:"difficulty"`
	Downloads      DownloadForecast `json:"downloads"`
	Classification Classification   `json:"classification"`
	Opportunity    int              `json:"opportunity"`
}

// Analyzer runs the whole scoring pipeline. It holds no mutable state and is
// safe for concurrent use.
type Analyzer struct {
	popularity *PopularityScorer
	difficulty *DifficultyScorer
	downloads  *DownloadEstimator
	classifier *Classifier
}

// Option configures an Analyzer.
type Option func(*analyzerOptions)

type analyzerOptions struct {
	popularity PopularityTable
	difficulty DifficultyTable
	downloads  DownloadTable
	rules      []ClassRule
	fallback   Classification
}

// WithPopularityTable overrides the popularity budget.
func WithPopularityTable(t PopularityTable) Option {
	return func(o *analyzerOptions) { o.popularity = t }
}

// WithDifficultyTable overrides the difficulty calibration.
func WithDifficultyTable(t DifficultyTable) Option {
	return func(o *analyzerOptions) { o.difficulty = t }
}

// WithDifficultyWeights overrides only the difficulty weights.
func WithDifficultyWeights(w DifficultyWeights) Option {
	return func(o *analyzerOptions) { o.difficulty.Weights = w }
}

// WithDownloadTable overrides the download model.
func WithDownloadTable(t DownloadTable) Option {
	return func(o *analyzerOptions) { o.downloads = t }
}

// WithClassRules overrides the classification policy.
func WithClassRules(rules []ClassRule, fallback Classification) Option {
	return func(o *analyzerOptions) {
		o.rules = rules
		o.fallback = fallback
	}
}

// NewAnalyzer creates an Analyzer with the default calibration unless
// overridden by opts.
func NewAnalyzer(opts ...Option) *Analyzer {
	o := analyzerOptions{
		popularity: DefaultPopularityTable(),
		difficulty: DefaultDifficultyTable(),
		downloads:  DefaultDownloadTable(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Analyzer{
		popularity: NewPopularityScorer(o.popularity),
		difficulty: NewDifficultyScorer(o.difficulty),
		downloads:  NewDownloadEstimator(o.downloads),
		classifier: NewClassifier(o.rules, o.fallback),
	}
}

// Analyze scores one query.
func (a *Analyzer) Analyze(in ScoreInput) Report {
	pop := a.popularity.Score(in)
	diff := a.difficulty.Score(in)
	return Report{
		Keyword:        NormalizeKeyword(in.Keyword),
		ResultCount:    len(in.Competitors),
		Popularity:     pop,
		Difficulty:     diff,
		Downloads:      a.downloads.Estimate(pop.Score),
		Classification: a.classifier.Classify(pop.Score, diff.Score),
		Opportunity:    Opportunity(pop.Score, diff.Score),
	}
}
