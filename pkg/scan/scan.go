// Package scan runs the keyword scoring pipeline across many App Store
// storefronts and ranks them by opportunity.
package scan

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/respectlytics/respectaso/pkg/aso"
	"github.com/respectlytics/respectaso/pkg/itunes"
	"github.com/respectlytics/respectaso/pkg/logger"
	"github.com/respectlytics/respectaso/pkg/metrics"
)

// MaxCountries is the most storefronts a single scan may cover.
const MaxCountries = 30

// DefaultCountries are the storefronts scanned when none are requested.
var DefaultCountries = []string{
	"us", "gb", "ca", "au", "de", "fr", "jp", "kr", "cn", "br",
	"in", "mx", "es", "it", "nl", "se", "no", "dk", "fi", "pt",
	"ru", "tr", "sa", "ae", "sg", "th", "id", "ph", "vn", "tw",
}

var (
	ErrEmptyKeyword     = errors.New("keyword is required")
	ErrTooManyCountries = fmt.Errorf("at most %d countries per scan", MaxCountries)
)

// Fetcher returns the ranked competitor list for one keyword and storefront.
type Fetcher interface {
	Search(ctx context.Context, keyword, country string, limit int) ([]aso.CompetitorRecord, error)
}

// RankFinder locates a tracked app in the full result list.
type RankFinder interface {
	FindAppRank(ctx context.Context, keyword string, trackID int64, country string) (int, error)
}

// Config tunes the fan-out.
type Config struct {
	Concurrency    int           `yaml:"concurrency" env:"RESPECTASO_SCAN_CONCURRENCY" validate:"gte=0,lte=30"`
	CountryTimeout time.Duration `yaml:"country_timeout" env:"RESPECTASO_SCAN_COUNTRY_TIMEOUT"`
	ResultLimit    int           `yaml:"result_limit" validate:"gte=0,lte=200"`
}

// DefaultConfig returns the default fan-out settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		CountryTimeout: 30 * time.Second,
		ResultLimit:    itunes.DefaultLimit,
	}
}

// Request describes one scan.
type Request struct {
	Keyword   string   `json:"keyword" validate:"required,max=100"`
	Countries []string `json:"countries,omitempty" validate:"max=30,dive,len=2"`
	// TrackID, when set, also reports where that app ranks per country.
	TrackID int64 `json:"track_id,omitempty"`
}

// CountryResult is the scored outcome for one storefront.
type CountryResult struct {
	Country         string                 `json:"country"`
	Popularity      int                    `json:"popularity"`
	Difficulty      int                    `json:"difficulty"`
	DifficultyLabel string                 `json:"difficulty_label"`
	Classification  aso.Classification     `json:"classification"`
	Opportunity     int                    `json:"opportunity"`
	CompetitorCount int                    `json:"competitor_count"`
	TopCompetitor   string                 `json:"top_competitor"`
	TopRatings      int64                  `json:"top_ratings"`
	AppRank         int                    `json:"app_rank,omitempty"`
	Analysis        aso.Report             `json:"analysis"`
	Competitors     []aso.CompetitorRecord `json:"competitors"`
}

// Failure records a storefront that could not be scored.
type Failure struct {
	Country string `json:"country"`
	Reason  string `json:"reason"`
}

// Report is the ranked outcome of a scan.
type Report struct {
	ID        string          `json:"id"`
	Keyword   string          `json:"keyword"`
	Requested int             `json:"requested"`
	Results   []CountryResult `json:"results"`
	Failures  []Failure       `json:"failures,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Best returns the highest ranked country.
func (r *Report) Best() (CountryResult, bool) {
	if r == nil || len(r.Results) == 0 {
		return CountryResult{}, false
	}
	return r.Results[0], true
}

// Scanner fans a keyword out over storefronts.
type Scanner struct {
	fetcher  Fetcher
	analyzer *aso.Analyzer
	cfg      Config
	log      *logger.Logger
	metrics  *metrics.Manager
	now      func() time.Time
}

// New creates a Scanner. analyzer, log and m may be nil.
func New(f Fetcher, analyzer *aso.Analyzer, cfg Config, log *logger.Logger, m *metrics.Manager) *Scanner {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CountryTimeout <= 0 {
		cfg.CountryTimeout = def.CountryTimeout
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = def.ResultLimit
	}
	if analyzer == nil {
		analyzer = aso.NewAnalyzer()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scanner{
		fetcher:  f,
		analyzer: analyzer,
		cfg:      cfg,
		log:      log.Named("scan"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Countries validates, lowercases and deduplicates codes, keeping the first
// occurrence order. An empty list yields DefaultCountries.
func Countries(codes []string) ([]string, error) {
	if len(codes) == 0 {
		return slices.Clone(DefaultCountries), nil
	}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		code, err := itunes.NormalizeCountry(c)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	out = lo.Uniq(out)
	if len(out) > MaxCountries {
		return nil, ErrTooManyCountries
	}
	return out, nil
}

// Scan scores req.Keyword in every requested storefront. Each storefront is
// fetched under its own timeout; a failed storefront is reported in
// Failures and never aborts the others.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Report, error) {
	keyword := aso.NormalizeKeyword(req.Keyword)
	if keyword == "" {
		return nil, ErrEmptyKeyword
	}
	countries, err := Countries(req.Countries)
	if err != nil {
		return nil, err
	}

	started := s.now()
	log := s.log.WithField("keyword", keyword)
	log.Infof("scanning %d countries", len(countries))

	// One slot per country, merged after the fan-out.
	type slot struct {
		res  *CountryResult
		fail *Failure
	}
	slots := make([]slot, len(countries))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, country := range countries {
		g.Go(func() error {
			res, err := s.scanCountry(ctx, keyword, country, req.TrackID, started)
			if err != nil {
				log.WithField("country", country).WithError(err).Warn("country scan failed")
				slots[i].fail = &Failure{Country: country, Reason: err.Error()}
				return nil
			}
			slots[i].res = res
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", keyword, err)
	}

	report := &Report{
		ID:        uuid.NewString(),
		Keyword:   keyword,
		Requested: len(countries),
		StartedAt: started,
	}
	for _, sl := range slots {
		switch {
		case sl.res != nil:
			report.Results = append(report.Results, *sl.res)
		case sl.fail != nil:
			report.Failures = append(report.Failures, *sl.fail)
		}
	}
	Rank(report.Results)
	slices.SortFunc(report.Failures, func(a, b Failure) int { return cmp.Compare(a.Country, b.Country) })
	report.Duration = time.Since(started)

	s.metrics.ObserveScan(report.Duration, len(report.Results), len(report.Failures))
	log.Infof("scan done: %d ok, %d failed", len(report.Results), len(report.Failures))
	return report, nil
}

func (s *Scanner) scanCountry(ctx context.Context, keyword, country string, trackID int64, asOf time.Time) (*CountryResult, error) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.CountryTimeout)
	defer cancel()

	competitors, err := s.fetcher.Search(cctx, keyword, country, s.cfg.ResultLimit)
	if err != nil {
		return nil, err
	}

	report := s.analyzer.Analyze(aso.ScoreInput{Keyword: keyword, Competitors: competitors, AsOf: asOf})
	s.metrics.Analysis(string(report.Classification))

	res := &CountryResult{
		Country:         country,
		Popularity:      report.Popularity.Score,
		Difficulty:      report.Difficulty.Score,
		DifficultyLabel: report.Difficulty.Label,
		Classification:  report.Classification,
		Opportunity:     report.Opportunity,
		CompetitorCount: len(competitors),
		TopCompetitor:   "-",
		Analysis:        report,
		Competitors:     competitors,
	}
	if len(competitors) > 0 {
		res.TopCompetitor = competitors[0].Title
		res.TopRatings = competitors[0].RatingCount
	}

	if rf, ok := s.fetcher.(RankFinder); ok && trackID > 0 {
		rank, err := rf.FindAppRank(cctx, keyword, trackID, country)
		if err != nil {
			return nil, fmt.Errorf("find app rank: %w", err)
		}
		res.AppRank = rank
	}
	return res, nil
}

// Rank orders results by opportunity, highest first, ties broken by
// country code.
func Rank(results []CountryResult) {
	slices.SortStableFunc(results, func(a, b CountryResult) int {
		if c := cmp.Compare(b.Opportunity, a.Opportunity); c != 0 {
			return c
		}
		return cmp.Compare(a.Country, b.Country)
	})
}
