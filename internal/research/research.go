// Package research runs keyword research requests end to end: fetch
// competitors, score them, record the result in history and compare it with
// the previous day.
package research

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/respectlytics/respectaso/internal/store"
	"github.com/respectlytics/respectaso/pkg/aso"
	"github.com/respectlytics/respectaso/pkg/itunes"
	"github.com/respectlytics/respectaso/pkg/logger"
	"github.com/respectlytics/respectaso/pkg/metrics"
	"github.com/respectlytics/respectaso/pkg/scan"
	"github.com/respectlytics/respectaso/pkg/trend"
)

const (
	MaxKeywords  = 20
	MaxCountries = 5
)

var ErrNoKeywords = errors.New("no keywords provided")

// Searcher is the App Store API surface research needs.
type Searcher interface {
	scan.Fetcher
	scan.RankFinder
}

// Config tunes research runs.
type Config struct {
	// Concurrency bounds how many countries are researched at once.
	Concurrency int `yaml:"concurrency" validate:"gte=0,lte=5"`
	// CallDelay spaces consecutive API calls within one country.
	CallDelay time.Duration `yaml:"call_delay"`
}

// Request is a multi keyword, multi country research run.
type Request struct {
	Keywords  []string `json:"keywords" validate:"required,min=1,max=100,dive,max=200"`
	Countries []string `json:"countries" validate:"max=30,dive,len=2"`
	AppID     *int64   `json:"app_id,omitempty"`
	// Force re-runs pairs that already have a result today.
	Force bool `json:"force,omitempty"`
}

// Outcome is one researched keyword+country pair.
type Outcome struct {
	Keyword     string                 `json:"keyword"`
	KeywordID   int64                  `json:"keyword_id"`
	Country     string                 `json:"country"`
	ResultID    int64                  `json:"result_id"`
	AppName     string                 `json:"app_name,omitempty"`
	AppRank     *int                   `json:"app_rank,omitempty"`
	Analysis    aso.Report             `json:"analysis"`
	Competitors []aso.CompetitorRecord `json:"competitors"`
	Movement    *trend.Movement        `json:"movement,omitempty"`
	SearchedAt  time.Time              `json:"searched_at"`
}

// CountryScore is a keyword's standing in one country.
type CountryScore struct {
	Popularity  int `json:"popularity"`
	Difficulty  int `json:"difficulty"`
	Opportunity int `json:"opportunity"`
}

// Ranking compares one keyword across the researched countries.
type Ranking struct {
	Keyword     string                  `json:"keyword"`
	Countries   map[string]CountryScore `json:"countries"`
	BestCountry string                  `json:"best_country"`
	BestScore   int                     `json:"best_score"`
}

// Response is the outcome of a research run.
type Response struct {
	Countries []string       `json:"countries"`
	Results   []Outcome      `json:"results"`
	Ranking   []Ranking      `json:"opportunity_ranking,omitempty"`
	Skipped   []string       `json:"skipped,omitempty"`
	Failures  []scan.Failure `json:"failures,omitempty"`
}

// ByCountry groups results by country code.
func (r *Response) ByCountry() map[string][]Outcome {
	return lo.GroupBy(r.Results, func(o Outcome) string { return o.Country })
}

// Service runs research against the API and history store.
type Service struct {
	store    store.Store
	client   Searcher
	analyzer *aso.Analyzer
	scanner  *scan.Scanner
	trends   *trend.Engine
	cfg      Config
	log      *logger.Logger
	metrics  *metrics.Manager
	now      func() time.Time
}

// New creates a research service.
func New(st store.Store, client Searcher, analyzer *aso.Analyzer, scanner *scan.Scanner, trends *trend.Engine, cfg Config, log *logger.Logger, m *metrics.Manager) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if analyzer == nil {
		analyzer = aso.NewAnalyzer()
	}
	if log == nil {
		log = logger.Nop()
	}
	if trends == nil {
		trends = trend.NewEngine(st, trend.DefaultThresholds())
	}
	return &Service{
		store:    st,
		client:   client,
		analyzer: analyzer,
		scanner:  scanner,
		trends:   trends,
		cfg:      cfg,
		log:      log.Named("research"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ParseKeywords splits comma separated entries, drops blanks and
// duplicates, and keeps at most MaxKeywords.
func ParseKeywords(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, kw := range strings.Split(entry, ",") {
			if kw = aso.NormalizeKeyword(kw); kw != "" {
				out = append(out, kw)
			}
		}
	}
	out = lo.Uniq(out)
	if len(out) > MaxKeywords {
		out = out[:MaxKeywords]
	}
	return out
}

// ParseCountries validates codes and keeps at most MaxCountries. An empty
// list means the US store.
func ParseCountries(raw []string) ([]string, error) {
	var codes []string
	for _, entry := range raw {
		for _, c := range strings.Split(entry, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codes = append(codes, c)
			}
		}
	}
	if len(codes) == 0 {
		return []string{"us"}, nil
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
		out = out[:MaxCountries]
	}
	return out, nil
}

type job struct {
	keyword *store.Keyword
	created bool
}

// Research scores every keyword in every country and records the results.
// Pairs that already have a result today are skipped unless req.Force is
// set. A failing pair is reported and does not stop the run.
func (s *Service) Research(ctx context.Context, req Request) (*Response, error) {
	keywords := ParseKeywords(req.Keywords)
	if len(keywords) == 0 {
		return nil, ErrNoKeywords
	}
	countries, err := ParseCountries(req.Countries)
	if err != nil {
		return nil, err
	}

	var app *store.App
	if req.AppID != nil {
		app, err = s.store.GetApp(ctx, *req.AppID)
		if err != nil {
			return nil, fmt.Errorf("load app: %w", err)
		}
	}

	// Keywords are created up front so concurrent countries share rows.
	jobs := make([]job, 0, len(keywords))
	for _, kw := range keywords {
		row, created, err := s.store.EnsureKeyword(ctx, kw, req.AppID)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job{keyword: row, created: created})
	}

	resp := &Response{Countries: countries}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, country := range countries {
		g.Go(func() error {
			calls := 0
			for _, j := range jobs {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if !req.Force && !j.created {
					done, err := s.store.HasResultOn(ctx, j.keyword.ID, country, s.now())
					if err != nil {
						return err
					}
					if done {
						mu.Lock()
						resp.Skipped = append(resp.Skipped, fmt.Sprintf("%s (%s)", j.keyword.Keyword, strings.ToUpper(country)))
						mu.Unlock()
						continue
					}
				}

				if calls > 0 && s.cfg.CallDelay > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(s.cfg.CallDelay):
					}
				}
				calls++

				out, err := s.run(ctx, j.keyword, app, country)
				mu.Lock()
				if err != nil {
					resp.Failures = append(resp.Failures, scan.Failure{
						Country: country,
						Reason:  fmt.Sprintf("%s: %v", j.keyword.Keyword, err),
					})
				} else {
					resp.Results = append(resp.Results, *out)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("research: %w", err)
	}

	order := make(map[string]int, len(keywords))
	for i, kw := range keywords {
		order[kw] = i
	}
	slices.SortFunc(resp.Results, func(a, b Outcome) int {
		if c := cmp.Compare(slices.Index(countries, a.Country), slices.Index(countries, b.Country)); c != 0 {
			return c
		}
		return cmp.Compare(order[a.Keyword], order[b.Keyword])
	})
	slices.Sort(resp.Skipped)
	slices.SortFunc(resp.Failures, func(a, b scan.Failure) int {
		return cmp.Or(cmp.Compare(a.Country, b.Country), cmp.Compare(a.Reason, b.Reason))
	})
	if len(countries) > 1 {
		resp.Ranking = BuildRanking(resp.Results)
	}
	return resp, nil
}

// BuildRanking finds, for each keyword, the country with the best
// opportunity. Rankings are ordered by that best score, highest first.
func BuildRanking(results []Outcome) []Ranking {
	byKeyword := make(map[string]*Ranking)
	var order []string
	for _, o := range results {
		r, ok := byKeyword[o.Keyword]
		if !ok {
			r = &Ranking{Keyword: o.Keyword, Countries: map[string]CountryScore{}, BestScore: -1}
			byKeyword[o.Keyword] = r
			order = append(order, o.Keyword)
		}
		score := CountryScore{
			Popularity:  o.Analysis.Popularity.Score,
			Difficulty:  o.Analysis.Difficulty.Score,
			Opportunity: o.Analysis.Opportunity,
		}
		r.Countries[o.Country] = score
		if score.Opportunity > r.BestScore || (score.Opportunity == r.BestScore && o.Country < r.BestCountry) {
			r.BestCountry, r.BestScore = o.Country, score.Opportunity
		}
	}

	out := make([]Ranking, 0, len(order))
	for _, kw := range order {
		out = append(out, *byKeyword[kw])
	}
	slices.SortStableFunc(out, func(a, b Ranking) int { return cmp.Compare(b.BestScore, a.BestScore) })
	return out
}

// run fetches, scores and stores one pair.
func (s *Service) run(ctx context.Context, kw *store.Keyword, app *store.App, country string) (*Outcome, error) {
	now := s.now()
	competitors, err := s.client.Search(ctx, kw.Keyword, country, 0)
	if err != nil {
		return nil, err
	}
	report := s.analyzer.Analyze(aso.ScoreInput{Keyword: kw.Keyword, Competitors: competitors, AsOf: now})
	s.metrics.Analysis(string(report.Classification))

	var rank *int
	if app != nil && app.TrackID != nil {
		r, err := s.client.FindAppRank(ctx, kw.Keyword, *app.TrackID, country)
		if err != nil {
			return nil, fmt.Errorf("find app rank: %w", err)
		}
		if r > 0 {
			rank = &r
		}
	}

	res := &store.Result{
		KeywordID:       kw.ID,
		Keyword:         kw.Keyword,
		Country:         country,
		Popularity:      report.Popularity.Score,
		Difficulty:      report.Difficulty.Score,
		DifficultyLabel: report.Difficulty.Label,
		Classification:  string(report.Classification),
		Opportunity:     report.Opportunity,
		AppRank:         rank,
		SearchedAt:      now,
		Analysis:        &report,
		Competitors:     competitors,
	}
	if err := s.store.SaveResult(ctx, res); err != nil {
		return nil, err
	}

	movement, err := s.trends.Movement(ctx, *res)
	if err != nil {
		s.log.WithError(err).Warn("trend comparison failed")
	}

	out := &Outcome{
		Keyword:     kw.Keyword,
		KeywordID:   kw.ID,
		Country:     country,
		ResultID:    res.ID,
		AppRank:     rank,
		Analysis:    report,
		Competitors: competitors,
		Movement:    movement,
		SearchedAt:  now,
	}
	if app != nil {
		out.AppName = app.Name
	}
	return out, nil
}

// Refresh re-runs one stored keyword in country, replacing today's result.
func (s *Service) Refresh(ctx context.Context, keywordID int64, country string) (*Outcome, error) {
	country, err := itunes.NormalizeCountry(country)
	if err != nil {
		return nil, err
	}
	kw, err := s.store.GetKeyword(ctx, keywordID)
	if err != nil {
		return nil, err
	}
	var app *store.App
	if kw.AppID != nil {
		app, err = s.store.GetApp(ctx, *kw.AppID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return s.run(ctx, kw, app, country)
}

// RefreshPair re-runs a stored keyword+country pair.
func (s *Service) RefreshPair(ctx context.Context, p store.Pair) (*Outcome, error) {
	return s.Refresh(ctx, p.KeywordID, p.Country)
}

// Opportunity scans a keyword across storefronts. When appID is set the
// app's rank in every storefront is included.
func (s *Service) Opportunity(ctx context.Context, req scan.Request, appID *int64) (*scan.Report, error) {
	if s.scanner == nil {
		return nil, errors.New("opportunity scanner not configured")
	}
	if appID != nil {
		app, err := s.store.GetApp(ctx, *appID)
		if err != nil {
			return nil, fmt.Errorf("load app: %w", err)
		}
		if app.TrackID != nil {
			req.TrackID = *app.TrackID
		}
	}
	return s.scanner.Scan(ctx, req)
}

// SaveOpportunity stores the selected countries of a scan in history. An
// empty selection stores every scored country.
func (s *Service) SaveOpportunity(ctx context.Context, report *scan.Report, appID *int64, countries []string) (int, error) {
	if report == nil || len(report.Results) == 0 {
		return 0, errors.New("nothing to save")
	}
	kw, _, err := s.store.EnsureKeyword(ctx, report.Keyword, appID)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, r := range report.Results {
		if len(countries) > 0 && !slices.Contains(countries, r.Country) {
			continue
		}
		analysis := r.Analysis
		res := &store.Result{
			KeywordID:       kw.ID,
			Country:         r.Country,
			Popularity:      r.Popularity,
			Difficulty:      r.Difficulty,
			DifficultyLabel: r.DifficultyLabel,
			Classification:  string(r.Classification),
			Opportunity:     r.Opportunity,
			SearchedAt:      s.now(),
			Analysis:        &analysis,
			Competitors:     r.Competitors,
		}
		if r.AppRank > 0 {
			rank := r.AppRank
			res.AppRank = &rank
		}
		if err := s.store.SaveResult(ctx, res); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
