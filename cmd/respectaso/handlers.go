package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/respectlytics/respectaso/internal/config"
	"github.com/respectlytics/respectaso/internal/research"
	"github.com/respectlytics/respectaso/internal/scheduler"
	"github.com/respectlytics/respectaso/internal/store"
	"github.com/respectlytics/respectaso/pkg/alert"
	"github.com/respectlytics/respectaso/pkg/aso"
	"github.com/respectlytics/respectaso/pkg/itunes"
	"github.com/respectlytics/respectaso/pkg/logger"
	"github.com/respectlytics/respectaso/pkg/metrics"
	"github.com/respectlytics/respectaso/pkg/scan"
	"github.com/respectlytics/respectaso/pkg/server"
	"github.com/respectlytics/respectaso/pkg/trend"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app bundles the services every command builds from config.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Manager
	db       *store.SQLiteStore
	client   *itunes.Client
	trends   *trend.Engine
	research *research.Service
}

func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log)
	m := metrics.New()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := itunes.New(cfg.ITunes, log, m)
	analyzer := aso.NewAnalyzer(cfg.Scoring.AnalyzerOptions()...)
	trends := trend.NewEngine(db, cfg.Alerts.Thresholds)
	scanner := scan.New(client, analyzer, cfg.Scan, log, m)

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		db:       db,
		client:   client,
		trends:   trends,
		research: research.New(db, client, analyzer, scanner, trends, cfg.Research, log, m),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

type searchOptions struct {
	countries  []string
	appID      int64
	force      bool
	jsonOutput bool
}

func runSearch(ctx context.Context, keywords []string, opts searchOptions) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.research.Research(ctx, research.Request{
		Keywords:  keywords,
		Countries: opts.countries,
		AppID:     optionalID(opts.appID),
		Force:     opts.force,
	})
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return printJSON(resp)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEYWORD\tCOUNTRY\tPOP\tDIFF\tLABEL\tCLASS\tOPP\tRANK\tDAILY DL (TOP 5)")
	for _, o := range resp.Results {
		rank := "-"
		if o.AppRank != nil {
			rank = fmt.Sprintf("#%d", *o.AppRank)
		}
		daily := "-"
		if tiers := o.Analysis.Downloads.Tiers; len(tiers) > 0 {
			daily = fmt.Sprintf("%.0f-%.0f", tiers[0].Conservative, tiers[0].Optimistic)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%d\t%s\t%s\n",
			o.Keyword, strings.ToUpper(o.Country),
			o.Analysis.Popularity.Score, o.Analysis.Difficulty.Score, o.Analysis.Difficulty.Label,
			o.Analysis.Classification, o.Analysis.Opportunity, rank, daily)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(resp.Ranking) > 0 {
		fmt.Println("\nbest storefront per keyword:")
		for _, r := range resp.Ranking {
			fmt.Printf("  %s: %s (%d)\n", r.Keyword, strings.ToUpper(r.BestCountry), r.BestScore)
		}
	}
	for _, o := range resp.Results {
		if o.Movement != nil {
			fmt.Printf("  %s\n", o.Movement.Summary())
		}
	}
	if len(resp.Skipped) > 0 {
		fmt.Fprintf(os.Stderr, "skipped (already searched today, use --force): %s\n", strings.Join(resp.Skipped, ", "))
	}
	for _, f := range resp.Failures {
		fmt.Fprintf(os.Stderr, "failed %s: %s\n", strings.ToUpper(f.Country), f.Reason)
	}
	return nil
}

type opportunityOptions struct {
	countries  []string
	appID      int64
	save       bool
	jsonOutput bool
}

func runOpportunity(ctx context.Context, keyword string, opts opportunityOptions) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	appID := optionalID(opts.appID)
	report, err := a.research.Opportunity(ctx, scan.Request{Keyword: keyword, Countries: opts.countries}, appID)
	if err != nil {
		return err
	}
	if opts.save {
		saved, err := a.research.SaveOpportunity(ctx, report, appID, nil)
		if err != nil {
			return fmt.Errorf("save results: %w", err)
		}
		fmt.Fprintf(os.Stderr, "saved %d countries to history\n", saved)
	}
	if opts.jsonOutput {
		return printJSON(report)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tCOUNTRY\tOPP\tPOP\tDIFF\tCLASS\tTOP COMPETITOR\tRATINGS\tRANK")
	for i, r := range report.Results {
		rank := "-"
		if r.AppRank > 0 {
			rank = fmt.Sprintf("#%d", r.AppRank)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\t%d\t%s\n",
			i+1, strings.ToUpper(r.Country), r.Opportunity, r.Popularity, r.Difficulty,
			r.Classification, r.TopCompetitor, r.TopRatings, rank)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, f := range report.Failures {
		fmt.Fprintf(os.Stderr, "failed %s: %s\n", strings.ToUpper(f.Country), f.Reason)
	}
	fmt.Fprintf(os.Stderr, "scanned %d countries in %s\n", report.Requested, report.Duration.Round(time.Millisecond))
	return nil
}

type historyOptions struct {
	appID      int64
	country    string
	limit      int
	jsonOutput bool
}

func runHistory(ctx context.Context, opts historyOptions) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.db.LatestResults(ctx, store.ResultFilter{
		AppID:   optionalID(opts.appID),
		Country: opts.country,
		Limit:   opts.limit,
	})
	if err != nil {
		return fmt.Errorf("list history: %w", err)
	}
	if opts.jsonOutput {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("no history yet (try: respectaso search <keyword>)")
		return nil
	}

	movements, err := a.trends.Detect(ctx, results)
	if err != nil {
		return err
	}
	moved := make(map[int64]trend.Movement, len(movements))
	for _, m := range movements {
		moved[m.ResultID] = m
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEYWORD\tAPP\tCOUNTRY\tPOP\tDIFF\tCLASS\tRANK\tDATE\tCHANGE")
	for _, r := range results {
		rank := "-"
		if r.AppRank != nil {
			rank = fmt.Sprintf("#%d", *r.AppRank)
		}
		change := ""
		if m, ok := moved[r.ID]; ok {
			change = fmt.Sprintf("pop %+d, diff %+d", m.PopularityDelta, m.DifficultyDelta)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Keyword, r.AppName, strings.ToUpper(r.Country),
			r.Popularity, r.Difficulty, r.Classification, rank, r.SearchDate, change)
	}
	return w.Flush()
}

type chartOptions struct {
	kind       string
	country    string
	limit      int
	jsonOutput bool
}

func runCharts(ctx context.Context, opts chartOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	client := itunes.New(cfg.ITunes, logger.New(cfg.Log), nil)

	entries, err := client.TopChart(ctx, itunes.ChartKind(opts.kind), opts.country, opts.limit)
	if err != nil {
		return err
	}
	if opts.jsonOutput {
		return printJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tAPP\tDEVELOPER\tCATEGORY\tPRICE\tID")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", e.Rank, e.Name, e.Artist, e.Category, e.Price, e.TrackID)
	}
	return w.Flush()
}

// runServe starts the API. With daemon set it also runs the refresh
// scheduler until the process is signalled.
func runServe(ctx context.Context, port int, daemon bool) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	deps := server.Deps{
		Store:    a.db,
		Research: a.research,
		Trends:   a.trends,
		Catalog:  a.client,
		Metrics:  a.metrics,
		Log:      a.log,
	}

	g, ctx := errgroup.WithContext(ctx)
	if daemon && a.cfg.Schedule.Enabled {
		sched := scheduler.New(a.db, a.research, buildAlertManager(a.cfg), a.cfg.Alerts.Thresholds,
			scheduler.Config{
				Cron:         a.cfg.Schedule.Cron,
				RunOnStart:   a.cfg.Schedule.RunOnStart,
				RequestDelay: a.cfg.Schedule.RequestDelay,
				Retention:    a.cfg.Retention,
			}, a.log, a.metrics)
		deps.Status = sched

		g.Go(func() error {
			if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("scheduler: %w", err)
			}
			return nil
		})
	}

	srv := server.New(deps, port)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})

	err = g.Wait()
	a.log.Info("shut down")
	return err
}
