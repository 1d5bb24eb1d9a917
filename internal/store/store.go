package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/respectlytics/respectaso/pkg/aso"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// DateLayout is the calendar-day key results are bucketed by.
const DateLayout = "2006-01-02"

// App is a tracked App Store app keywords can be grouped under.
type App struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name" validate:"required,max=200"`
	BundleID     string    `db:"bundle_id" json:"bundle_id,omitempty" validate:"max=200"`
	TrackID      *int64    `db:"track_id" json:"track_id,omitempty"`
	StoreURL     string    `db:"store_url" json:"store_url,omitempty" validate:"omitempty,url"`
	IconURL      string    `db:"icon_url" json:"icon_url,omitempty" validate:"omitempty,url"`
	SellerName   string    `db:"seller_name" json:"seller_name,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	KeywordCount int       `db:"keyword_count" json:"keyword_count"`
}

// Keyword is a researched term, optionally tied to an app.
type Keyword struct {
	ID        int64     `db:"id" json:"id"`
	Keyword   string    `db:"keyword" json:"keyword"`
	AppID     *int64    `db:"app_id" json:"app_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Result is one scored keyword+country search. At most one exists per pair
// per calendar day.
type Result struct {
	ID              int64                  `db:"id" json:"id"`
	KeywordID       int64                  `db:"keyword_id" json:"keyword_id"`
	Keyword         string                 `db:"keyword" json:"keyword"`
	AppID           *int64                 `db:"app_id" json:"app_id,omitempty"`
	AppName         string                 `db:"app_name" json:"app_name,omitempty"`
	Country         string                 `db:"country" json:"country"`
	Popularity      int                    `db:"popularity" json:"popularity"`
	Difficulty      int                    `db:"difficulty" json:"difficulty"`
	DifficultyLabel string                 `db:"difficulty_label" json:"difficulty_label"`
	Classification  string                 `db:"classification" json:"classification"`
	Opportunity     int                    `db:"opportunity" json:"opportunity"`
	AppRank         *int                   `db:"app_rank" json:"app_rank,omitempty"`
	CompetitorCount int                    `db:"competitor_count" json:"competitor_count"`
	BreakdownJSON   string                 `db:"breakdown" json:"-"`
	CompetitorsJSON string                 `db:"competitors" json:"-"`
	SearchDate      string                 `db:"search_date" json:"search_date"`
	SearchedAt      time.Time              `db:"searched_at" json:"searched_at"`
	Analysis        *aso.Report            `db:"-" json:"analysis,omitempty"`
	Competitors     []aso.CompetitorRecord `db:"-" json:"competitors,omitempty"`
}

// Pair identifies a keyword+country series.
type Pair struct {
	KeywordID   int64  `db:"keyword_id" json:"keyword_id"`
	Keyword     string `db:"keyword" json:"keyword"`
	Country     string `db:"country" json:"country"`
	AppTrackID  *int64 `db:"track_id" json:"app_track_id,omitempty"`
	LastSearch  string `db:"last_date" json:"last_date"`
}

// TrendPoint is one day of a keyword+country series.
type TrendPoint struct {
	SearchDate string `db:"search_date" json:"date"`
	Popularity int    `db:"popularity" json:"popularity"`
	Difficulty int    `db:"difficulty" json:"difficulty"`
	AppRank    *int   `db:"app_rank" json:"app_rank,omitempty"`
}

// ResultFilter narrows result listings.
type ResultFilter struct {
	AppID *int64
	// NoApp selects keywords without an app; ignored when AppID is set.
	NoApp   bool
	Country string
	Limit   int
	// Full loads the analysis and competitor payloads.
	Full bool
}

// Store is the persistence interface.
type Store interface {
	CreateApp(ctx context.Context, app *App) error
	GetApp(ctx context.Context, id int64) (*App, error)
	ListApps(ctx context.Context) ([]App, error)
	DeleteApp(ctx context.Context, id int64) error

	EnsureKeyword(ctx context.Context, keyword string, appID *int64) (*Keyword, bool, error)
	GetKeyword(ctx context.Context, id int64) (*Keyword, error)
	DeleteKeyword(ctx context.Context, id int64) error
	DeleteKeywords(ctx context.Context, appID *int64) (int64, error)

	SaveResult(ctx context.Context, r *Result) error
	GetResult(ctx context.Context, id int64) (*Result, error)
	DeleteResult(ctx context.Context, id int64) error
	HasResultOn(ctx context.Context, keywordID int64, country string, day time.Time) (bool, error)
	PreviousResult(ctx context.Context, keywordID int64, country, beforeDate string) (*Result, error)
	LatestResults(ctx context.Context, f ResultFilter) ([]Result, error)
	ListResults(ctx context.Context, f ResultFilter) ([]Result, error)
	KeywordTrend(ctx context.Context, keywordID int64, country string) ([]TrendPoint, error)
	Countries(ctx context.Context) ([]string, error)

	StalePairs(ctx context.Context, day time.Time) ([]Pair, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func dayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s %d: %w", what, id, err)
}

func (s *SQLiteStore) CreateApp(ctx context.Context, app *App) error {
	if app.TrackID != nil {
		var n int
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM apps WHERE track_id = ?", *app.TrackID); err != nil {
			return fmt.Errorf("check app %d: %w", *app.TrackID, err)
		}
		if n > 0 {
			return fmt.Errorf("app %d: %w", *app.TrackID, ErrDuplicate)
		}
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO apps (name, bundle_id, track_id, store_url, icon_url, seller_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, app.Name, app.BundleID, app.TrackID, app.StoreURL, app.IconURL, app.SellerName, app.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert app %s: %w", app.Name, err)
	}
	app.ID, _ = res.LastInsertId()
	return nil
}

const appColumns = `a.id, a.name, a.bundle_id, a.track_id, a.store_url, a.icon_url, a.seller_name, a.created_at,
	(SELECT COUNT(*) FROM keywords k WHERE k.app_id = a.id) AS keyword_count`

func (s *SQLiteStore) GetApp(ctx context.Context, id int64) (*App, error) {
	var app App
	err := s.db.GetContext(ctx, &app, "SELECT "+appColumns+" FROM apps a WHERE a.id = ?", id)
	if err != nil {
		return nil, notFound(err, "app", id)
	}
	return &app, nil
}

func (s *SQLiteStore) ListApps(ctx context.Context) ([]App, error) {
	var apps []App
	if err := s.db.SelectContext(ctx, &apps, "SELECT "+appColumns+" FROM apps a ORDER BY a.name"); err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	return apps, nil
}

// DeleteApp removes an app. Its keywords and their history are kept and
// become unassigned.
func (s *SQLiteStore) DeleteApp(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM apps WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete app %d: %w", id, err)
	}
	return affected(res, "app", id)
}

func affected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

// EnsureKeyword returns the keyword row for text under appID, creating it
// when missing. created reports whether a new row was inserted.
func (s *SQLiteStore) EnsureKeyword(ctx context.Context, text string, appID *int64) (*Keyword, bool, error) {
	text = aso.NormalizeKeyword(text)
	if text == "" {
		return nil, false, errors.New("ensure keyword: empty keyword")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var kw Keyword
	err = tx.GetContext(ctx, &kw,
		"SELECT id, keyword, app_id, created_at FROM keywords WHERE keyword = ? AND app_id IS ? ORDER BY id LIMIT 1",
		text, appID)
	if err == nil {
		return &kw, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get keyword %q: %w", text, err)
	}

	kw = Keyword{Keyword: text, AppID: appID, CreatedAt: time.Now().UTC()}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO keywords (keyword, app_id, created_at) VALUES (?, ?, ?)",
		kw.Keyword, kw.AppID, kw.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert keyword %q: %w", text, err)
	}
	kw.ID, _ = res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit keyword %q: %w", text, err)
	}
	return &kw, true, nil
}

func (s *SQLiteStore) GetKeyword(ctx context.Context, id int64) (*Keyword, error) {
	var kw Keyword
	err := s.db.GetContext(ctx, &kw, "SELECT id, keyword, app_id, created_at FROM keywords WHERE id = ?", id)
	if err != nil {
		return nil, notFound(err, "keyword", id)
	}
	return &kw, nil
}

// DeleteKeyword removes a keyword and all of its results.
func (s *SQLiteStore) DeleteKeyword(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM keywords WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete keyword %d: %w", id, err)
	}
	return affected(res, "keyword", id)
}

// DeleteKeywords removes every keyword of an app, or every keyword at all
// when appID is nil.
func (s *SQLiteStore) DeleteKeywords(ctx context.Context, appID *int64) (int64, error) {
	query, args := "DELETE FROM keywords", []any{}
	if appID != nil {
		query += " WHERE app_id = ?"
		args = append(args, *appID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete keywords: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SaveResult inserts r, or replaces the result already stored for the same
// keyword, country and day. r.ID is set to the stored row.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *Result) error {
	if r.SearchedAt.IsZero() {
		r.SearchedAt = time.Now().UTC()
	}
	r.SearchedAt = r.SearchedAt.UTC()
	r.SearchDate = dayKey(r.SearchedAt)
	r.Country = strings.ToLower(r.Country)

	if r.Analysis != nil {
		b, err := json.Marshal(r.Analysis)
		if err != nil {
			return fmt.Errorf("encode analysis: %w", err)
		}
		r.BreakdownJSON = string(b)
	}
	if r.BreakdownJSON == "" {
		r.BreakdownJSON = "{}"
	}
	competitors, err := json.Marshal(r.Competitors)
	if err != nil {
		return fmt.Errorf("encode competitors: %w", err)
	}
	if r.Competitors == nil {
		competitors = []byte("[]")
	}
	r.CompetitorsJSON = string(competitors)
	if r.CompetitorCount == 0 {
		r.CompetitorCount = len(r.Competitors)
	}

	err = s.db.GetContext(ctx, &r.ID, `
		INSERT INTO search_results (keyword_id, country, popularity, difficulty, difficulty_label,
			classification, opportunity, app_rank, competitor_count, breakdown, competitors,
			search_date, searched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(keyword_id, country, search_date) DO UPDATE SET
			popularity = excluded.popularity,
			difficulty = excluded.difficulty,
			difficulty_label = excluded.difficulty_label,
			classification = excluded.classification,
			opportunity = excluded.opportunity,
			app_rank = excluded.app_rank,
			competitor_count = excluded.competitor_count,
			breakdown = excluded.breakdown,
			competitors = excluded.competitors,
			searched_at = excluded.searched_at
		RETURNING id
	`, r.KeywordID, r.Country, r.Popularity, r.Difficulty, r.DifficultyLabel,
		r.Classification, r.Opportunity, r.AppRank, r.CompetitorCount, r.BreakdownJSON,
		r.CompetitorsJSON, r.SearchDate, r.SearchedAt)
	if err != nil {
		return fmt.Errorf("save result %d/%s: %w", r.KeywordID, r.Country, err)
	}
	return nil
}

const resultColumns = `r.id, r.keyword_id, k.keyword, k.app_id, COALESCE(a.name, '') AS app_name,
	r.country, r.popularity, r.difficulty, r.difficulty_label, r.classification, r.opportunity,
	r.app_rank, r.competitor_count, r.search_date, r.searched_at`

const resultJoins = ` FROM search_results r
	JOIN keywords k ON k.id = r.keyword_id
	LEFT JOIN apps a ON a.id = k.app_id`

func (s *SQLiteStore) GetResult(ctx context.Context, id int64) (*Result, error) {
	var r Result
	err := s.db.GetContext(ctx, &r,
		"SELECT "+resultColumns+", r.breakdown, r.competitors"+resultJoins+" WHERE r.id = ?", id)
	if err != nil {
		return nil, notFound(err, "result", id)
	}
	decodeResult(&r)
	return &r, nil
}

func decodeResult(r *Result) {
	if r.BreakdownJSON != "" && r.BreakdownJSON != "{}" {
		var rep aso.Report
		if json.Unmarshal([]byte(r.BreakdownJSON), &rep) == nil {
			r.Analysis = &rep
		}
	}
	if r.CompetitorsJSON != "" {
		json.Unmarshal([]byte(r.CompetitorsJSON), &r.Competitors)
	}
}

// DeleteResult removes one result, and its keyword when no other results
// remain for it.
func (s *SQLiteStore) DeleteResult(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var keywordID int64
	if err := tx.GetContext(ctx, &keywordID, "SELECT keyword_id FROM search_results WHERE id = ?", id); err != nil {
		return notFound(err, "result", id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM search_results WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete result %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM keywords WHERE id = ?
		AND NOT EXISTS (SELECT 1 FROM search_results WHERE keyword_id = ?)
	`, keywordID, keywordID); err != nil {
		return fmt.Errorf("delete orphan keyword %d: %w", keywordID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) HasResultOn(ctx context.Context, keywordID int64, country string, day time.Time) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM search_results WHERE keyword_id = ? AND country = ? AND search_date = ?",
		keywordID, strings.ToLower(country), dayKey(day))
	if err != nil {
		return false, fmt.Errorf("check result %d/%s: %w", keywordID, country, err)
	}
	return n > 0, nil
}

// PreviousResult returns the most recent result of the pair stored for a
// day before beforeDate.
func (s *SQLiteStore) PreviousResult(ctx context.Context, keywordID int64, country, beforeDate string) (*Result, error) {
	var r Result
	err := s.db.GetContext(ctx, &r, "SELECT "+resultColumns+resultJoins+`
		WHERE r.keyword_id = ? AND r.country = ? AND r.search_date < ?
		ORDER BY r.search_date DESC LIMIT 1
	`, keywordID, strings.ToLower(country), beforeDate)
	if err != nil {
		return nil, notFound(err, "previous result for keyword", keywordID)
	}
	return &r, nil
}

func (f ResultFilter) where(query string, args []any) (string, []any) {
	if f.AppID != nil {
		query += " AND k.app_id = ?"
		args = append(args, *f.AppID)
	} else if f.NoApp {
		query += " AND k.app_id IS NULL"
	}
	if f.Country != "" {
		query += " AND r.country = ?"
		args = append(args, strings.ToLower(f.Country))
	}
	return query, args
}

func (s *SQLiteStore) selectResults(ctx context.Context, query string, args []any, f ResultFilter) ([]Result, error) {
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	var results []Result
	if err := s.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, err
	}
	if f.Full {
		for i := range results {
			decodeResult(&results[i])
		}
	}
	return results, nil
}

func columns(f ResultFilter) string {
	if f.Full {
		return resultColumns + ", r.breakdown, r.competitors"
	}
	return resultColumns
}

// LatestResults lists the newest result of every keyword+country pair,
// newest first.
func (s *SQLiteStore) LatestResults(ctx context.Context, f ResultFilter) ([]Result, error) {
	query := "SELECT " + columns(f) + resultJoins + ` WHERE r.search_date = (
		SELECT MAX(r2.search_date) FROM search_results r2
		WHERE r2.keyword_id = r.keyword_id AND r2.country = r.country)`
	query, args := f.where(query, nil)
	query += " ORDER BY r.searched_at DESC, r.id DESC"

	results, err := s.selectResults(ctx, query, args, f)
	if err != nil {
		return nil, fmt.Errorf("list latest results: %w", err)
	}
	return results, nil
}

// ListResults lists every stored result, newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, f ResultFilter) ([]Result, error) {
	query, args := f.where("SELECT "+columns(f)+resultJoins+" WHERE 1=1", nil)
	query += " ORDER BY r.searched_at DESC, r.id DESC"

	results, err := s.selectResults(ctx, query, args, f)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

// KeywordTrend returns the daily series of a pair, oldest first.
func (s *SQLiteStore) KeywordTrend(ctx context.Context, keywordID int64, country string) ([]TrendPoint, error) {
	var points []TrendPoint
	err := s.db.SelectContext(ctx, &points, `
		SELECT search_date, popularity, difficulty, app_rank FROM search_results
		WHERE keyword_id = ? AND country = ?
		ORDER BY search_date
	`, keywordID, strings.ToLower(country))
	if err != nil {
		return nil, fmt.Errorf("keyword trend %d/%s: %w", keywordID, country, err)
	}
	return points, nil
}

// Countries lists every country that has results.
func (s *SQLiteStore) Countries(ctx context.Context) ([]string, error) {
	var countries []string
	if err := s.db.SelectContext(ctx, &countries,
		"SELECT DISTINCT country FROM search_results ORDER BY country"); err != nil {
		return nil, fmt.Errorf("list countries: %w", err)
	}
	return countries, nil
}

// StalePairs lists keyword+country pairs whose newest result is older than
// day.
func (s *SQLiteStore) StalePairs(ctx context.Context, day time.Time) ([]Pair, error) {
	var pairs []Pair
	err := s.db.SelectContext(ctx, &pairs, `
		SELECT r.keyword_id, k.keyword, r.country, a.track_id, MAX(r.search_date) AS last_date
		FROM search_results r
		JOIN keywords k ON k.id = r.keyword_id
		LEFT JOIN apps a ON a.id = k.app_id
		GROUP BY r.keyword_id, r.country
		HAVING MAX(r.search_date) < ?
		ORDER BY r.keyword_id, r.country
	`, dayKey(day))
	if err != nil {
		return nil, fmt.Errorf("list stale pairs: %w", err)
	}
	return pairs, nil
}

// PurgeOlderThan deletes results searched before cutoff.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM search_results WHERE search_date < ?", dayKey(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge results: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
