// Package itunes is a client for the public iTunes Search API and the App
// Store top-chart feeds.
package itunes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/respectlytics/respectaso/pkg/aso"
	"github.com/respectlytics/respectaso/pkg/logger"
	"github.com/respectlytics/respectaso/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultBaseURL = "https://itunes.apple.com"
	DefaultLimit   = 25
	// MaxLimit is the largest page the Search API returns.
	MaxLimit = 200

	descriptionMax = 200
)

var (
	ErrInvalidCountry = errors.New("invalid country code")
	ErrNotFound       = errors.New("app not found")
	ErrMalformed      = errors.New("malformed response")
)

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("itunes %s: unexpected status %d", e.Endpoint, e.StatusCode)
}

// Retryable reports whether the request may succeed if sent again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config configures the client.
type Config struct {
	BaseURL           string        `yaml:"base_url" env:"RESPECTASO_ITUNES_BASE_URL" validate:"omitempty,url"`
	Timeout           time.Duration `yaml:"timeout" env:"RESPECTASO_ITUNES_TIMEOUT"`
	RequestsPerMinute int           `yaml:"requests_per_minute" env:"RESPECTASO_ITUNES_RPM" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	CacheTTL          time.Duration `yaml:"cache_ttl" env:"RESPECTASO_ITUNES_CACHE_TTL"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	ResultLimit       int           `yaml:"result_limit" validate:"gte=0,lte=200"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           30 * time.Second,
		RequestsPerMinute: 20,
		Burst:             5,
		CacheTTL:          10 * time.Minute,
		MaxRetries:        2,
		RetryDelay:        time.Second,
		ResultLimit:       DefaultLimit,
	}
}

// Client talks to the iTunes Search API. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
	cache   *cache.Cache
	log     *logger.Logger
	metrics *metrics.Manager
}

// New creates a Client. log and m may be nil.
func New(cfg Config, log *logger.Logger, m *metrics.Manager) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = def.ResultLimit
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if log == nil {
		log = logger.Nop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), burst)
	}

	var c *cache.Cache
	if cfg.CacheTTL > 0 {
		c = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: limiter,
		cache:   c,
		log:     log.Named("itunes"),
		metrics: m,
	}
}

// NormalizeCountry lowercases a two-letter storefront code and rejects
// anything else.
func NormalizeCountry(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) != 2 || code[0] < 'a' || code[0] > 'z' || code[1] < 'a' || code[1] > 'z' {
		return "", fmt.Errorf("%w: %q", ErrInvalidCountry, code)
	}
	return code, nil
}

type searchResponse struct {
	ResultCount int         `json:"resultCount"`
	Results     []apiResult `json:"results"`
}

type apiResult struct {
	TrackID                   int64   `json:"trackId"`
	TrackName                 string  `json:"trackName"`
	ArtworkURL100             string  `json:"artworkUrl100"`
	AverageUserRating         float64 `json:"averageUserRating"`
	UserRatingCount           int64   `json:"userRatingCount"`
	ReleaseDate               string  `json:"releaseDate"`
	CurrentVersionReleaseDate string  `json:"currentVersionReleaseDate"`
	PrimaryGenreName          string  `json:"primaryGenreName"`
	FormattedPrice            string  `json:"formattedPrice"`
	Description               string  `json:"description"`
	SellerName                string  `json:"sellerName"`
	BundleID                  string  `json:"bundleId"`
	TrackViewURL              string  `json:"trackViewUrl"`
}

func (r apiResult) record(rank int) aso.CompetitorRecord {
	price := r.FormattedPrice
	if price == "" {
		price = "Free"
	}
	return aso.CompetitorRecord{
		TrackID:       r.TrackID,
		Title:         r.TrackName,
		AverageRating: r.AverageUserRating,
		RatingCount:   r.UserRatingCount,
		Genre:         r.PrimaryGenreName,
		ReleaseDate:   parseDate(r.ReleaseDate),
		UpdatedAt:     parseDate(r.CurrentVersionReleaseDate),
		Publisher:     r.SellerName,
		URL:           r.TrackViewURL,
		Rank:          rank,
		BundleID:      r.BundleID,
		IconURL:       r.ArtworkURL100,
		Price:         price,
		Description:   truncate(r.Description, descriptionMax),
	}
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// Search returns up to limit apps for keyword in API rank order. Ranks are
// 1-based. A limit of 0 uses the configured default.
func (c *Client) Search(ctx context.Context, keyword, country string, limit int) ([]aso.CompetitorRecord, error) {
	country, err := NormalizeCountry(country)
	if err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, errors.New("search: empty keyword")
	}
	if limit <= 0 {
		limit = c.cfg.ResultLimit
	}
	limit = min(limit, MaxLimit)

	key := fmt.Sprintf("search:%s:%d:%s", country, limit, strings.ToLower(keyword))
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			c.metrics.CacheHit()
			return slices.Clone(v.([]aso.CompetitorRecord)), nil
		}
	}

	params := url.Values{
		"term":    {keyword},
		"country": {country},
		"entity":  {"software"},
		"limit":   {strconv.Itoa(limit)},
	}
	var resp searchResponse
	if err := c.get(ctx, "search", params, &resp); err != nil {
		return nil, fmt.Errorf("search %q in %s: %w", keyword, country, err)
	}

	apps := make([]aso.CompetitorRecord, 0, len(resp.Results))
	for i, r := range resp.Results {
		apps = append(apps, r.record(i+1))
	}
	if c.cache != nil {
		c.cache.SetDefault(key, slices.Clone(apps))
	}
	return apps, nil
}

// Lookup fetches a single app by its track id.
func (c *Client) Lookup(ctx context.Context, trackID int64, country string) (*aso.CompetitorRecord, error) {
	country, err := NormalizeCountry(country)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"id":      {strconv.FormatInt(trackID, 10)},
		"country": {country},
	}
	var resp searchResponse
	if err := c.get(ctx, "lookup", params, &resp); err != nil {
		return nil, fmt.Errorf("lookup %d in %s: %w", trackID, country, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("lookup %d in %s: %w", trackID, country, ErrNotFound)
	}
	rec := resp.Results[0].record(0)
	return &rec, nil
}

// FindAppRank returns the 1-based position of trackID in the full result
// list for keyword, or 0 when it is not in the top MaxLimit.
func (c *Client) FindAppRank(ctx context.Context, keyword string, trackID int64, country string) (int, error) {
	apps, err := c.Search(ctx, keyword, country, MaxLimit)
	if err != nil {
		return 0, err
	}
	idx := slices.IndexFunc(apps, func(a aso.CompetitorRecord) bool { return a.TrackID == trackID })
	return idx + 1, nil
}

// get performs a rate limited GET with retry on transient failures and
// decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.cfg.BaseURL + "/" + endpoint + "?" + params.Encode()
	delay := c.cfg.RetryDelay

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.WithFields(map[string]any{
				"endpoint": endpoint,
				"attempt":  attempt,
				"delay":    delay.String(),
			}).Warnf("retrying after %v", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		start := time.Now()
		err := c.do(ctx, endpoint, u, out)
		c.metrics.ObserveAPI(endpoint, time.Since(start), err)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, endpoint, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "respectaso/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, ErrMalformed)
}
