package itunes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// ChartKind selects one of the App Store top charts.
type ChartKind string

const (
	ChartFree     ChartKind = "free"
	ChartPaid     ChartKind = "paid"
	ChartGrossing ChartKind = "grossing"
)

var chartFeeds = map[ChartKind]string{
	ChartFree:     "topfreeapplications",
	ChartPaid:     "toppaidapplications",
	ChartGrossing: "topgrossingapplications",
}

// ChartEntry is one app on a top chart.
type ChartEntry struct {
	Rank     int    `json:"rank"`
	TrackID  int64  `json:"track_id"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	Category string `json:"category"`
	Price    string `json:"price"`
	URL      string `json:"url"`
	IconURL  string `json:"icon_url,omitempty"`
}

// ErrUnknownChart is returned for a chart kind with no feed.
var ErrUnknownChart = errors.New("unknown chart")

var trackIDPattern = regexp.MustCompile(`/id(\d+)`)

// TopChart fetches up to limit entries of a country's top chart.
func (c *Client) TopChart(ctx context.Context, kind ChartKind, country string, limit int) ([]ChartEntry, error) {
	feed, ok := chartFeeds[kind]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownChart, kind)
	}
	country, err := NormalizeCountry(country)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := fmt.Sprintf("%s/%s/rss/%s/limit=%d/xml", c.cfg.BaseURL, country, feed, limit)
	start := time.Now()
	entries, err := c.fetchChart(ctx, u)
	c.metrics.ObserveAPI("chart", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("fetch %s chart for %s: %w", kind, country, err)
	}
	return entries, nil
}

func (c *Client) fetchChart(ctx context.Context, u string) ([]ChartEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "respectaso/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Endpoint: "chart", StatusCode: resp.StatusCode}
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	entries := make([]ChartEntry, 0, len(parsed.Items))
	for i, item := range parsed.Items {
		e := ChartEntry{
			Rank:   i + 1,
			Name:   imValue(item, "name"),
			Artist: imValue(item, "artist"),
			Price:  imValue(item, "price"),
			URL:    item.Link,
		}
		if e.Name == "" {
			e.Name = item.Title
		}
		if e.URL == "" && len(item.Links) > 0 {
			e.URL = item.Links[0]
		}
		if len(item.Categories) > 0 {
			e.Category = item.Categories[0]
		}
		if imgs := imExtensions(item, "image"); len(imgs) > 0 {
			e.IconURL = strings.TrimSpace(imgs[len(imgs)-1].Value)
		}
		for _, s := range []string{item.GUID, e.URL} {
			if m := trackIDPattern.FindStringSubmatch(s); m != nil {
				e.TrackID, _ = strconv.ParseInt(m[1], 10, 64)
				break
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func imExtensions(item *gofeed.Item, name string) []ext.Extension {
	if item.Extensions == nil {
		return nil
	}
	return item.Extensions["im"][name]
}

func imValue(item *gofeed.Item, name string) string {
	exts := imExtensions(item, name)
	if len(exts) == 0 {
		return ""
	}
	return strings.TrimSpace(exts[0].Value)
}
