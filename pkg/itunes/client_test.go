package itunes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchBody = `{
  "resultCount": 3,
  "results": [
    {"trackId": 111, "trackName": "Habit Tracker", "userRatingCount": 52000,
     "averageUserRating": 4.7, "sellerName": "Acme", "primaryGenreName": "Productivity",
     "releaseDate": "2019-03-01T08:00:00Z", "currentVersionReleaseDate": "2025-01-10T08:00:00Z",
     "formattedPrice": "Free", "bundleId": "com.acme.habits",
     "trackViewUrl": "https://apps.apple.com/us/app/habit-tracker/id111",
     "artworkUrl100": "https://example.com/111.png", "description": "%s"},
    {"trackId": 222, "trackName": "Streaks", "userRatingCount": 9000, "sellerName": "Crunchy"},
    {"trackId": 333, "trackName": "Daily Habits", "userRatingCount": 150, "formattedPrice": "$2.99"}
  ]
}`

func testClient(t *testing.T, h http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := Config{
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, nil, nil)
}

func TestSearch(t *testing.T) {
	long := strings.Repeat("a", 250)
	var got *http.Request
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		fmt.Fprintf(w, searchBody, long)
	})

	apps, err := c.Search(context.Background(), " habit tracker ", "US", 0)
	require.NoError(t, err)
	require.Len(t, apps, 3)

	assert.Equal(t, "/search", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "habit tracker", q.Get("term"))
	assert.Equal(t, "us", q.Get("country"))
	assert.Equal(t, "software", q.Get("entity"))
	assert.Equal(t, "25", q.Get("limit"))

	first := apps[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, int64(111), first.TrackID)
	assert.Equal(t, int64(52000), first.RatingCount)
	assert.Equal(t, "Acme", first.Publisher)
	assert.Equal(t, 2019, first.ReleaseDate.Year())
	assert.Equal(t, "com.acme.habits", first.BundleID)
	assert.Equal(t, strings.Repeat("a", 200)+"...", first.Description)

	assert.Equal(t, 3, apps[2].Rank)
	assert.Equal(t, "$2.99", apps[2].Price)
	assert.Equal(t, "Free", apps[1].Price)
	assert.True(t, apps[1].ReleaseDate.IsZero())
}

func TestSearch_Cached(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintf(w, searchBody, "")
	}, func(cfg *Config) { cfg.CacheTTL = time.Minute })

	a, err := c.Search(context.Background(), "habit", "us", 10)
	require.NoError(t, err)
	a[0].Title = "mutated"

	b, err := c.Search(context.Background(), "HABIT", "us", 10)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "Habit Tracker", b[0].Title)
}

func TestSearch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, searchBody, "")
	})

	apps, err := c.Search(context.Background(), "habit", "us", 0)
	require.NoError(t, err)
	assert.Len(t, apps, 3)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_StatusError(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.Search(context.Background(), "habit", "us", 0)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.False(t, se.Retryable())
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Search(context.Background(), "habit", "us", 0)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearch_Malformed(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"results": [`))
	})

	_, err := c.Search(context.Background(), "habit", "us", 0)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_InvalidInput(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	for _, country := range []string{"", "usa", "u1", "12"} {
		_, err := c.Search(context.Background(), "habit", country, 0)
		assert.ErrorIs(t, err, ErrInvalidCountry, country)
	}
	_, err := c.Search(context.Background(), "   ", "us", 0)
	assert.Error(t, err)
}

func TestFindAppRank(t *testing.T) {
	var limit string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		limit = r.URL.Query().Get("limit")
		fmt.Fprintf(w, searchBody, "")
	})

	rank, err := c.FindAppRank(context.Background(), "habit", 333, "us")
	require.NoError(t, err)
	assert.Equal(t, 3, rank)
	assert.Equal(t, "200", limit)

	rank, err = c.FindAppRank(context.Background(), "habit", 999, "us")
	require.NoError(t, err)
	assert.Zero(t, rank)
}

func TestLookup(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lookup", r.URL.Path)
		if r.URL.Query().Get("id") == "111" {
			fmt.Fprintf(w, searchBody, "")
			return
		}
		w.Write([]byte(`{"resultCount": 0, "results": []}`))
	})

	app, err := c.Lookup(context.Background(), 111, "gb")
	require.NoError(t, err)
	assert.Equal(t, "Habit Tracker", app.Title)

	_, err = c.Lookup(context.Background(), 5, "gb")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch_ContextCancelled(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, func(cfg *Config) { cfg.RetryDelay = time.Hour })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Search(ctx, "habit", "us", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
