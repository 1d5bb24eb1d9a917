package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/respectlytics/respectaso/internal/research"
	"github.com/respectlytics/respectaso/internal/scheduler"
	"github.com/respectlytics/respectaso/internal/store"
	"github.com/respectlytics/respectaso/pkg/aso"
	"github.com/respectlytics/respectaso/pkg/itunes"
	"github.com/respectlytics/respectaso/pkg/metrics"
	"github.com/respectlytics/respectaso/pkg/scan"
)

type fakeAppStore struct{}

func (fakeAppStore) Search(_ context.Context, keyword, _ string, _ int) ([]aso.CompetitorRecord, error) {
	out := make([]aso.CompetitorRecord, 8)
	for i := range out {
		out[i] = aso.CompetitorRecord{
			TrackID:       int64(100 + i),
			Title:         fmt.Sprintf("%s %d", keyword, i),
			AverageRating: 4.5,
			RatingCount:   int64(2000 * (8 - i)),
			Publisher:     fmt.Sprintf("Dev %d", i),
			ReleaseDate:   time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
			Rank:          i + 1,
		}
	}
	return out, nil
}

func (fakeAppStore) FindAppRank(context.Context, string, int64, string) (int, error) {
	return 4, nil
}

func (fakeAppStore) Lookup(_ context.Context, trackID int64, _ string) (*aso.CompetitorRecord, error) {
	if trackID != 389801252 {
		return nil, itunes.ErrNotFound
	}
	return &aso.CompetitorRecord{TrackID: trackID, Title: "Instagram"}, nil
}

func (fakeAppStore) TopChart(_ context.Context, kind itunes.ChartKind, _ string, _ int) ([]itunes.ChartEntry, error) {
	if kind != itunes.ChartFree {
		return nil, fmt.Errorf("%w %q", itunes.ErrUnknownChart, kind)
	}
	return []itunes.ChartEntry{{Rank: 1, TrackID: 1, Name: "Top App"}}, nil
}

type fixedStatus struct{}

func (fixedStatus) Status() scheduler.Status {
	return scheduler.Status{Running: true, Total: 3, Completed: 1, CurrentKeyword: "budget (US)"}
}

func newTestServer(t *testing.T) (*httptest.Server, *metrics.Manager) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	api := fakeAppStore{}
	m := metrics.New()
	scanner := scan.New(api, nil, scan.Config{}, nil, m)
	svc := research.New(st, api, nil, scanner, nil, research.Config{}, nil, m)

	srv := New(Deps{
		Store:    st,
		Research: svc,
		Catalog:  api,
		Status:   fixedStatus{},
		Metrics:  m,
	}, 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealthAndRequestID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set(RequestIDHeader, "abc123")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, "abc123", r2.Header.Get(RequestIDHeader))
}

func TestSearchHistoryFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	api := ts.URL + "/api/v1"

	resp, body := do(t, http.MethodPost, api+"/search", map[string]any{
		"keywords":  []string{"budget planner", "habit"},
		"countries": []string{"us", "gb"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var searched research.Response
	require.NoError(t, json.Unmarshal(body, &searched))
	require.Len(t, searched.Results, 4)
	assert.Len(t, searched.Ranking, 2)

	resp, body = do(t, http.MethodGet, api+"/history?country=gb", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		Data  []store.Result `json:"data"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Equal(t, 2, history.Count)

	resp, body = do(t, http.MethodGet, api+"/history/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	rows, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, exportHeader, rows[0])

	kwID := searched.Results[0].KeywordID
	resp, body = do(t, http.MethodGet, fmt.Sprintf("%s/keywords/%d/trend?country=us", api, kwID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"keyword":"budget planner"`)

	resultID := searched.Results[0].ResultID
	resp, _ = do(t, http.MethodGet, fmt.Sprintf("%s/results/%d", api, resultID), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, fmt.Sprintf("%s/results/%d", api, resultID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, fmt.Sprintf("%s/results/%d", api, resultID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, fmt.Sprintf("%s/keywords/%d", api, searched.Results[1].KeywordID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, api+"/keywords", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, body = do(t, http.MethodDelete, api+"/keywords?confirm=true", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"deleted"`)
}

func TestSearchValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/search", strings.NewReader("{"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/search", map[string]any{"keywords": []string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/v1/search", map[string]any{"keywords": []string{","}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/keywords/abc/trend", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApps(t *testing.T) {
	ts, _ := newTestServer(t)
	api := ts.URL + "/api/v1"

	resp, body := do(t, http.MethodPost, api+"/apps", map[string]any{"name": "Pennywise", "track_id": 42})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var app store.App
	require.NoError(t, json.Unmarshal(body, &app))
	assert.NotZero(t, app.ID)

	resp, _ = do(t, http.MethodPost, api+"/apps", map[string]any{"name": "Copy", "track_id": 42})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, api+"/apps", map[string]any{"track_id": 7})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, api+"/apps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"count":1`)

	resp, body = do(t, http.MethodPost, api+"/opportunity", map[string]any{
		"keyword":   "budget",
		"countries": []string{"us", "de"},
		"app_id":    app.ID,
		"save":      true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"saved":2`)
	assert.Contains(t, string(body), `"app_rank":4`)

	resp, _ = do(t, http.MethodDelete, fmt.Sprintf("%s/apps/%d", api, app.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, fmt.Sprintf("%s/apps/%d", api, app.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLookupChartsStatus(t *testing.T) {
	ts, _ := newTestServer(t)
	api := ts.URL + "/api/v1"

	resp, body := do(t, http.MethodGet, api+"/lookup?q=https://apps.apple.com/us/app/instagram/id389801252", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Instagram")

	resp, _ = do(t, http.MethodGet, api+"/lookup?q=1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, api+"/lookup?q=instagram", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, api+"/charts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Top App")
	resp, _ = do(t, http.MethodGet, api+"/charts?kind=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, api+"/refresh/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"current_keyword":"budget (US)"`)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	do(t, http.MethodGet, ts.URL+"/health", nil)
	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `respectaso_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestParseTrackID(t *testing.T) {
	id, ok := parseTrackID("https://apps.apple.com/gb/app/x/id123456?mt=8")
	assert.True(t, ok)
	assert.EqualValues(t, 123456, id)

	id, ok = parseTrackID(" 987 ")
	assert.True(t, ok)
	assert.EqualValues(t, 987, id)

	_, ok = parseTrackID("not an id")
	assert.False(t, ok)
}
