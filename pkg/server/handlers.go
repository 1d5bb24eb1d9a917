package server

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/respectlytics/respectaso/internal/research"
	"github.com/respectlytics/respectaso/internal/store"
	"github.com/respectlytics/respectaso/pkg/itunes"
	"github.com/respectlytics/respectaso/pkg/scan"
)

var (
	errBadRequest = errors.New("bad request")
	errNoCatalog  = errors.New("app store client not configured")
)

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func handler(f func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := f(w, r); err != nil {
			writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		}
	}
}

func statusFor(err error) int {
	var (
		statusErr *itunes.StatusError
		invalid   validator.ValidationErrors
	)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, itunes.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.As(err, &invalid),
		errors.Is(err, research.ErrNoKeywords),
		errors.Is(err, itunes.ErrInvalidCountry),
		errors.Is(err, itunes.ErrUnknownChart),
		errors.Is(err, scan.ErrEmptyKeyword),
		errors.Is(err, scan.ErrTooManyCountries):
		return http.StatusBadRequest
	case errors.As(err, &statusErr), errors.Is(err, itunes.ErrMalformed):
		return http.StatusBadGateway
	case errors.Is(err, errNoCatalog):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return s.validate.Struct(v)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) error {
	var req research.Request
	if err := s.decode(r, &req); err != nil {
		return err
	}
	resp, err := s.research.Research(r.Context(), req)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

type opportunityRequest struct {
	scan.Request
	AppID *int64 `json:"app_id,omitempty"`
	// Save stores the selected countries (all when empty) in history.
	Save          bool     `json:"save,omitempty"`
	SaveCountries []string `json:"save_countries,omitempty" validate:"dive,len=2"`
}

func (s *Server) handleOpportunity(w http.ResponseWriter, r *http.Request) error {
	var req opportunityRequest
	if err := s.decode(r, &req); err != nil {
		return err
	}
	report, err := s.research.Opportunity(r.Context(), req.Request, req.AppID)
	if err != nil {
		return err
	}

	out := map[string]any{"data": report}
	if best, ok := report.Best(); ok {
		out["best_country"] = best.Country
	}
	if req.Save {
		saved, err := s.research.SaveOpportunity(r.Context(), report, req.AppID, lowerAll(req.SaveCountries))
		if err != nil {
			return err
		}
		out["saved"] = saved
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(v)
	}
	return out
}

// filterFrom reads app_id (a number or "none"), country, limit and full.
func filterFrom(r *http.Request) (store.ResultFilter, error) {
	q := r.URL.Query()
	var f store.ResultFilter

	switch app := q.Get("app_id"); app {
	case "":
	case "none":
		f.NoApp = true
	default:
		id, err := strconv.ParseInt(app, 10, 64)
		if err != nil {
			return f, badRequest("invalid app_id %q", app)
		}
		f.AppID = &id
	}
	if c := q.Get("country"); c != "" {
		code, err := itunes.NormalizeCountry(c)
		if err != nil {
			return f, err
		}
		f.Country = code
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return f, badRequest("invalid limit %q", l)
		}
		f.Limit = n
	}
	f.Full = q.Get("full") == "true"
	return f, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) error {
	f, err := filterFrom(r)
	if err != nil {
		return err
	}
	var results []store.Result
	if r.URL.Query().Get("all") == "true" {
		results, err = s.store.ListResults(r.Context(), f)
	} else {
		results, err = s.store.LatestResults(r.Context(), f)
	}
	if err != nil {
		return err
	}

	movements, err := s.trends.Detect(r.Context(), results)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":      results,
		"count":     len(results),
		"movements": movements,
	})
	return nil
}

var exportHeader = []string{
	"Keyword", "App", "Country", "Popularity", "Difficulty", "Difficulty Label",
	"Classification", "Opportunity", "Rank", "Competitors", "Date",
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) error {
	f, err := filterFrom(r)
	if err != nil {
		return err
	}
	results, err := s.store.LatestResults(r.Context(), f)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="respectaso-history.csv"`)
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, res := range results {
		rank := ""
		if res.AppRank != nil {
			rank = strconv.Itoa(*res.AppRank)
		}
		row := []string{
			res.Keyword,
			res.AppName,
			strings.ToUpper(res.Country),
			strconv.Itoa(res.Popularity),
			strconv.Itoa(res.Difficulty),
			res.DifficultyLabel,
			res.Classification,
			strconv.Itoa(res.Opportunity),
			rank,
			strconv.Itoa(res.CompetitorCount),
			res.SearchedAt.Format("2006-01-02 15:04"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) error {
	used, err := s.store.Countries(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history":   used,
		"supported": scan.DefaultCountries,
	})
	return nil
}

func (s *Server) handleKeywordTrend(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	country, err := itunes.NormalizeCountry(cmp.Or(r.URL.Query().Get("country"), "us"))
	if err != nil {
		return err
	}
	series, err := s.trends.Series(r.Context(), id, country)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, series)
	return nil
}

func (s *Server) handleKeywordRefresh(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	out, err := s.research.Refresh(r.Context(), id, cmp.Or(r.URL.Query().Get("country"), "us"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (s *Server) handleDeleteKeyword(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.store.DeleteKeyword(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// handleDeleteKeywords clears history for one app (app_id) or everything.
func (s *Server) handleDeleteKeywords(w http.ResponseWriter, r *http.Request) error {
	f, err := filterFrom(r)
	if err != nil {
		return err
	}
	if f.AppID == nil && r.URL.Query().Get("confirm") != "true" {
		return badRequest("deleting all keywords requires confirm=true")
	}
	n, err := s.store.DeleteKeywords(r.Context(), f.AppID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	return nil
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	res, err := s.store.GetResult(r.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.store.DeleteResult(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) error {
	apps, err := s.store.ListApps(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": apps, "count": len(apps)})
	return nil
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) error {
	var app store.App
	if err := s.decode(r, &app); err != nil {
		return err
	}
	if err := s.store.CreateApp(r.Context(), &app); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, app)
	return nil
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.store.DeleteApp(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

var appURLPattern = regexp.MustCompile(`/id(\d+)`)

// parseTrackID accepts a bare track id or an App Store URL.
func parseTrackID(q string) (int64, bool) {
	q = strings.TrimSpace(q)
	if m := appURLPattern.FindStringSubmatch(q); m != nil {
		q = m[1]
	}
	id, err := strconv.ParseInt(q, 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) error {
	if s.catalog == nil {
		return errNoCatalog
	}
	q := r.URL.Query()
	country := cmp.Or(q.Get("country"), "us")

	id, ok := parseTrackID(q.Get("q"))
	if !ok {
		return badRequest("q must be an app id or App Store URL")
	}
	app, err := s.catalog.Lookup(r.Context(), id, country)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, app)
	return nil
}

func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) error {
	if s.catalog == nil {
		return errNoCatalog
	}
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			return badRequest("invalid limit %q", l)
		}
		limit = n
	}
	kind := itunes.ChartKind(cmp.Or(q.Get("kind"), string(itunes.ChartFree)))

	entries, err := s.catalog.TopChart(r.Context(), kind, cmp.Or(q.Get("country"), "us"), limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries, "count": len(entries)})
	return nil
}
