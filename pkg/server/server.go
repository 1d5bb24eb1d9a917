package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/respectlytics/respectaso/internal/research"
	"github.com/respectlytics/respectaso/internal/scheduler"
	"github.com/respectlytics/respectaso/internal/store"
	"github.com/respectlytics/respectaso/pkg/aso"
	"github.com/respectlytics/respectaso/pkg/itunes"
	"github.com/respectlytics/respectaso/pkg/logger"
	"github.com/respectlytics/respectaso/pkg/metrics"
	"github.com/respectlytics/respectaso/pkg/trend"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Catalog is the App Store surface used by lookup and chart routes.
type Catalog interface {
	Lookup(ctx context.Context, trackID int64, country string) (*aso.CompetitorRecord, error)
	TopChart(ctx context.Context, kind itunes.ChartKind, country string, limit int) ([]itunes.ChartEntry, error)
}

// StatusSource reports background refresh progress.
type StatusSource interface {
	Status() scheduler.Status
}

// Deps are the services the API is built on. Catalog and Status may be nil.
type Deps struct {
	Store    store.Store
	Research *research.Service
	Trends   *trend.Engine
	Catalog  Catalog
	Status   StatusSource
	Metrics  *metrics.Manager
	Log      *logger.Logger
}

// Server provides the HTTP API.
type Server struct {
	store    store.Store
	research *research.Service
	trends   *trend.Engine
	catalog  Catalog
	status   StatusSource
	metrics  *metrics.Manager
	log      *logger.Logger
	validate *validator.Validate
	port     int
}

// New creates a new HTTP server.
func New(d Deps, port int) *Server {
	if port == 0 {
		port = 8080
	}
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	trends := d.Trends
	if trends == nil {
		trends = trend.NewEngine(d.Store, trend.DefaultThresholds())
	}
	return &Server{
		store:    d.Store,
		research: d.Research,
		trends:   trends,
		catalog:  d.Catalog,
		status:   d.Status,
		metrics:  d.Metrics,
		log:      log.Named("server"),
		validate: validator.New(),
		port:     port,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", handler(s.handleSearch))
		r.Post("/opportunity", handler(s.handleOpportunity))

		r.Get("/history", handler(s.handleHistory))
		r.Get("/history/export", handler(s.handleExport))
		r.Get("/countries", handler(s.handleCountries))

		r.Route("/keywords/{id}", func(r chi.Router) {
			r.Get("/trend", handler(s.handleKeywordTrend))
			r.Post("/refresh", handler(s.handleKeywordRefresh))
			r.Delete("/", handler(s.handleDeleteKeyword))
		})
		r.Delete("/keywords", handler(s.handleDeleteKeywords))

		r.Get("/results/{id}", handler(s.handleGetResult))
		r.Delete("/results/{id}", handler(s.handleDeleteResult))

		r.Get("/apps", handler(s.handleListApps))
		r.Post("/apps", handler(s.handleCreateApp))
		r.Delete("/apps/{id}", handler(s.handleDeleteApp))

		r.Get("/lookup", handler(s.handleLookup))
		r.Get("/charts", handler(s.handleCharts))
		r.Get("/refresh/status", s.handleRefreshStatus)
	})
	return r
}

// ListenAndServe serves the API until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("respectaso server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, scheduler.Status{})
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
