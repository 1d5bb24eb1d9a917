package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/xid"
)

// RequestIDHeader carries the request id on responses.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// requestID tags every request with an id, reusing the caller's when set.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = xid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RequestIDFrom returns the id set by the request id middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// observe logs each request and records it in the HTTP metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		log := s.log.WithFields(map[string]any{
			"request_id": RequestIDFrom(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"duration":   elapsed.String(),
		})
		switch {
		case status >= 500:
			log.Error("request failed")
		case route == "/health" || route == "/metrics":
			log.Debug("request")
		default:
			log.Info("request")
		}
	})
}
