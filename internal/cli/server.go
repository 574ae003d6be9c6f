package cli

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/KafClaw/sysclaw/internal/servicelog"
	"github.com/KafClaw/sysclaw/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultLogLimit = 50

// statusServer exposes health, metrics and the service log tail.
type statusServer struct {
	router   *chi.Mux
	registry *prometheus.Registry
	store    *store.Store
	logPath  string
	logger   *slog.Logger
}

func newStatusServer(reg *prometheus.Registry, st *store.Store, logPath string, logger *slog.Logger) *statusServer {
	s := &statusServer{
		router:   chi.NewRouter(),
		registry: reg,
		store:    st,
		logPath:  logPath,
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *statusServer) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/log", s.handleLog)
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleLog returns the newest records first. Without a store the file is
// read directly.
func (s *statusServer) handleLog(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	outcome := servicelog.Outcome(r.URL.Query().Get("outcome"))

	var (
		recs []servicelog.Record
		err  error
	)
	if s.store != nil {
		recs, err = s.store.ServiceLog(r.Context(), limit, outcome)
	} else {
		recs, err = newestFromFile(s.logPath, limit, outcome)
	}
	if err != nil {
		s.logger.Error("Service log read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []servicelog.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// newestFromFile matches the store's ordering: newest first, filter
// applied before the limit.
func newestFromFile(path string, limit int, outcome servicelog.Outcome) ([]servicelog.Record, error) {
	all, err := servicelog.Tail(path, 0)
	if err != nil {
		return nil, err
	}
	var out []servicelog.Record
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if outcome == "" || all[i].Outcome == outcome {
			out = append(out, all[i])
		}
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
