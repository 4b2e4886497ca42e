package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/persona/internal/config"
	"github.com/lazypower/persona/internal/ingest"
	"github.com/lazypower/persona/internal/lifecycle"
	"github.com/lazypower/persona/internal/store"
)

// Server is the persona HTTP API server. It exposes event intake, the
// recall contract, job triggers, and budget reports.
type Server struct {
	db         *store.DB
	classifier *ingest.Classifier
	cfg        config.Config
	router     chi.Router
	version    string
	started    time.Time

	// weights is the live signal blend. Handlers run on separate
	// goroutines, so every read takes a snapshot under the lock.
	weightsMu sync.RWMutex
	weights   lifecycle.Weights
}

// New creates a new Server.
func New(db *store.DB, classifier *ingest.Classifier, cfg config.Config, version string) *Server {
	s := &Server{
		db:         db,
		classifier: classifier,
		cfg:        cfg,
		version:    version,
		started:    time.Now(),
		weights:    cfg.Weights.Normalize(),
	}
	s.routes()
	return s
}

// currentWeights returns a copy of the live signal blend.
func (s *Server) currentWeights() lifecycle.Weights {
	s.weightsMu.RLock()
	defer s.weightsMu.RUnlock()
	return s.weights
}

// adaptWeights applies one clamped feedback step and returns the new
// blend.
func (s *Server) adaptWeights(delta lifecycle.Weights) lifecycle.Weights {
	s.weightsMu.Lock()
	defer s.weightsMu.Unlock()
	s.weights = s.weights.Adapt(delta, 0.05)
	return s.weights
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/events", s.handleIngestEvent)
		r.Get("/recall", s.handleRecall)
		r.Get("/memories/{memoryID}", s.handleGetMemory)
		r.Post("/memories/{memoryID}/activate", s.handleActivateMemory)

		r.Post("/jobs/decay", s.handleDecayJob)
		r.Post("/jobs/compress", s.handleCompressJob)
		r.Post("/jobs/archive", s.handleArchiveJob)

		r.Post("/weights/adapt", s.handleAdaptWeights)

		r.Get("/budget", s.handleBudget)
		r.Get("/budget/estimate", s.handleEstimateCost)
		r.Get("/segments/verify", s.handleVerifySegment)
		r.Get("/segments/archived", s.handleLookupArchived)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure logs the underlying error and answers with a stable
// reason string. Raw error text stays server-side.
func writeFailure(w http.ResponseWriter, status int, reason string, err error) {
	log.Printf("%s: %v", reason, err)
	writeError(w, status, reason)
}
