package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/persona/internal/archive"
	"github.com/lazypower/persona/internal/economics"
	"github.com/lazypower/persona/internal/engine"
	"github.com/lazypower/persona/internal/ingest"
	"github.com/lazypower/persona/internal/lifecycle"
	"github.com/lazypower/persona/internal/store"
)

// recallRow is the outbound contract for the recall/ranking collaborator.
// Rows that are soft-deleted or excluded never reach this shape: the FTS
// index does not contain them.
type recallRow struct {
	ID               string  `json:"id"`
	MemoryType       string  `json:"memoryType"`
	Content          string  `json:"content"`
	Salience         float64 `json:"salience"`
	Score            float64 `json:"score"`
	State            string  `json:"state"`
	SpeakerRelation  string  `json:"speakerRelation"`
	EvidenceLevel    string  `json:"evidenceLevel"`
	CredibilityScore float64 `json:"credibilityScore"`
}

func toRecallRow(m *store.Memory) recallRow {
	return recallRow{
		ID:               m.ID,
		MemoryType:       m.MemoryType,
		Content:          m.Content,
		Salience:         m.Salience,
		Score:            m.Salience,
		State:            m.State,
		SpeakerRelation:  m.SpeakerRelation,
		EvidenceLevel:    m.EvidenceLevel,
		CredibilityScore: m.CredibilityScore,
	}
}

func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if ev.Hash == "" {
		writeError(w, http.StatusBadRequest, "hash required")
		return
	}

	m, err := s.classifier.Ingest(s.db, ev)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "ingest_failed", err)
		return
	}
	if m == nil {
		writeJSON(w, http.StatusOK, map[string]any{"stored": false})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"stored": true,
		"memory": toRecallRow(m),
	})
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	memories, err := s.db.SearchMemories(query, limit)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "store_error", err)
		return
	}

	// Near-duplicate hits interfere: the lower-ranked of two heavily
	// overlapping memories is suppressed before the set leaves the API.
	byID := make(map[string]*store.Memory, len(memories))
	candidates := make([]engine.RecallCandidate, 0, len(memories))
	for i := range memories {
		m := &memories[i]
		byID[m.ID] = m
		candidates = append(candidates, engine.RecallCandidate{
			ID:      m.ID,
			Content: m.Content,
			Score:   m.Salience,
			TS:      m.LastActivatedAt,
		})
	}
	adjusted := engine.ApplyInterference(candidates, engine.InterferenceOptions{})

	rows := make([]recallRow, 0, len(adjusted))
	for _, c := range adjusted {
		row := toRecallRow(byID[c.ID])
		row.Score = c.Score
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": rows})
}

// handleActivateMemory records a use of the memory: activation count,
// timestamp, salience, and state move together in one store update.
func (s *Server) handleActivateMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")
	m, err := s.db.GetMemory(id)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "store_error", err)
		return
	}
	if m == nil || m.DeletedAt != nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}

	if err := lifecycle.UpdateActivation(s.db, m, time.Now(), s.currentWeights()); err != nil {
		writeFailure(w, http.StatusInternalServerError, "store_error", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecallRow(m))
}

// handleAdaptWeights nudges the salience signal blend from feedback. The
// step is clamped; repeated calls converge instead of swinging.
func (s *Server) handleAdaptWeights(w http.ResponseWriter, r *http.Request) {
	var delta lifecycle.Weights
	if err := json.NewDecoder(r.Body).Decode(&delta); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	writeJSON(w, http.StatusOK, s.adaptWeights(delta))
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "memoryID")
	m, err := s.db.GetMemory(id)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "store_error", err)
		return
	}
	if m == nil || m.DeletedAt != nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, toRecallRow(m))
}

func (s *Server) handleDecayJob(w http.ResponseWriter, r *http.Request) {
	opts := s.cfg.Decay
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	report, err := engine.RunDecay(s.db, opts)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "job_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCompressJob(w http.ResponseWriter, r *http.Request) {
	opts := s.cfg.Compress
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	report, err := engine.RunCompression(s.db, opts)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "job_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleArchiveJob(w http.ResponseWriter, r *http.Request) {
	opts := s.cfg.Archive
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	report, err := archive.Run(s.db, opts)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "job_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	report, err := economics.InspectBudget(s.db)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "report_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEstimateCost(w http.ResponseWriter, r *http.Request) {
	tier := r.URL.Query().Get("tier")
	length, _ := strconv.Atoi(r.URL.Query().Get("length"))
	writeJSON(w, http.StatusOK, economics.EstimateMemoryCosts(tier, length))
}

// handleLookupArchived retrieves one archived memory line from a segment
// file, byte-for-byte as it was written.
func (s *Server) handleLookupArchived(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	id := r.URL.Query().Get("id")
	if key == "" || id == "" {
		writeError(w, http.StatusBadRequest, "key and id required")
		return
	}

	m, err := archive.LookupArchived(s.db, key, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, m)
	case errors.Is(err, store.ErrIntegrity):
		writeError(w, http.StatusConflict, "integrity")
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "segment file missing")
	default:
		writeFailure(w, http.StatusNotFound, "not_found", err)
	}
}

func (s *Server) handleVerifySegment(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}

	report, err := archive.VerifySegment(s.db, key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, store.ErrIntegrity):
		// Damaged, not lost: the file exists but fails verification.
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "integrity",
			"report": report,
		})
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "segment file missing")
	default:
		writeFailure(w, http.StatusInternalServerError, "verify_failed", err)
	}
}
