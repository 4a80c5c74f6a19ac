package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/ductile-ci/internal/results"
)

// handleHealthz handles GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runners:       len(snap.Runners),
		Pending:       len(snap.Pending),
		Dispatched:    len(snap.Dispatched),
	})
}

// handleRunners handles GET /runners
func (s *Server) handleRunners(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RunnersResponse{Runners: s.state.Snapshot().Runners})
}

// handleCommits handles GET /commits
func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()
	dispatched := make([]DispatchedCommit, 0, len(snap.Dispatched))
	for id, runner := range snap.Dispatched {
		dispatched = append(dispatched, DispatchedCommit{CommitID: id, Runner: runner})
	}
	sort.Slice(dispatched, func(i, j int) bool { return dispatched[i].CommitID < dispatched[j].CommitID })

	respondJSON(w, http.StatusOK, CommitsResponse{Pending: snap.Pending, Dispatched: dispatched})
}

// handleRecentResults handles GET /results?limit=N
func (s *Server) handleRecentResults(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	recs, err := s.results.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	respondJSON(w, http.StatusOK, ResultsResponse{Results: recs})
}

// handleResult handles GET /results/{commitID}
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	commitID := chi.URLParam(r, "commitID")
	rec, err := s.results.Latest(r.Context(), commitID)
	if err != nil {
		s.writeResultError(w, commitID, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleResultPayload handles GET /results/{commitID}/payload
func (s *Server) handleResultPayload(w http.ResponseWriter, r *http.Request) {
	commitID := chi.URLParam(r, "commitID")
	payload, err := s.results.Payload(r.Context(), commitID)
	if err != nil {
		s.writeResultError(w, commitID, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) writeResultError(w http.ResponseWriter, commitID string, err error) {
	switch {
	case errors.Is(err, results.ErrInvalidCommitID):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, results.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "no results for commit "+commitID)
	default:
		s.logger.Error("failed to read result", "commit_id", commitID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read result")
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
