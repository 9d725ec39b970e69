// Package server adapts the engine's in-process operations to the HTTP wire
// format the explorer client speaks.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clincohort/cohort-explorer/internal/engine"
	"github.com/clincohort/cohort-explorer/internal/terms"
	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
	"github.com/clincohort/cohort-explorer/pkg/logger"
)

// Handler serves the cohort API routes.
type Handler struct {
	engine       *engine.Engine
	defaultLimit int
	logger       *slog.Logger
}

// New creates a Handler over an engine.
func New(eng *engine.Engine, defaultLimit int) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = terms.DefaultLimit
	}
	return &Handler{
		engine:       eng,
		defaultLimit: defaultLimit,
		logger:       slog.Default().With("component", "cohort-handler"),
	}
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /keywords", h.Keywords)
	mux.HandleFunc("POST /get_query_result", h.QueryResult)
	mux.HandleFunc("POST /get_filter_result", h.FilterResult)
	mux.HandleFunc("POST /get_age", h.Age)
	mux.HandleFunc("POST /get_top_terms", h.TopTerms)
	mux.HandleFunc("POST /compare_query", h.CompareQuery)
	mux.HandleFunc("POST /remove_result", h.RemoveResult)
}

// Keywords serves concept autocomplete over free text.
func (h *Handler) Keywords(w http.ResponseWriter, r *http.Request) {
	var req keywordsRequest
	if !h.decode(w, r, &req) {
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = h.defaultLimit
	}
	matches := h.engine.SearchConcepts(r.Context(), req.Text, limit)
	if matches == nil {
		matches = []terms.Match{}
	}
	h.writeJSON(w, http.StatusOK, matches)
}

// QueryResult evaluates a cohort definition and caches it under the qid.
func (h *Handler) QueryResult(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req queryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.QID == "" {
		h.writeError(w, http.StatusBadRequest, "qid is required")
		return
	}

	cohortReq, err := buildCohortRequest(h.engine, req)
	if err != nil {
		h.writeAppError(w, log, err)
		return
	}
	result, err := h.engine.EvaluateCohort(r.Context(), cohortReq)
	if err != nil {
		h.writeAppError(w, log, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"qid":          req.QID,
		"query_result": result,
	})
}

// FilterResult serves facet counts for the cached cohort.
func (h *Handler) FilterResult(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	ageSel, err := parseAgeSelection(req.Filter.Age)
	if err != nil {
		h.writeAppError(w, log, err)
		return
	}
	counts, err := h.engine.FacetCounts(r.Context(), req.QID, ageSel)
	if err != nil {
		h.writeAppError(w, log, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"qid": req.QID,
		"filter_result": map[string]any{
			// Placeholder block the client renders alongside the counts.
			"time":      map[string]string{"0": "", "1": "", "2": "", "3": ""},
			"gender":    counts.Sex,
			"alive":     counts.Vital,
			"age":       counts.Age,
			"ethnicity": counts.Ethnicity,
		},
	})
}

// Age serves the cohort age histogram.
func (h *Handler) Age(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	bins, err := h.engine.AgeHistogram(r.Context(), req.QID)
	if err != nil {
		h.writeAppError(w, log, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"qid": req.QID, "data": bins})
}

// TopTerms serves the top-concept treemap for the cached cohort.
func (h *Handler) TopTerms(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	groups, top, err := h.engine.TopConcepts(r.Context(), req.QID)
	if err != nil {
		h.writeAppError(w, log, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"qid":        req.QID,
		"data":       groups,
		"result_arr": top,
	})
}

// CompareQuery counts cohort members against ad-hoc reference concepts.
func (h *Handler) CompareQuery(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	var req compareRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.engine.CompareConcepts(r.Context(), req.QID, buildComparisons(h.engine, req.CompareQuery))
	if err != nil {
		h.writeAppError(w, log, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"qid": req.QID, "data": results})
}

// RemoveResult drops the cached cohort for a qid.
func (h *Handler) RemoveResult(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.engine.RemoveSession(req.QID)
	h.writeJSON(w, http.StatusOK, map[string]string{"qid": req.QID, "msg": "OK"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) writeAppError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
		h.writeError(w, status, "internal error")
		return
	}
	if errors.Is(err, apperrors.ErrNoCohort) {
		h.writeJSON(w, status, map[string]string{"error": "no prior query for session"})
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
