package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mikeyg42/sentryvision/internal/audit"
	"github.com/mikeyg42/sentryvision/internal/escalate"
	"github.com/mikeyg42/sentryvision/internal/framebuf"
)

// Analyzer is the escalation engine surface the handlers need.
type Analyzer interface {
	AnalyzeSource(ctx context.Context, client, source string) (escalate.IncidentAnalysis, error)
	AnalyzeBatch(ctx context.Context, client string, sources []string) ([]escalate.IncidentAnalysis, escalate.BatchSummary, error)
	EvidenceWindow(client, source string) ([]framebuf.Frame, error)
}

type analyzeRequest struct {
	ClientID string   `json:"client_id"`
	Sources  []string `json:"sources,omitempty"`
}

type analyzeResponse struct {
	Results []escalate.IncidentAnalysis `json:"results"`
	Summary escalate.BatchSummary       `json:"summary"`
}

// AnalysisHandler runs on-demand batch analysis and serves the stored
// incident history.
type AnalysisHandler struct {
	engine Analyzer
	audit  *audit.Store
	logger *zap.Logger
}

func NewAnalysisHandler(engine Analyzer, auditStore *audit.Store) *AnalysisHandler {
	return &AnalysisHandler{
		engine: engine,
		audit:  auditStore,
		logger: zap.L().Named("api-analyze"),
	}
}

func (h *AnalysisHandler) RegisterRoutes(mux *http.ServeMux, rl *RateLimiter) {
	mux.HandleFunc("/api/v1/analyze", rl.Middleware(h.handleAnalyze))
	mux.HandleFunc("/api/v1/incidents", h.handleIncidents)
}

func (h *AnalysisHandler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	results, summary, err := h.engine.AnalyzeBatch(r.Context(), req.ClientID, req.Sources)
	if err != nil {
		if errors.Is(err, framebuf.ErrUnknownSource) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for _, a := range results {
		if err := h.audit.RecordAnalysis(r.Context(), a); err != nil {
			h.logger.Warn("audit write failed", zap.String("alert_id", a.AlertID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Results: results, Summary: summary})
}

func (h *AnalysisHandler) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client_id query parameter is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rows, err := h.audit.RecentIncidents(r.Context(), clientID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []audit.IncidentRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": rows})
}
